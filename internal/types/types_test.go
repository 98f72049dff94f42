package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestProgramID(t *testing.T) {
	a := ComputeProgramID([]byte{1, 0, 12, 0})
	b := ComputeProgramID([]byte{1, 0, 12, 1})
	if a == b {
		t.Error("distinct programs hash to the same id")
	}
	if a != ComputeProgramID([]byte{1, 0, 12, 0}) {
		t.Error("ComputeProgramID() is not deterministic")
	}
	if a.IsZero() {
		t.Error("IsZero() = true for a computed id")
	}

	parsed, err := ProgramIDFromBase58(a.String())
	if err != nil {
		t.Fatalf("ProgramIDFromBase58() failed: %v", err)
	}
	if parsed != a {
		t.Errorf("ProgramIDFromBase58() = %s, want %s", parsed, a)
	}

	if _, err := ProgramIDFromBase58("3mJr7AoUXx2Wqd"); !errors.Is(err, ErrInvalidProgramID) {
		t.Errorf("short id error = %v, want ErrInvalidProgramID", err)
	}
	if _, err := ProgramIDFromBase58("0OIl"); err == nil {
		t.Error("invalid base58 accepted")
	}
}

func TestProgramIDJSON(t *testing.T) {
	type record struct {
		ID ProgramID `json:"id"`
	}
	in := record{ID: ComputeProgramID([]byte("guppy"))}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	want := `{"id":"` + in.ID.String() + `"}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
	var out record
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if out != in {
		t.Errorf("Unmarshal() = %+v, want %+v", out, in)
	}
}

func TestDigest(t *testing.T) {
	// sha3-256 of the empty string.
	const empty = "a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a"
	if got := ComputeDigest(nil).Hex(); got != empty {
		t.Errorf("ComputeDigest(nil) = %s, want %s", got, empty)
	}

	d := ComputeDigest([]byte{1, 2, 3})
	var parsed Digest
	if err := parsed.UnmarshalText([]byte(d.String())); err != nil {
		t.Fatalf("UnmarshalText() failed: %v", err)
	}
	if parsed != d {
		t.Errorf("UnmarshalText() = %s, want %s", parsed, d)
	}
	if _, err := DigestFromBytes(make([]byte, 31)); !errors.Is(err, ErrInvalidDigest) {
		t.Errorf("DigestFromBytes(31) = %v, want ErrInvalidDigest", err)
	}
}
