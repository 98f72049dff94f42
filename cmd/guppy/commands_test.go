package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fortiblox/guppy/pkg/arraystore"
)

func TestParseFloats(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []float32
		wantErr bool
	}{
		{"empty", "", []float32{}, false},
		{"lines", "1\n2.5\n-3\n", []float32{1, 2.5, -3}, false},
		{"commas", "1, 2,3\t4", []float32{1, 2, 3, 4}, false},
		{"comment", "# header\n1 2 # tail\n", []float32{1, 2}, false},
		{"bad", "1 x", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFloats(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFloats() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseFloats() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("parseFloats()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestReadArrayFileRaw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.f32")
	if err := os.WriteFile(path, arraystore.EncodeFloats([]float32{0.25, 8}), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := readArrayFile(path)
	if err != nil {
		t.Fatalf("readArrayFile() failed: %v", err)
	}
	if len(got) != 2 || got[0] != 0.25 || got[1] != 8 {
		t.Errorf("readArrayFile() = %v", got)
	}
}

func TestPrintArray(t *testing.T) {
	var buf bytes.Buffer
	if err := printArray(&buf, []float32{1, 0.5}, false); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "1\n0.5\n" {
		t.Errorf("printArray(plain) = %q", buf.String())
	}

	buf.Reset()
	data := make([]float32, 10)
	if err := printArray(&buf, data, true); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "8:") {
		t.Errorf("printArray(table) = %q", buf.String())
	}
}
