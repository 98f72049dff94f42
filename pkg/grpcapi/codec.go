package grpcapi

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CodecName is the gRPC content-subtype of the kernel service.
const CodecName = "cbor"

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("grpcapi: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Codec serializes kernel service messages as canonical CBOR. It implements
// google.golang.org/grpc/encoding.Codec.
type Codec struct{}

// Marshal encodes v.
func (Codec) Marshal(v interface{}) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

// Unmarshal decodes data into v.
func (Codec) Unmarshal(data []byte, v interface{}) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("grpcapi: unmarshal %T: %w", v, err)
	}
	return nil
}

// Name returns CodecName.
func (Codec) Name() string {
	return CodecName
}
