package rpc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"

	"github.com/fortiblox/guppy/pkg/arraystore"
)

// EncodeBytes encodes data as [payload, encoding].
func EncodeBytes(data []byte, encoding Encoding) ([]string, error) {
	switch encoding {
	case EncodingBase58:
		return []string{base58.Encode(data), string(EncodingBase58)}, nil

	case EncodingBase64Zstd:
		compressed, err := compressZstd(data)
		if err != nil {
			return nil, fmt.Errorf("zstd compression failed: %w", err)
		}
		return []string{base64.StdEncoding.EncodeToString(compressed), string(EncodingBase64Zstd)}, nil

	default:
		return []string{base64.StdEncoding.EncodeToString(data), string(EncodingBase64)}, nil
	}
}

// DecodeBytes decodes a payload in the given encoding.
func DecodeBytes(encoded string, encoding Encoding) ([]byte, error) {
	switch encoding {
	case EncodingBase58:
		return base58.Decode(encoded)

	case EncodingBase64, "":
		return base64.StdEncoding.DecodeString(encoded)

	case EncodingBase64Zstd:
		compressed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("base64 decode failed: %w", err)
		}
		return decompressZstd(compressed)

	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

// EncodeFloats encodes an array for the wire. EncodingJSON returns the
// numbers themselves; the other encodings carry little-endian float32.
func EncodeFloats(data []float32, encoding Encoding) (interface{}, error) {
	if encoding == EncodingJSON {
		if data == nil {
			data = []float32{}
		}
		return data, nil
	}
	return EncodeBytes(arraystore.EncodeFloats(data), encoding)
}

// DecodeFloats parses an array sent as a JSON number array or as a payload
// string in a byte encoding.
func DecodeFloats(raw json.RawMessage, encoding Encoding) ([]float32, error) {
	if encoding == EncodingJSON {
		var out []float32
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("invalid number array: %w", err)
		}
		return out, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("expected encoded string: %w", err)
	}
	b, err := DecodeBytes(s, encoding)
	if err != nil {
		return nil, err
	}
	return arraystore.DecodeFloats(b)
}

// compressZstd compresses data using zstd.
func compressZstd(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

// decompressZstd decompresses zstd-compressed data.
func decompressZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}

// ParseEncoding parses an encoding string. Unknown values fall back to
// base64.
func ParseEncoding(s string) Encoding {
	switch s {
	case "base58":
		return EncodingBase58
	case "base64+zstd":
		return EncodingBase64Zstd
	case "json":
		return EncodingJSON
	default:
		return EncodingBase64
	}
}
