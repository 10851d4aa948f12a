package publish

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Codec converts a payload body to the bytes carried on the topic and back.
// A deployment uses exactly one codec on both the gateway and the consumer.
type Codec interface {
	Name() string
	Encode(body []byte) ([]byte, error)
	Decode(message []byte) ([]byte, error)
}

// Encoding names accepted by ParseEncoding.
const (
	EncodingJSON   = "json"
	EncodingBase64 = "base64"
)

// ParseEncoding returns the codec for name. An empty name selects JSON.
func ParseEncoding(name string) (Codec, error) {
	switch name {
	case "", EncodingJSON:
		return JSONCodec{}, nil
	case EncodingBase64:
		return Base64Codec{}, nil
	}
	return nil, fmt.Errorf("unknown encoding %q (want %s or %s)", name, EncodingJSON, EncodingBase64)
}

// JSONCodec carries the JSON text unchanged.
type JSONCodec struct{}

func (JSONCodec) Name() string { return EncodingJSON }

func (JSONCodec) Encode(body []byte) ([]byte, error) {
	if !json.Valid(body) {
		return nil, fmt.Errorf("json codec: body is not valid JSON")
	}
	return body, nil
}

func (JSONCodec) Decode(message []byte) ([]byte, error) {
	if !json.Valid(message) {
		return nil, fmt.Errorf("json codec: message is not valid JSON")
	}
	return message, nil
}

// Base64Codec carries the JSON text base64 encoded (standard alphabet, padded).
type Base64Codec struct{}

func (Base64Codec) Name() string { return EncodingBase64 }

func (Base64Codec) Encode(body []byte) ([]byte, error) {
	if !json.Valid(body) {
		return nil, fmt.Errorf("base64 codec: body is not valid JSON")
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(body)))
	base64.StdEncoding.Encode(out, body)
	return out, nil
}

func (Base64Codec) Decode(message []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.DecodedLen(len(message)))
	n, err := base64.StdEncoding.Decode(out, message)
	if err != nil {
		return nil, fmt.Errorf("base64 codec: %w", err)
	}
	out = out[:n]
	if !json.Valid(out) {
		return nil, fmt.Errorf("base64 codec: decoded message is not valid JSON")
	}
	return out, nil
}
