// Package codec encodes packet bundles into wire frames.
package codec

import (
	"errors"
)

var (
	errCodecNotInit = errors.New("codec not init")

	// ErrMalformedFrame is returned for bytes that are not a valid frame.
	ErrMalformedFrame = errors.New("malformed frame")

	_codec Codec = &DefaultCodec{}
)

// Codec converts between Frame and its wire bytes.
type Codec interface {
	// Encode appends the wire form of f to b.
	Encode(f *Frame, b []byte) ([]byte, error)
	// Decode parses b into f. Packet payloads may alias b.
	Decode(f *Frame, b []byte) error
}

// Encode appends the wire form of f to b with the installed codec.
func Encode(f *Frame, b []byte) ([]byte, error) {
	if _codec == nil {
		return nil, errCodecNotInit
	}
	return _codec.Encode(f, b)
}

// Decode parses b into f with the installed codec.
func Decode(f *Frame, b []byte) error {
	if _codec == nil {
		return errCodecNotInit
	}
	return _codec.Decode(f, b)
}

// SetCodec installs c as the package codec.
func SetCodec(c Codec) {
	_codec = c
}
