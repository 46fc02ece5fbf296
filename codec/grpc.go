package codec

import (
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"
)

// Name is the gRPC content-subtype the frame codec is registered under.
const Name = "comms-frame"

// RawFrame carries already encoded frame bytes through gRPC.
type RawFrame struct {
	Data []byte
}

// Ack is the reply to a frame.
//
//	message Ack { uint32 accepted = 1; }
type Ack struct {
	Accepted uint32
}

const fieldAccepted protowire.Number = 1

func init() {
	encoding.RegisterCodec(grpcCodec{})
}

// grpcCodec passes frame bytes through unchanged and encodes Ack by hand.
type grpcCodec struct{}

func (grpcCodec) Name() string {
	return Name
}

func (grpcCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *RawFrame:
		return m.Data, nil
	case *Ack:
		b := protowire.AppendTag(nil, fieldAccepted, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(m.Accepted)), nil
	default:
		return nil, fmt.Errorf("%s: cannot marshal %T", Name, v)
	}
}

func (grpcCodec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *RawFrame:
		// gRPC recycles data once Unmarshal returns.
		m.Data = append([]byte(nil), data...)
		return nil
	case *Ack:
		*m = Ack{}
		for len(data) > 0 {
			num, typ, n := protowire.ConsumeTag(data)
			if n < 0 {
				return fmt.Errorf("%w: ack: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			data = data[n:]
			if num == fieldAccepted && typ == protowire.VarintType {
				val, n := protowire.ConsumeVarint(data)
				if n < 0 {
					return fmt.Errorf("%w: ack: %v", ErrMalformedFrame, protowire.ParseError(n))
				}
				m.Accepted = uint32(val)
				data = data[n:]
				continue
			}
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: ack: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			data = data[n:]
		}
		return nil
	default:
		return fmt.Errorf("%s: cannot unmarshal into %T", Name, v)
	}
}
