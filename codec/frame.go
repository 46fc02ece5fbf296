package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the frame message.
//
//	message Frame  { uint32 lane = 1; repeated Packet packet = 2; }
//	message Packet { uint32 source = 1; fixed64 tag = 2; bytes payload = 3; }
const (
	fieldLane   protowire.Number = 1
	fieldPacket protowire.Number = 2

	fieldSource  protowire.Number = 1
	fieldTag     protowire.Number = 2
	fieldPayload protowire.Number = 3
)

// Packet is one packet as carried on the wire.
type Packet struct {
	Source  uint32
	Tag     uint64
	Payload []byte
}

// Frame is one transmitted bundle.
type Frame struct {
	Lane    uint32
	Packets []Packet
}

// Reset empties f and keeps its packet storage.
func (f *Frame) Reset() {
	for i := range f.Packets {
		f.Packets[i] = Packet{}
	}
	f.Lane = 0
	f.Packets = f.Packets[:0]
}

// Size returns the encoded length of f.
func (f *Frame) Size() int {
	n := protowire.SizeTag(fieldLane) + protowire.SizeVarint(uint64(f.Lane))
	for i := range f.Packets {
		n += protowire.SizeTag(fieldPacket) + protowire.SizeBytes(f.Packets[i].size())
	}
	return n
}

func (p *Packet) size() int {
	return protowire.SizeTag(fieldSource) + protowire.SizeVarint(uint64(p.Source)) +
		protowire.SizeTag(fieldTag) + protowire.SizeFixed64() +
		protowire.SizeTag(fieldPayload) + protowire.SizeBytes(len(p.Payload))
}

// DefaultCodec writes frames in protobuf wire format without generated code.
// The lane is always written first, so a receiver can inspect it without
// decoding the packets.
type DefaultCodec struct{}

// Encode ...
func (c *DefaultCodec) Encode(f *Frame, b []byte) ([]byte, error) {
	if need := f.Size(); cap(b)-len(b) < need {
		nb := make([]byte, len(b), len(b)+need)
		copy(nb, b)
		b = nb
	}

	b = protowire.AppendTag(b, fieldLane, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Lane))
	for i := range f.Packets {
		p := &f.Packets[i]
		b = protowire.AppendTag(b, fieldPacket, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(p.size()))
		b = protowire.AppendTag(b, fieldSource, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Source))
		b = protowire.AppendTag(b, fieldTag, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, p.Tag)
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Payload)
	}
	return b, nil
}

// Decode ...
func (c *DefaultCodec) Decode(f *Frame, b []byte) error {
	f.Reset()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldLane && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: lane: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			f.Lane = uint32(v)
			b = b[n:]
		case num == fieldPacket && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: packet: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			var p Packet
			if err := decodePacket(&p, v); err != nil {
				return err
			}
			f.Packets = append(f.Packets, p)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformedFrame, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func decodePacket(p *Packet, b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: packet tag: %v", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldSource && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: source: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			p.Source = uint32(v)
			b = b[n:]
		case num == fieldTag && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return fmt.Errorf("%w: tag: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			p.Tag = v
			b = b[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: payload: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			p.Payload = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: packet field %d: %v", ErrMalformedFrame, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// PeekLane reads the lane from the head of an encoded frame without decoding
// the packets.
func PeekLane(b []byte) (uint32, error) {
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 || num != fieldLane || typ != protowire.VarintType {
		return 0, fmt.Errorf("%w: missing lane header", ErrMalformedFrame)
	}
	v, m := protowire.ConsumeVarint(b[n:])
	if m < 0 {
		return 0, fmt.Errorf("%w: lane: %v", ErrMalformedFrame, protowire.ParseError(m))
	}
	return uint32(v), nil
}

// ValidateFrame checks that b is a well-formed frame and returns its lane and
// packet count. It walks the wire format without building packets, so a
// frame it accepts always decodes.
func ValidateFrame(b []byte) (lane uint32, packets int, err error) {
	if lane, err = PeekLane(b); err != nil {
		return 0, 0, err
	}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, 0, fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]

		if num == fieldPacket && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, 0, fmt.Errorf("%w: packet: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			if err := validateFields(v); err != nil {
				return 0, 0, fmt.Errorf("packet %d: %w", packets, err)
			}
			packets++
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return 0, 0, fmt.Errorf("%w: field %d: %v", ErrMalformedFrame, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return lane, packets, nil
}

func validateFields(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: packet tag: %v", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return fmt.Errorf("%w: packet field %d: %v", ErrMalformedFrame, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}
