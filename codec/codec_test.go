package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"
)

func sampleFrame() *Frame {
	return &Frame{
		Lane: 7,
		Packets: []Packet{
			{Source: 1, Tag: 0xdeadbeefcafef00d, Payload: []byte("hello")},
			{Source: 1, Tag: 2, Payload: nil},
			{Source: 300, Tag: 3, Payload: make([]byte, 4096)},
		},
	}
}

func TestFrameRoundTrip(t *testing.T) {
	f := sampleFrame()
	b, err := Encode(f, nil)
	require.NoError(t, err)
	assert.Len(t, b, f.Size())

	var got Frame
	require.NoError(t, Decode(&got, b))
	assert.Equal(t, uint32(7), got.Lane)
	require.Len(t, got.Packets, 3)
	assert.Equal(t, uint64(0xdeadbeefcafef00d), got.Packets[0].Tag)
	assert.Equal(t, []byte("hello"), got.Packets[0].Payload)
	assert.Empty(t, got.Packets[1].Payload)
	assert.Equal(t, uint32(300), got.Packets[2].Source)
	assert.Len(t, got.Packets[2].Payload, 4096)
}

func TestEncodeAppendsToPooledBuffer(t *testing.T) {
	pool := NewBufferPool(10)
	assert.Equal(t, 1024, pool.BlockSize())

	buf := pool.Get()
	assert.Equal(t, 0, len(*buf))
	assert.GreaterOrEqual(t, cap(*buf), 1024)

	out, err := Encode(&Frame{Lane: 1, Packets: []Packet{{Tag: 1, Payload: []byte("x")}}}, *buf)
	require.NoError(t, err)
	*buf = out
	pool.Put(buf)

	again := pool.Get()
	assert.Equal(t, 0, len(*again))
}

func TestBufferPoolClampsDepth(t *testing.T) {
	assert.Equal(t, 1, NewBufferPool(-3).BlockSize())
	assert.Equal(t, 1<<30, NewBufferPool(64).BlockSize())
	NewBufferPool(4).Put(nil)
}

func TestEmptyFrame(t *testing.T) {
	b, err := Encode(&Frame{}, nil)
	require.NoError(t, err)

	lane, err := PeekLane(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), lane)

	var got Frame
	require.NoError(t, Decode(&got, b))
	assert.Empty(t, got.Packets)
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	b, err := Encode(sampleFrame(), nil)
	require.NoError(t, err)
	b = protowire.AppendTag(b, 15, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))

	var got Frame
	require.NoError(t, Decode(&got, b))
	assert.Len(t, got.Packets, 3)
}

func TestDecodeMalformed(t *testing.T) {
	b, err := Encode(sampleFrame(), nil)
	require.NoError(t, err)

	var got Frame
	err = Decode(&got, b[:len(b)-3])
	assert.True(t, errors.Is(err, ErrMalformedFrame))

	_, err = PeekLane([]byte{0x12, 0x00})
	assert.ErrorIs(t, err, ErrMalformedFrame)
	_, err = PeekLane(nil)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestValidateFrame(t *testing.T) {
	good, err := Encode(sampleFrame(), nil)
	require.NoError(t, err)
	lane, packets, err := ValidateFrame(good)
	require.NoError(t, err)
	assert.Equal(t, sampleFrame().Lane, lane)
	assert.Equal(t, 3, packets)

	_, _, err = ValidateFrame(good[:len(good)-3])
	assert.ErrorIs(t, err, ErrMalformedFrame)

	// A sound lane header followed by a packet whose body does not parse.
	bad := protowire.AppendTag(nil, fieldLane, protowire.VarintType)
	bad = protowire.AppendVarint(bad, 1)
	bad = protowire.AppendTag(bad, fieldPacket, protowire.BytesType)
	bad = protowire.AppendBytes(bad, []byte{0xff})
	_, err = PeekLane(bad)
	require.NoError(t, err)
	_, _, err = ValidateFrame(bad)
	assert.ErrorIs(t, err, ErrMalformedFrame)
	var f Frame
	assert.Error(t, Decode(&f, bad), "whatever ValidateFrame refuses, Decode refuses")
}

func TestFrameReset(t *testing.T) {
	f := sampleFrame()
	f.Reset()
	assert.Equal(t, uint32(0), f.Lane)
	assert.Empty(t, f.Packets)
	assert.Equal(t, 3, cap(f.Packets))
}

func TestGRPCCodec(t *testing.T) {
	c := encoding.GetCodec(Name)
	require.NotNil(t, c)
	assert.Equal(t, Name, c.Name())

	raw := []byte{1, 2, 3}
	out, err := c.Marshal(&RawFrame{Data: raw})
	require.NoError(t, err)
	assert.Equal(t, raw, out)

	var rf RawFrame
	require.NoError(t, c.Unmarshal(raw, &rf))
	raw[0] = 9
	assert.Equal(t, byte(1), rf.Data[0])

	ackBytes, err := c.Marshal(&Ack{Accepted: 1024})
	require.NoError(t, err)
	var ack Ack
	require.NoError(t, c.Unmarshal(ackBytes, &ack))
	assert.Equal(t, uint32(1024), ack.Accepted)

	_, err = c.Marshal("nope")
	assert.Error(t, err)
	assert.Error(t, c.Unmarshal(nil, new(int)))
}

type stubCodec struct{ called bool }

func (s *stubCodec) Encode(f *Frame, b []byte) ([]byte, error) { s.called = true; return b, nil }
func (s *stubCodec) Decode(f *Frame, b []byte) error           { return nil }

func TestSetCodec(t *testing.T) {
	defer SetCodec(&DefaultCodec{})

	stub := &stubCodec{}
	SetCodec(stub)
	_, err := Encode(&Frame{}, nil)
	require.NoError(t, err)
	assert.True(t, stub.called)

	SetCodec(nil)
	_, err = Encode(&Frame{}, nil)
	assert.ErrorIs(t, err, errCodecNotInit)
	assert.ErrorIs(t, Decode(&Frame{}, nil), errCodecNotInit)
}
