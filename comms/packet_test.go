package comms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcx/comms/queue"
)

func TestPacketStages(t *testing.T) {
	payload := []byte("abc")
	p := NewPacket(2, 77, payload)
	assert.Equal(t, StageOutbound, p.Stage)
	assert.Equal(t, 2, p.Destination)
	assert.Equal(t, 3, p.Size())

	done := p.Complete(ResultTransportFailure)
	assert.Equal(t, StageCompleted, done.Stage)
	assert.Equal(t, ResultTransportFailure, done.Result)
	assert.Equal(t, uint64(77), done.Tag)
	assert.Equal(t, StageOutbound, p.Stage, "Complete must not modify the receiver")

	in := p.ToInbound(5, OriginRemote, Route(9))
	assert.Equal(t, StageInbound, in.Stage)
	assert.Equal(t, 5, in.Source)
	assert.Equal(t, OriginRemote, in.Origin)
	assert.Equal(t, Route(9), in.Route)
	assert.Equal(t, 0, in.Destination)
	assert.Same(t, &payload[0], &in.Payload[0])
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "delivered", ResultDelivered.String())
	assert.Equal(t, "not_scheduled", ResultNotScheduled.String())
	assert.Equal(t, "transport_failure", ResultTransportFailure.String())
	assert.Equal(t, "result(9)", Result(9).String())
	assert.Equal(t, "inbound", StageInbound.String())
	assert.Equal(t, "local", OriginLocal.String())
	assert.Equal(t, "remote", OriginRemote.String())
	assert.Equal(t, "shutting_down", WriterShuttingDown.String())
}

func TestBundle(t *testing.T) {
	b := NewBundle(3)
	defer b.Release()
	assert.Equal(t, 3, b.Destination)
	assert.Equal(t, 0, b.Len())

	for i := 0; i < BundleCapacity; i++ {
		require.NoError(t, b.Add(NewPacket(3, uint64(i), nil)))
	}
	assert.True(t, b.Full())
	assert.ErrorIs(t, b.Add(NewPacket(3, 0, nil)), ErrBundleFull)
	assert.Equal(t, BundleCapacity, b.Len())

	b.StampRoute(Route(4))
	b.SetResult(ResultDelivered)
	for _, p := range b.Packets() {
		assert.Equal(t, Route(4), p.Route)
		assert.Equal(t, StageCompleted, p.Stage)
	}

	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, NoRoute, b.Route)
}

func TestRouteTable(t *testing.T) {
	rt := newRouteTable(2)
	q1 := queue.NewUnbounded[Packet]()
	q2 := queue.NewUnbounded[Packet]()

	r1, err := rt.register(q1)
	require.NoError(t, err)
	r2, err := rt.register(q2)
	require.NoError(t, err)
	assert.NotEqual(t, NoRoute, r1)
	assert.NotEqual(t, r1, r2)

	_, err = rt.register(queue.NewUnbounded[Packet]())
	assert.ErrorIs(t, err, ErrRouteTableFull)

	assert.Equal(t, 2, rt.push(r1, NewPacket(0, 1, nil), NewPacket(0, 2, nil)))
	assert.Equal(t, 2, q1.Len())

	mixed := []Packet{{Tag: 1, Route: r1}, {Tag: 2, Route: r2}, {Tag: 3, Route: r2}, {Tag: 4, Route: NoRoute}}
	assert.Equal(t, 3, rt.pushEach(mixed))
	assert.Equal(t, 3, q1.Len())
	assert.Equal(t, 2, q2.Len())

	rt.free(r1)
	assert.Equal(t, 0, rt.push(r1, NewPacket(0, 5, nil)), "push to a freed route is dropped")
	assert.Equal(t, 0, rt.push(Route(99), NewPacket(0, 5, nil)))

	r3, err := rt.register(queue.NewUnbounded[Packet]())
	require.NoError(t, err)
	assert.Equal(t, r1, r3, "freed slot is reused")
}
