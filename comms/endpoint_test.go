package comms

//go:generate mockgen -destination mock_client_test.go -package comms -write_package_comment=false github.com/lcx/comms/comms BundleClient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/lcx/comms/codec"
	"github.com/lcx/comms/queue"
)

func newTestEndpoint(client BundleClient, deposit *queue.Bounded[*Bundle], local bool) *Endpoint {
	desc := EndpointDesc{Name: "peer", Address: "127.0.0.1:1", Index: 1, IsLocal: local}
	return newEndpoint(desc, 0, client, deposit, Route(1), codec.NewBufferPool(12))
}

func bundleOf(dst int, n int) *Bundle {
	b := NewBundle(dst)
	b.Lane = 1
	for i := 0; i < n; i++ {
		_ = b.Add(NewPacket(dst, uint64(i), []byte{byte(i)}))
	}
	return b
}

func TestTransmitEncodesFrame(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockBundleClient(ctrl)
	ep := newTestEndpoint(client, queue.NewBounded[*Bundle](1), false)

	client.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, frame []byte) error {
		var f codec.Frame
		require.NoError(t, codec.Decode(&f, frame))
		assert.Equal(t, uint32(1), f.Lane)
		require.Len(t, f.Packets, 3)
		for i, p := range f.Packets {
			assert.Equal(t, uint32(0), p.Source)
			assert.Equal(t, uint64(i), p.Tag)
			assert.Equal(t, []byte{byte(i)}, p.Payload)
		}
		return nil
	})

	b := bundleOf(1, 3)
	defer b.Release()
	require.NoError(t, ep.Transmit(context.Background(), b, 0, 0))
	assert.Equal(t, int64(1), ep.Transmits())
	assert.Equal(t, int64(0), ep.Failures())
}

func TestTransmitRetriesThenSucceeds(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockBundleClient(ctrl)
	ep := newTestEndpoint(client, queue.NewBounded[*Bundle](1), false)

	busy := errors.New("busy")
	gomock.InOrder(
		client.EXPECT().Send(gomock.Any(), gomock.Any()).Return(busy).Times(2),
		client.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil),
	)

	b := bundleOf(1, 1)
	defer b.Release()
	require.NoError(t, ep.Transmit(context.Background(), b, 5, time.Millisecond))
	assert.Equal(t, int64(1), ep.Transmits())
}

func TestTransmitGivesUp(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockBundleClient(ctrl)
	ep := newTestEndpoint(client, queue.NewBounded[*Bundle](1), false)

	down := errors.New("connection refused")
	client.EXPECT().Send(gomock.Any(), gomock.Any()).Return(down).Times(4)

	b := bundleOf(1, 2)
	defer b.Release()
	err := ep.Transmit(context.Background(), b, 3, time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransportFailure)
	assert.ErrorIs(t, err, down)
	assert.Equal(t, int64(0), ep.Transmits())
	assert.Equal(t, int64(1), ep.Failures())
}

func TestTransmitStopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockBundleClient(ctrl)
	ep := newTestEndpoint(client, queue.NewBounded[*Bundle](1), false)

	ctx, cancel := context.WithCancel(context.Background())
	client.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, []byte) error {
		cancel()
		return errors.New("busy")
	})

	b := bundleOf(1, 1)
	defer b.Release()
	err := ep.Transmit(ctx, b, 25, time.Hour)
	assert.ErrorIs(t, err, ErrTransportFailure)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTransmitWithoutClient(t *testing.T) {
	ep := newTestEndpoint(nil, queue.NewBounded[*Bundle](1), true)
	b := bundleOf(1, 1)
	defer b.Release()
	assert.ErrorIs(t, ep.Transmit(context.Background(), b, 0, 0), ErrTransportFailure)
	assert.NoError(t, ep.close())
}

func TestDepositRemote(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockBundleClient(ctrl)
	outbound := queue.NewBounded[*Bundle](1)
	ep := newTestEndpoint(client, outbound, false)

	first := bundleOf(1, 1)
	second := bundleOf(1, 1)
	defer second.Release()

	assert.True(t, ep.Deposit(first))
	assert.False(t, ep.Deposit(second))

	got, ok := outbound.TryDequeue()
	require.True(t, ok)
	assert.Same(t, first, got)
	got.Release()

	client.EXPECT().Close().Return(nil)
	assert.NoError(t, ep.close())
}

func TestDepositLocalShortCircuits(t *testing.T) {
	inbound := queue.NewBounded[*Bundle](1)
	ep := newTestEndpoint(nil, inbound, true)

	b := bundleOf(1, 4)
	defer b.Release()
	require.True(t, ep.Deposit(b))
	assert.Equal(t, int64(4), ep.ShortCircuits())
	assert.Equal(t, 4, b.Len(), "caller keeps the submitted bundle")

	in, ok := inbound.TryDequeue()
	require.True(t, ok)
	defer in.Release()
	require.Equal(t, 4, in.Len())
	for i, p := range in.Packets() {
		assert.Equal(t, StageInbound, p.Stage)
		assert.Equal(t, OriginLocal, p.Origin)
		assert.Equal(t, 0, p.Source)
		assert.Equal(t, Route(1), p.Route)
		assert.Equal(t, uint64(i), p.Tag)
	}

	require.True(t, inbound.TryEnqueue(NewBundle(0)))
	assert.False(t, ep.Deposit(b), "full inbound queue refuses the deposit")
	assert.Equal(t, int64(4), ep.ShortCircuits())
	assert.Equal(t, int64(0), ep.Transmits())
}
