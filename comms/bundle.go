package comms

import (
	"sync"
)

// BundleCapacity is the most packets a Bundle holds.
const BundleCapacity = 1024

// Bundle is a batch of packets bound for one destination. Bundles are pooled
// and live for one flush or one transmit.
type Bundle struct {
	Destination int
	Lane        uint32
	// Route is set when every packet shares one route.
	Route Route

	packets []Packet
}

var _bundlePool = sync.Pool{
	New: func() any {
		return &Bundle{packets: make([]Packet, 0, BundleCapacity)}
	},
}

// NewBundle takes an empty bundle for dst from the pool.
func NewBundle(dst int) *Bundle {
	b := _bundlePool.Get().(*Bundle)
	b.Destination = dst
	return b
}

// Release resets b and returns it to the pool. b must not be used after.
func (b *Bundle) Release() {
	if b == nil {
		return
	}
	b.Reset()
	_bundlePool.Put(b)
}

// Add appends p, or returns ErrBundleFull.
func (b *Bundle) Add(p Packet) error {
	if len(b.packets) >= BundleCapacity {
		return ErrBundleFull
	}
	b.packets = append(b.packets, p)
	return nil
}

func (b *Bundle) Len() int {
	return len(b.packets)
}

func (b *Bundle) Full() bool {
	return len(b.packets) >= BundleCapacity
}

// Packets returns the bundle contents. The slice is reused after Reset.
func (b *Bundle) Packets() []Packet {
	return b.packets
}

// Reset empties the bundle.
func (b *Bundle) Reset() {
	clear(b.packets)
	b.packets = b.packets[:0]
	b.Destination = 0
	b.Lane = 0
	b.Route = NoRoute
}

// StampRoute sets r on the bundle and every packet in it.
func (b *Bundle) StampRoute(r Route) {
	b.Route = r
	for i := range b.packets {
		b.packets[i].Route = r
	}
}

// SetResult completes every packet with r.
func (b *Bundle) SetResult(r Result) {
	for i := range b.packets {
		b.packets[i] = b.packets[i].Complete(r)
	}
}
