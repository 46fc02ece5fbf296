// Package comms moves packets between processes in bundles. Applications
// submit packets through an Accessor; writers transmit them over gRPC with
// bounded retry and report every packet back on the submitter's completion
// queue. Packets addressed to the local process skip the network and are
// caught from the same inbound queue remote packets arrive on.
package comms

import (
	"fmt"
)

// Stage tells which of a Packet's stage fields are meaningful.
type Stage uint8

const (
	// StageOutbound: Destination and Tag are set by the submitter.
	StageOutbound Stage = iota
	// StageCompleted: Result reports what happened to a submitted packet.
	StageCompleted
	// StageInbound: Source and Origin describe a caught packet.
	StageInbound
)

func (s Stage) String() string {
	switch s {
	case StageOutbound:
		return "outbound"
	case StageCompleted:
		return "completed"
	case StageInbound:
		return "inbound"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

// Result is the outcome of a submitted packet.
type Result uint8

const (
	ResultDelivered Result = iota
	// ResultNotScheduled: the packet never left the process because a
	// queue was full.
	ResultNotScheduled
	// ResultTransportFailure: every transmit attempt failed.
	ResultTransportFailure
)

func (r Result) String() string {
	switch r {
	case ResultDelivered:
		return "delivered"
	case ResultNotScheduled:
		return "not_scheduled"
	case ResultTransportFailure:
		return "transport_failure"
	default:
		return fmt.Sprintf("result(%d)", uint8(r))
	}
}

// Origin tells whether a caught packet came from this process.
type Origin uint8

const (
	OriginLocal Origin = iota
	OriginRemote
)

func (o Origin) String() string {
	if o == OriginLocal {
		return "local"
	}
	return "remote"
}

// Route names the queue a packet is handed back to: the submitter's
// completion queue for outbound packets, the instance release queue for
// inbound ones. It is an index into the instance route table.
type Route uint32

// NoRoute is the zero Route. Pushes to it are dropped.
const NoRoute Route = 0

// Packet is the unit of transfer. The payload is owned by the application
// from Submit until the packet is reaped; the local path never copies it.
type Packet struct {
	Payload []byte
	Tag     uint64

	Stage Stage
	Route Route

	// StageOutbound and StageCompleted.
	Destination int
	// StageCompleted.
	Result Result
	// StageInbound.
	Source int
	Origin Origin
}

// NewPacket creates an outbound packet for the endpoint at index dst.
func NewPacket(dst int, tag uint64, payload []byte) Packet {
	return Packet{
		Payload:     payload,
		Tag:         tag,
		Stage:       StageOutbound,
		Destination: dst,
	}
}

// Size is the payload length.
func (p Packet) Size() int {
	return len(p.Payload)
}

// Complete returns p in StageCompleted with result r.
func (p Packet) Complete(r Result) Packet {
	p.Stage = StageCompleted
	p.Result = r
	return p
}

// ToInbound returns p as caught from source, to be released on route.
func (p Packet) ToInbound(source int, origin Origin, route Route) Packet {
	return Packet{
		Payload: p.Payload,
		Tag:     p.Tag,
		Stage:   StageInbound,
		Route:   route,
		Source:  source,
		Origin:  origin,
	}
}
