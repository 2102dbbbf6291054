// Package transport defines the channel abstraction carrying session
// messages between two parties, plus the in-process implementations. The
// WebRTC peer link and the Lichess bridge live in subpackages and satisfy
// the same contract.
package transport

import "github.com/jgalvez/chesslink/internal/proto"

// Event is one inbound transport event. The session drains Events() from a
// single goroutine and runs each handler to completion before the next
// receive, so handlers never interleave.
type Event interface{ isTransportEvent() }

// Open fires once the channel is ready to send and receive.
type Open struct{}

// Data carries one inbound message, in arrival order.
type Data struct{ Msg proto.SessionMessage }

// Closed fires when the remote end or the transport layer tears down the
// link. No events follow it.
type Closed struct{}

// Failure is non-fatal; it does not itself close the channel.
type Failure struct{ Err error }

func (Open) isTransportEvent()    {}
func (Data) isTransportEvent()    {}
func (Closed) isTransportEvent()  {}
func (Failure) isTransportEvent() {}

// Transport is the uniform contract over all channel kinds. Send is best
// effort, fire and forget; there is no delivery acknowledgment.
type Transport interface {
	Send(msg proto.SessionMessage) error
	Events() <-chan Event
	Close() error
}
