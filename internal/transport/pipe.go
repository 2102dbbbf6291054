package transport

import (
	"errors"
	"sync"

	"github.com/jgalvez/chesslink/internal/proto"
)

var ErrPipeClosed = errors.New("pipe closed")

// pipeEnd is one side of an in-memory connected pair. Used by tests and by
// same-process loopback play; delivery is in order and at most once, like
// the real channel kinds.
type pipeEnd struct {
	mu     sync.Mutex
	peer   *pipeEnd
	events chan Event
	closed bool
}

// Pipe returns two connected transports. Both start Open.
func Pipe() (Transport, Transport) {
	a := &pipeEnd{events: make(chan Event, 64)}
	b := &pipeEnd{events: make(chan Event, 64)}
	a.peer, b.peer = b, a
	a.events <- Open{}
	b.events <- Open{}
	return a, b
}

func (p *pipeEnd) Send(msg proto.SessionMessage) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPipeClosed
	}
	p.peer.deliver(Data{Msg: msg})
	return nil
}

func (p *pipeEnd) deliver(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	// Best effort: a full inbox drops the frame, mirroring the at-most-once
	// wire contract.
	select {
	case p.events <- ev:
	default:
	}
}

func (p *pipeEnd) Events() <-chan Event { return p.events }

func (p *pipeEnd) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	p.peer.deliver(Closed{})
	return nil
}
