package transport

import "github.com/jgalvez/chesslink/internal/proto"

// localTransport is the "no remote" mode used for engine play. Send is a
// no-op and no peer ever produces Data or Closed; the session drives itself.
type localTransport struct {
	events chan Event
}

// Local returns a transport with no remote end. It emits a single Open.
func Local() Transport {
	t := &localTransport{events: make(chan Event, 1)}
	t.events <- Open{}
	return t
}

func (t *localTransport) Send(proto.SessionMessage) error { return nil }

func (t *localTransport) Events() <-chan Event { return t.events }

func (t *localTransport) Close() error { return nil }
