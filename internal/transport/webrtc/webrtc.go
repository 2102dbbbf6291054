// Package webrtc is the direct peer link: a WebRTC data channel between two
// browsers-worth of endpoints, negotiated through the relay's signaling
// websocket and then carrying SessionMessages peer to peer.
package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	pion "github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/jgalvez/chesslink/internal/proto"
	"github.com/jgalvez/chesslink/internal/transport"
)

var ErrNotOpen = errors.New("data channel not open")

const dataChannelLabel = "session"

// Options configure one end of the peer link.
type Options struct {
	SignalURL string // relay websocket endpoint, e.g. ws://host/ws
	LocalID   string
	RemoteID  string   // peer to dial; for Accept, the peer expected to call
	STUN      []string // defaults to a public STUN server
	Logger    *zap.SugaredLogger
}

func (o *Options) defaults() {
	if len(o.STUN) == 0 {
		o.STUN = []string{"stun:stun.l.google.com:19302"}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
}

// Transport is a transport.Transport over a pion data channel.
type Transport struct {
	pc     *pion.PeerConnection
	sig    *signalClient
	events chan transport.Event
	log    *zap.SugaredLogger

	mu     sync.Mutex
	dc     *pion.DataChannel
	open   bool
	closed bool
}

// Dial is the offerer side: it creates the data channel and sends the SDP
// offer to the remote peer through the relay.
func Dial(ctx context.Context, opts Options) (*Transport, error) {
	opts.defaults()
	t, err := newTransport(ctx, opts)
	if err != nil {
		return nil, err
	}
	dc, err := t.pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		t.teardown()
		return nil, err
	}
	t.wireChannel(dc)

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		t.teardown()
		return nil, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		t.teardown()
		return nil, err
	}
	if err := t.sig.send(proto.SignalOffer, offer); err != nil {
		t.teardown()
		return nil, err
	}
	go t.signalLoop(false)
	return t, nil
}

// Accept is the answerer side: it waits for the peer's offer and answers.
func Accept(ctx context.Context, opts Options) (*Transport, error) {
	opts.defaults()
	t, err := newTransport(ctx, opts)
	if err != nil {
		return nil, err
	}
	t.pc.OnDataChannel(func(dc *pion.DataChannel) {
		if dc.Label() != dataChannelLabel {
			return
		}
		t.wireChannel(dc)
	})
	go t.signalLoop(true)
	return t, nil
}

func newTransport(ctx context.Context, opts Options) (*Transport, error) {
	sig, err := dialSignal(ctx, opts.SignalURL, opts.LocalID, opts.RemoteID)
	if err != nil {
		return nil, err
	}
	pc, err := pion.NewPeerConnection(pion.Configuration{
		ICEServers: []pion.ICEServer{{URLs: opts.STUN}},
	})
	if err != nil {
		sig.close()
		return nil, err
	}
	t := &Transport{
		pc:     pc,
		sig:    sig,
		events: make(chan transport.Event, 64),
		log:    opts.Logger,
	}
	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		if err := sig.send(proto.SignalCandidate, c.ToJSON()); err != nil {
			t.log.Debugw("candidate send failed", "err", err)
		}
	})
	pc.OnConnectionStateChange(func(st pion.PeerConnectionState) {
		if st == pion.PeerConnectionStateFailed || st == pion.PeerConnectionStateClosed {
			t.emitClosed()
		}
	})
	return t, nil
}

// signalLoop drains offer/answer/candidate frames until the signaling
// socket closes. answering selects the offer-handling arm.
func (t *Transport) signalLoop(answering bool) {
	for msg := range t.sig.inbox {
		switch msg.Type {
		case proto.SignalOffer:
			if !answering {
				continue
			}
			var offer pion.SessionDescription
			if err := json.Unmarshal(msg.Payload, &offer); err != nil {
				continue
			}
			if err := t.answer(offer); err != nil {
				t.emit(transport.Failure{Err: err})
			}
		case proto.SignalAnswer:
			var answer pion.SessionDescription
			if err := json.Unmarshal(msg.Payload, &answer); err != nil {
				continue
			}
			if err := t.pc.SetRemoteDescription(answer); err != nil {
				t.emit(transport.Failure{Err: err})
			}
		case proto.SignalCandidate:
			var cand pion.ICECandidateInit
			if err := json.Unmarshal(msg.Payload, &cand); err != nil {
				continue
			}
			if err := t.pc.AddICECandidate(cand); err != nil {
				t.log.Debugw("add candidate failed", "err", err)
			}
		}
	}
}

func (t *Transport) answer(offer pion.SessionDescription) error {
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return err
	}
	return t.sig.send(proto.SignalAnswer, answer)
}

func (t *Transport) wireChannel(dc *pion.DataChannel) {
	t.mu.Lock()
	t.dc = dc
	t.mu.Unlock()

	dc.OnOpen(func() {
		t.mu.Lock()
		t.open = true
		t.mu.Unlock()
		t.emit(transport.Open{})
	})
	dc.OnClose(func() {
		t.emitClosed()
	})
	dc.OnMessage(func(m pion.DataChannelMessage) {
		msg, err := proto.Decode(m.Data)
		if err != nil {
			t.emit(transport.Failure{Err: err})
			return
		}
		t.emit(transport.Data{Msg: msg})
	})
}

func (t *Transport) emit(ev transport.Event) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	select {
	case t.events <- ev:
	default:
	}
}

func (t *Transport) emitClosed() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.open = false
	t.mu.Unlock()
	t.emit(transport.Closed{})
}

func (t *Transport) Send(msg proto.SessionMessage) error {
	t.mu.Lock()
	dc, open := t.dc, t.open
	t.mu.Unlock()
	if dc == nil || !open {
		return ErrNotOpen
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return dc.SendText(string(data))
}

func (t *Transport) Events() <-chan transport.Event { return t.events }

func (t *Transport) Close() error {
	t.emitClosed()
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.teardown()
	return nil
}

func (t *Transport) teardown() {
	t.sig.close()
	_ = t.pc.Close()
}
