package session

import (
	"github.com/jgalvez/chesslink/internal/proto"
	"github.com/jgalvez/chesslink/internal/transport"
)

type command interface{ isSessionCmd() }

type makeMove struct {
	mv    string
	reply chan error
}

type sendChat struct {
	text     string
	audio    string
	duration int
}

type resignCmd struct{ reply chan error }

type offerDraw struct{ reply chan error }

type answerDraw struct {
	accept bool
	reply  chan error
}

type callAction int

const (
	callRequest callAction = iota
	callAccept
	callReject
	callEnd
)

type callCmd struct {
	action callAction
	kind   proto.CallKind
	reply  chan error
}

type setFocus struct{ focused bool }

type attachCmd struct{ tr transport.Transport }

type getState struct{ reply chan State }

// engineMoved and evalDone carry results posted back from analyzer
// goroutines; they are merged here so the loop stays the only writer.
type engineMoved struct {
	mv  string
	err error
}

type evalDone struct {
	moveNum int
	score   float64
	err     error
}

type stopCmd struct {
	clear bool
	ack   chan struct{}
}

func (makeMove) isSessionCmd()    {}
func (sendChat) isSessionCmd()    {}
func (resignCmd) isSessionCmd()   {}
func (offerDraw) isSessionCmd()   {}
func (answerDraw) isSessionCmd()  {}
func (callCmd) isSessionCmd()     {}
func (setFocus) isSessionCmd()    {}
func (attachCmd) isSessionCmd()   {}
func (getState) isSessionCmd()    {}
func (engineMoved) isSessionCmd() {}
func (evalDone) isSessionCmd()    {}
func (stopCmd) isSessionCmd()     {}

func (s *Session) post(c command) bool {
	select {
	case <-s.done:
		return false
	case s.inbox <- c:
		return true
	}
}

func (s *Session) ask(build func(chan error) command) error {
	reply := make(chan error, 1)
	if !s.post(build(reply)) {
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrStopped
	}
}

// MakeMove validates, relays and commits a local move.
func (s *Session) MakeMove(mv string) error {
	return s.ask(func(r chan error) command { return makeMove{mv: mv, reply: r} })
}

// SendChat relays a text message.
func (s *Session) SendChat(text string) {
	s.post(sendChat{text: text})
}

// SendVoice relays a recorded voice clip (base64) with its duration.
func (s *Session) SendVoice(audio string, durationSec int) {
	s.post(sendChat{audio: audio, duration: durationSec})
}

func (s *Session) Resign() error {
	return s.ask(func(r chan error) command { return resignCmd{reply: r} })
}

func (s *Session) OfferDraw() error {
	return s.ask(func(r chan error) command { return offerDraw{reply: r} })
}

func (s *Session) AcceptDraw() error {
	return s.ask(func(r chan error) command { return answerDraw{accept: true, reply: r} })
}

func (s *Session) DeclineDraw() error {
	return s.ask(func(r chan error) command { return answerDraw{accept: false, reply: r} })
}

func (s *Session) RequestCall(kind proto.CallKind) error {
	return s.ask(func(r chan error) command { return callCmd{action: callRequest, kind: kind, reply: r} })
}

func (s *Session) AcceptCall() error {
	return s.ask(func(r chan error) command { return callCmd{action: callAccept, reply: r} })
}

func (s *Session) RejectCall() error {
	return s.ask(func(r chan error) command { return callCmd{action: callReject, reply: r} })
}

func (s *Session) EndCall() error {
	return s.ask(func(r chan error) command { return callCmd{action: callEnd, reply: r} })
}

// SetFocused relays a tab visibility change to the peer while a game is in
// progress. Purely informational on the receiving side.
func (s *Session) SetFocused(focused bool) {
	s.post(setFocus{focused: focused})
}

// Attach replaces the channel wholesale after a drop. Settings negotiation
// re-runs on the new channel before any move is synchronized.
func (s *Session) Attach(tr transport.Transport) {
	s.post(attachCmd{tr: tr})
}

// State answers a consistent snapshot from inside the loop.
func (s *Session) State() State {
	reply := make(chan State, 1)
	if !s.post(getState{reply: reply}) {
		return State{}
	}
	select {
	case st := <-reply:
		return st
	case <-s.done:
		return State{}
	}
}

// Stop tears the session down but keeps the persisted snapshot, so an
// accidental termination stays resumable.
func (s *Session) Stop() {
	s.halt(false)
}

// Leave is the explicit user exit: tear down and clear persisted state.
func (s *Session) Leave() {
	s.halt(true)
}

func (s *Session) halt(clear bool) {
	ack := make(chan struct{})
	if !s.post(stopCmd{clear: clear, ack: ack}) {
		return
	}
	select {
	case <-ack:
	case <-s.done:
	}
}
