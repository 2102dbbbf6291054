package session

import (
	"errors"

	"github.com/jgalvez/chesslink/internal/proto"
	"github.com/jgalvez/chesslink/internal/rules"
	"github.com/jgalvez/chesslink/internal/transport"
)

func (s *Session) handleCommand(c command) {
	switch cmd := c.(type) {
	case makeMove:
		cmd.reply <- s.doMakeMove(cmd.mv)
	case sendChat:
		s.send(proto.SessionMessage{
			Type:     proto.MsgChat,
			Message:  cmd.text,
			Audio:    cmd.audio,
			Duration: cmd.duration,
		})
	case resignCmd:
		cmd.reply <- s.doResign()
	case offerDraw:
		cmd.reply <- s.doOfferDraw()
	case answerDraw:
		cmd.reply <- s.doAnswerDraw(cmd.accept)
	case callCmd:
		cmd.reply <- s.doCall(cmd)
	case setFocus:
		s.doSetFocus(cmd.focused)
	case attachCmd:
		s.doAttach(cmd.tr)
	case getState:
		cmd.reply <- s.stateView()
	case engineMoved:
		s.doEngineMoved(cmd)
	case evalDone:
		if cmd.err == nil {
			s.emit(Evaluation{MoveNumber: cmd.moveNum, Score: cmd.score})
		}
	}
}

func (s *Session) doMakeMove(mv string) error {
	if s.outcome != nil {
		return ErrGameOver
	}
	if !s.negotiated || s.fresh {
		return ErrNotReady
	}
	if s.game.Turn() != s.localColor() {
		return ErrNotYourTurn
	}
	if err := s.game.Validate(mv); err != nil {
		return err
	}
	// Relay before committing; the remote replica is updated by the same
	// message our own commit mirrors.
	s.send(proto.SessionMessage{Type: proto.MsgMove, Move: mv})
	if err := s.game.ApplyMove(mv); err != nil {
		return err
	}
	s.afterMove(mv, false)
	return nil
}

func (s *Session) doResign() error {
	if s.outcome != nil {
		return ErrGameOver
	}
	if !s.negotiated {
		return ErrNotReady
	}
	s.send(proto.SessionMessage{Type: proto.MsgResign})
	s.setOutcome(ResultResignation, s.localColor().Other())
	return nil
}

func (s *Session) doOfferDraw() error {
	if s.outcome != nil {
		return ErrGameOver
	}
	if !s.negotiated {
		return ErrNotReady
	}
	if s.drawOfferSent {
		return ErrOfferPending
	}
	s.send(proto.SessionMessage{Type: proto.MsgOfferDraw})
	s.drawOfferSent = true
	return nil
}

func (s *Session) doAnswerDraw(accept bool) error {
	if s.outcome != nil {
		return ErrGameOver
	}
	if !s.drawOfferPending {
		return ErrNoOffer
	}
	s.drawOfferPending = false
	if accept {
		s.send(proto.SessionMessage{Type: proto.MsgDrawAccepted})
		s.setOutcome(ResultDrawAgreement, "")
	} else {
		s.send(proto.SessionMessage{Type: proto.MsgDrawDeclined})
	}
	return nil
}

func (s *Session) doCall(cmd callCmd) error {
	if s.outcome != nil {
		return ErrGameOver
	}
	switch cmd.action {
	case callRequest:
		if s.callState != CallIdle {
			return ErrCallBusy
		}
		s.callState = CallCalling
		s.send(proto.SessionMessage{Type: proto.MsgCallRequest, CallType: cmd.kind})
	case callAccept:
		if s.callState != CallIncoming {
			return ErrNoCall
		}
		s.callState = CallConnected
		s.send(proto.SessionMessage{Type: proto.MsgCallAccepted})
		s.emit(CallStarted{})
	case callReject:
		if s.callState != CallIncoming {
			return ErrNoCall
		}
		s.callState = CallIdle
		s.send(proto.SessionMessage{Type: proto.MsgCallRejected})
	case callEnd:
		if s.callState == CallIdle {
			return ErrNoCall
		}
		s.callState = CallIdle
		s.send(proto.SessionMessage{Type: proto.MsgCallEnded})
		s.emit(CallFinished{})
	}
	return nil
}

func (s *Session) doSetFocus(focused bool) {
	if !s.antiCheat || !s.negotiated || s.outcome != nil || !s.connected {
		return
	}
	t := proto.MsgFocusLost
	if focused {
		t = proto.MsgFocusGained
	}
	s.send(proto.SessionMessage{Type: t})
}

func (s *Session) doAttach(tr transport.Transport) {
	_ = s.tr.Close()
	s.tr = tr
	s.trEvs = tr.Events()
	s.connected = false
	// Negotiation must re-run on the replaced channel before any move is
	// accepted on it.
	s.fresh = true
}

func (s *Session) handleTransport(ev transport.Event) {
	switch e := ev.(type) {
	case transport.Open:
		s.connected = true
		if s.role == RoleHost {
			s.send(proto.SessionMessage{Type: proto.MsgSettings, Settings: s.settings})
			s.fresh = false
			s.persist()
			s.maybeEngineMove()
		}
	case transport.Data:
		s.handleMessage(e.Msg)
	case transport.Closed:
		s.connected = false
		if s.outcome == nil {
			s.emit(Disconnected{Resumable: s.resumable()})
		}
	case transport.Failure:
		s.log.Warnw("transport error", "err", e.Err)
	}
}

func (s *Session) resumable() bool {
	if s.st == nil {
		return false
	}
	_, ok, err := s.st.Load()
	return err == nil && ok
}

// handleMessage is the single dispatch point for the wire protocol. Every
// arm has a defined ignore/reject response; nothing here ever closes the
// channel, so version skew and malformed peers degrade silently.
func (s *Session) handleMessage(msg proto.SessionMessage) {
	switch msg.Type {
	case proto.MsgSettings:
		s.adoptSettings(msg.Settings)
	case proto.MsgMove:
		s.applyRemoteMove(msg.Move)
	case proto.MsgChat:
		s.emit(ChatReceived{Message: msg.Message, Audio: msg.Audio, Duration: msg.Duration})
	case proto.MsgResign:
		if s.outcome == nil && s.negotiated {
			s.setOutcome(ResultResignation, s.localColor())
		}
	case proto.MsgOfferDraw:
		if s.outcome == nil && !s.drawOfferPending {
			s.drawOfferPending = true
			s.emit(DrawOffered{})
		}
	case proto.MsgDrawAccepted:
		if s.outcome == nil && s.drawOfferSent {
			s.drawOfferSent = false
			s.setOutcome(ResultDrawAgreement, "")
		}
	case proto.MsgDrawDeclined:
		if s.drawOfferSent {
			s.drawOfferSent = false
			s.emit(DrawDeclined{})
		}
	case proto.MsgCallRequest:
		// Never queued: anything but a fully idle receiver answers busy.
		if s.outcome != nil || s.callState != CallIdle {
			s.send(proto.SessionMessage{Type: proto.MsgCallBusy})
			return
		}
		s.callState = CallIncoming
		s.emit(IncomingCall{Kind: msg.CallType})
	case proto.MsgCallAccepted:
		if s.outcome == nil && s.callState == CallCalling {
			s.callState = CallConnected
			s.emit(CallStarted{})
		}
	case proto.MsgCallRejected, proto.MsgCallBusy:
		if s.callState == CallCalling {
			s.callState = CallIdle
			s.emit(CallUnavailable{})
		}
	case proto.MsgCallEnded:
		if s.callState != CallIdle {
			s.callState = CallIdle
			s.emit(CallFinished{})
		}
	case proto.MsgFocusLost:
		s.emit(OpponentFocus{Focused: false})
	case proto.MsgFocusGained:
		s.emit(OpponentFocus{Focused: true})
	default:
		// Unknown tag: tolerate version skew, drop silently.
		s.log.Debugw("unknown message type", "type", msg.Type)
	}
}

func (s *Session) adoptSettings(remote *proto.Settings) {
	if remote == nil {
		return
	}
	if s.negotiated && !s.fresh {
		// Idempotency: a repeated settings message after initialization is
		// ignored except on a freshly replaced channel.
		return
	}
	if s.role == RoleHost {
		// The host's own parameters stand; the peer's frame only completes
		// the re-run on a fresh channel.
		s.fresh = false
		return
	}
	adopted := remote.Inverted()
	s.settings = &adopted
	s.negotiated = true
	s.fresh = false
	s.initClock()
	s.persist()
	s.emit(SettingsAgreed{Settings: adopted})
}

func (s *Session) applyRemoteMove(mv string) {
	if s.outcome != nil || !s.negotiated || s.fresh {
		return
	}
	if err := s.game.ApplyMove(mv); err != nil {
		// The local board is the sole arbiter: an illegal (or duplicate)
		// remote move is dropped without surfacing an error to the peer.
		if errors.Is(err, rules.ErrIllegalMove) {
			s.log.Debugw("dropped remote move", "move", mv)
			return
		}
		s.log.Debugw("dropped remote move", "move", mv, "err", err)
		return
	}
	s.afterMove(mv, true)
}

func (s *Session) afterMove(mv string, remote bool) {
	mover := s.game.Turn().Other()
	s.clock.addIncrement(mover)
	s.emit(MoveApplied{Move: mv, FEN: s.game.FEN(), Remote: remote})

	if s.game.IsGameOver() {
		kind, winner, _ := s.game.Outcome()
		switch kind {
		case rules.EndCheckmate:
			s.setOutcome(ResultCheckmate, winner)
		case rules.EndStalemate:
			s.setOutcome(ResultStalemate, "")
		default:
			s.setOutcome(ResultDrawByRule, "")
		}
		return
	}

	s.dispatchEval()
	s.maybeEngineMove()
}

// dispatchEval requests a background evaluation of the current position.
// The result is merged through the inbox and never blocks move handling.
func (s *Session) dispatchEval() {
	if s.analyzer == nil {
		return
	}
	fen, n := s.game.FEN(), s.game.MoveCount()
	go func() {
		score, err := s.analyzer.Evaluate(fen, evalDepth)
		s.post(evalDone{moveNum: n, score: score, err: err})
	}()
}

// maybeEngineMove asks the analyzer for the computer opponent's reply when
// it is the engine's turn.
func (s *Session) maybeEngineMove() {
	if s.analyzer == nil || s.settings == nil || s.settings.Mode != proto.ModeEngine {
		return
	}
	if s.outcome != nil || s.game.Turn() == s.localColor() {
		return
	}
	fen, elo := s.game.FEN(), s.settings.Elo
	go func() {
		mv, err := s.analyzer.BestMove(fen, elo)
		s.post(engineMoved{mv: mv, err: err})
	}()
}

func (s *Session) doEngineMoved(cmd engineMoved) {
	if cmd.err != nil {
		s.log.Warnw("engine move failed", "err", cmd.err)
		return
	}
	if s.outcome != nil || s.game.Turn() == s.localColor() {
		// Stale reply; the position moved on.
		return
	}
	if err := s.game.ApplyMove(cmd.mv); err != nil {
		s.log.Warnw("engine produced illegal move", "move", cmd.mv)
		return
	}
	s.afterMove(cmd.mv, true)
}

func (s *Session) stateView() State {
	st := State{
		Role:             s.role,
		Negotiated:       s.negotiated,
		Connected:        s.connected,
		FEN:              s.game.FEN(),
		Turn:             s.game.Turn(),
		WhiteClock:       s.clock.white,
		BlackClock:       s.clock.black,
		Unlimited:        s.clock.spec.Unlimited,
		CallState:        s.callState,
		DrawOfferPending: s.drawOfferPending,
		DrawOfferSent:    s.drawOfferSent,
	}
	if s.settings != nil {
		cp := *s.settings
		st.Settings = &cp
	}
	if s.outcome != nil {
		cp := *s.outcome
		st.Outcome = &cp
	}
	return st
}
