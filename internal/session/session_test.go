package session

import (
	"errors"
	"testing"
	"time"

	"github.com/jgalvez/chesslink/internal/proto"
	"github.com/jgalvez/chesslink/internal/rules"
	"github.com/jgalvez/chesslink/internal/store"
	"github.com/jgalvez/chesslink/internal/transport"
)

// helper: wait for the next event of type T, discarding others, with a
// timeout so tests never hang.
func waitEvent[T Event](t *testing.T, s *Session, within time.Duration) T {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("event channel closed unexpectedly")
			}
			if e, match := ev.(T); match {
				return e
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

// helper: read frames off a raw transport until one of the wanted type
// arrives.
func recvFrame(t *testing.T, tr transport.Transport, want proto.MsgType, within time.Duration) proto.SessionMessage {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case ev, ok := <-tr.Events():
			if !ok {
				t.Fatalf("transport events closed unexpectedly")
			}
			if d, match := ev.(transport.Data); match && d.Msg.Type == want {
				return d.Msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q frame", want)
			return proto.SessionMessage{}
		}
	}
}

func pvpSettings(tc string) proto.Settings {
	return proto.Settings{Mode: proto.ModePVP, Color: proto.White, TimeControl: tc}
}

// startPair wires a host and a guest over an in-memory pipe and waits for
// negotiation to finish on the guest.
func startPair(t *testing.T, settings proto.Settings) (*Session, *Session) {
	t.Helper()
	a, b := transport.Pipe()
	host := New(Config{Transport: a, Settings: &settings})
	guest := New(Config{Transport: b})
	t.Cleanup(func() {
		host.Stop()
		guest.Stop()
	})
	waitEvent[SettingsAgreed](t, guest, time.Second)
	return host, guest
}

func TestNegotiation_GuestInvertsColor(t *testing.T) {
	a, b := transport.Pipe()
	settings := proto.Settings{Mode: proto.ModePVP, Color: proto.Black, TimeControl: "10+0"}
	host := New(Config{Transport: a, Settings: &settings})
	guest := New(Config{Transport: b})
	defer host.Stop()
	defer guest.Stop()

	agreed := waitEvent[SettingsAgreed](t, guest, time.Second)
	if agreed.Settings.Color != proto.White {
		t.Fatalf("guest color: want white, got %s", agreed.Settings.Color)
	}
	if agreed.Settings.TimeControl != "10+0" {
		t.Fatalf("guest time control: want 10+0, got %s", agreed.Settings.TimeControl)
	}

	hs, gs := host.State(), guest.State()
	if hs.Role != RoleHost || gs.Role != RoleGuest {
		t.Fatalf("roles: got host=%s guest=%s", hs.Role, gs.Role)
	}
	if !gs.Negotiated {
		t.Fatalf("guest should be negotiated")
	}
	if hs.Settings.Color == gs.Settings.Color {
		t.Fatalf("colors must be complementary, both got %s", hs.Settings.Color)
	}
	if hs.WhiteClock != 600 || gs.WhiteClock != 600 {
		t.Fatalf("clocks: want 600s each, got host=%d guest=%d", hs.WhiteClock, gs.WhiteClock)
	}
}

func TestMoveSync_ReplicasConverge(t *testing.T) {
	host, guest := startPair(t, pvpSettings(proto.Unlimited))

	if err := host.MakeMove("e2e4"); err != nil {
		t.Fatalf("host move: %v", err)
	}
	ev := waitEvent[MoveApplied](t, guest, time.Second)
	if !ev.Remote || ev.Move != "e2e4" {
		t.Fatalf("guest applied: got %+v", ev)
	}

	if err := guest.MakeMove("e7e5"); err != nil {
		t.Fatalf("guest move: %v", err)
	}
	waitEvent[MoveApplied](t, host, time.Second)

	hs, gs := host.State(), guest.State()
	if hs.FEN != gs.FEN {
		t.Fatalf("replicas diverged:\n host %s\nguest %s", hs.FEN, gs.FEN)
	}
	if hs.Turn != proto.White {
		t.Fatalf("after e4 e5: want white to move, got %s", hs.Turn)
	}
}

func TestMakeMove_Rejections(t *testing.T) {
	host, guest := startPair(t, pvpSettings(proto.Unlimited))

	// White to move; the guest holds black.
	if err := guest.MakeMove("e7e5"); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("out of turn: want ErrNotYourTurn, got %v", err)
	}
	if err := host.MakeMove("e2e5"); !errors.Is(err, rules.ErrIllegalMove) {
		t.Fatalf("illegal move: want ErrIllegalMove, got %v", err)
	}
	// The rejected attempts must not have leaked onto the board.
	if got := host.State().Turn; got != proto.White {
		t.Fatalf("turn moved after rejections: %s", got)
	}
}

func TestRemoteMove_DuplicateDeliveryDropped(t *testing.T) {
	a, b := transport.Pipe()
	settings := pvpSettings(proto.Unlimited)
	host := New(Config{Transport: a, Settings: &settings})
	defer host.Stop()

	// Manual peer: drain the settings frame, then answer the host's e4
	// with e5 delivered twice.
	recvFrame(t, b, proto.MsgSettings, time.Second)
	if err := host.MakeMove("e2e4"); err != nil {
		t.Fatalf("host move: %v", err)
	}
	recvFrame(t, b, proto.MsgMove, time.Second)

	reply := proto.SessionMessage{Type: proto.MsgMove, Move: "e7e5"}
	if err := b.Send(reply); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := b.Send(reply); err != nil {
		t.Fatalf("resend: %v", err)
	}

	waitEvent[MoveApplied](t, host, time.Second)
	// The duplicate must be silently dropped: still white to move, two
	// half-moves on the board.
	st := host.State()
	if st.Turn != proto.White {
		t.Fatalf("after duplicate delivery: want white to move, got %s", st.Turn)
	}
}

func TestDraw_AcceptEndsBothSides(t *testing.T) {
	host, guest := startPair(t, pvpSettings(proto.Unlimited))

	if err := guest.OfferDraw(); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if err := guest.OfferDraw(); !errors.Is(err, ErrOfferPending) {
		t.Fatalf("double offer: want ErrOfferPending, got %v", err)
	}
	waitEvent[DrawOffered](t, host, time.Second)

	if err := host.AcceptDraw(); err != nil {
		t.Fatalf("accept: %v", err)
	}
	he := waitEvent[GameEnded](t, host, time.Second)
	ge := waitEvent[GameEnded](t, guest, time.Second)
	if he.Outcome.Result != ResultDrawAgreement || ge.Outcome.Result != ResultDrawAgreement {
		t.Fatalf("want draw-agreement on both sides, got %s / %s", he.Outcome.Result, ge.Outcome.Result)
	}
	if he.Outcome.Winner != "" {
		t.Fatalf("draw must have no winner, got %s", he.Outcome.Winner)
	}
	if err := host.MakeMove("e2e4"); !errors.Is(err, ErrGameOver) {
		t.Fatalf("move after draw: want ErrGameOver, got %v", err)
	}
}

func TestDraw_DeclineLeavesGameRunning(t *testing.T) {
	host, guest := startPair(t, pvpSettings(proto.Unlimited))

	if err := host.OfferDraw(); err != nil {
		t.Fatalf("offer: %v", err)
	}
	waitEvent[DrawOffered](t, guest, time.Second)
	if err := guest.DeclineDraw(); err != nil {
		t.Fatalf("decline: %v", err)
	}
	waitEvent[DrawDeclined](t, host, time.Second)

	// The offer slot is free again and play continues.
	if err := host.OfferDraw(); err != nil {
		t.Fatalf("re-offer after decline: %v", err)
	}
	if err := host.MakeMove("d2d4"); err != nil {
		t.Fatalf("move after decline: %v", err)
	}
}

func TestDraw_AnswerAfterGameOverRejected(t *testing.T) {
	a, b := transport.Pipe()
	settings := pvpSettings(proto.Unlimited)
	host := New(Config{Transport: a, Settings: &settings})
	defer host.Stop()
	recvFrame(t, b, proto.MsgSettings, time.Second)

	// An offer arrives, then the peer resigns before it is answered.
	if err := b.Send(proto.SessionMessage{Type: proto.MsgOfferDraw}); err != nil {
		t.Fatalf("send offer: %v", err)
	}
	waitEvent[DrawOffered](t, host, time.Second)
	if err := b.Send(proto.SessionMessage{Type: proto.MsgResign}); err != nil {
		t.Fatalf("send resign: %v", err)
	}
	waitEvent[GameEnded](t, host, time.Second)

	if err := host.AcceptDraw(); !errors.Is(err, ErrGameOver) {
		t.Fatalf("accept after game over: want ErrGameOver, got %v", err)
	}
	// No stray draw-accepted frame may reach the peer.
	select {
	case ev := <-b.Events():
		if d, ok := ev.(transport.Data); ok {
			t.Fatalf("unexpected frame after rejected accept: %+v", d.Msg)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestResign_WinnerIsOtherColor(t *testing.T) {
	host, guest := startPair(t, pvpSettings(proto.Unlimited))

	// Guest holds black; resigning hands white the win on both sides.
	if err := guest.Resign(); err != nil {
		t.Fatalf("resign: %v", err)
	}
	ge := waitEvent[GameEnded](t, guest, time.Second)
	he := waitEvent[GameEnded](t, host, time.Second)
	if ge.Outcome.Result != ResultResignation || ge.Outcome.Winner != proto.White {
		t.Fatalf("guest outcome: got %+v", ge.Outcome)
	}
	if he.Outcome.Result != ResultResignation || he.Outcome.Winner != proto.White {
		t.Fatalf("host outcome: got %+v", he.Outcome)
	}
}

func TestChat_TextAndVoiceRelayed(t *testing.T) {
	host, guest := startPair(t, pvpSettings(proto.Unlimited))

	host.SendChat("good luck")
	ev := waitEvent[ChatReceived](t, guest, time.Second)
	if ev.Message != "good luck" || ev.Audio != "" {
		t.Fatalf("chat: got %+v", ev)
	}

	guest.SendVoice("UklGRg==", 3)
	vo := waitEvent[ChatReceived](t, host, time.Second)
	if vo.Audio != "UklGRg==" || vo.Duration != 3 {
		t.Fatalf("voice: got %+v", vo)
	}
}

func TestCall_FullNegotiationAndBusy(t *testing.T) {
	host, guest := startPair(t, pvpSettings(proto.Unlimited))

	if err := host.RequestCall(proto.CallVideo); err != nil {
		t.Fatalf("request: %v", err)
	}
	inc := waitEvent[IncomingCall](t, guest, time.Second)
	if inc.Kind != proto.CallVideo {
		t.Fatalf("incoming kind: got %s", inc.Kind)
	}
	if err := guest.AcceptCall(); err != nil {
		t.Fatalf("accept: %v", err)
	}
	waitEvent[CallStarted](t, guest, time.Second)
	waitEvent[CallStarted](t, host, time.Second)

	// One call at a time, on either side.
	if err := guest.RequestCall(proto.CallAudio); !errors.Is(err, ErrCallBusy) {
		t.Fatalf("second call: want ErrCallBusy, got %v", err)
	}

	if err := host.EndCall(); err != nil {
		t.Fatalf("end: %v", err)
	}
	waitEvent[CallFinished](t, host, time.Second)
	waitEvent[CallFinished](t, guest, time.Second)
	if st := guest.State(); st.CallState != CallIdle {
		t.Fatalf("after end: want idle, got %s", st.CallState)
	}
}

func TestCall_WireBusyProtocol(t *testing.T) {
	a, b := transport.Pipe()
	settings := pvpSettings(proto.Unlimited)
	host := New(Config{Transport: a, Settings: &settings})
	defer host.Stop()
	recvFrame(t, b, proto.MsgSettings, time.Second)

	// Bring the host into a connected call.
	if err := b.Send(proto.SessionMessage{Type: proto.MsgCallRequest, CallType: proto.CallVideo}); err != nil {
		t.Fatalf("send call-request: %v", err)
	}
	waitEvent[IncomingCall](t, host, time.Second)
	if err := host.AcceptCall(); err != nil {
		t.Fatalf("accept: %v", err)
	}
	recvFrame(t, b, proto.MsgCallAccepted, time.Second)

	// A second call-request to a non-idle receiver must be answered busy
	// and leave the call untouched.
	if err := b.Send(proto.SessionMessage{Type: proto.MsgCallRequest, CallType: proto.CallAudio}); err != nil {
		t.Fatalf("send second call-request: %v", err)
	}
	recvFrame(t, b, proto.MsgCallBusy, time.Second)
	if st := host.State(); st.CallState != CallConnected {
		t.Fatalf("busy reply changed call state: got %s", st.CallState)
	}

	// Wind down, then play the initiator side: a busy answer to our own
	// request surfaces as unavailable and frees the slot.
	if err := host.EndCall(); err != nil {
		t.Fatalf("end: %v", err)
	}
	recvFrame(t, b, proto.MsgCallEnded, time.Second)

	if err := host.RequestCall(proto.CallAudio); err != nil {
		t.Fatalf("request: %v", err)
	}
	recvFrame(t, b, proto.MsgCallRequest, time.Second)
	if err := b.Send(proto.SessionMessage{Type: proto.MsgCallBusy}); err != nil {
		t.Fatalf("send call-busy: %v", err)
	}
	waitEvent[CallUnavailable](t, host, time.Second)
	if st := host.State(); st.CallState != CallIdle {
		t.Fatalf("after busy answer: want idle, got %s", st.CallState)
	}
}

func TestCall_RejectReportsUnavailable(t *testing.T) {
	host, guest := startPair(t, pvpSettings(proto.Unlimited))

	if err := host.RequestCall(proto.CallAudio); err != nil {
		t.Fatalf("request: %v", err)
	}
	waitEvent[IncomingCall](t, guest, time.Second)
	if err := guest.RejectCall(); err != nil {
		t.Fatalf("reject: %v", err)
	}
	waitEvent[CallUnavailable](t, host, time.Second)
	if st := host.State(); st.CallState != CallIdle {
		t.Fatalf("after reject: want idle, got %s", st.CallState)
	}
}

func TestClock_TimeoutAfterInitialSeconds(t *testing.T) {
	a, b := transport.Pipe()
	settings := pvpSettings("1+0") // 60 seconds
	ticks := make(chan time.Time, 64)
	host := New(Config{Transport: a, Settings: &settings, Ticks: ticks})
	guest := New(Config{Transport: b, Ticks: make(chan time.Time)})
	defer host.Stop()
	defer guest.Stop()
	waitEvent[SettingsAgreed](t, guest, time.Second)

	// Nobody moves: all 60 ticks land on white.
	for i := 0; i < 60; i++ {
		ticks <- time.Now()
	}

	low := waitEvent[LowTime](t, host, time.Second)
	if low.Color != proto.White || low.Remaining != 20 {
		t.Fatalf("first alert: got %+v", low)
	}
	low = waitEvent[LowTime](t, host, time.Second)
	if low.Remaining != 10 {
		t.Fatalf("second alert: got %+v", low)
	}
	end := waitEvent[GameEnded](t, host, time.Second)
	if end.Outcome.Result != ResultTimeout || end.Outcome.Winner != proto.Black {
		t.Fatalf("timeout outcome: got %+v", end.Outcome)
	}
}

func TestClock_IncrementCreditsTheMover(t *testing.T) {
	a, b := transport.Pipe()
	settings := pvpSettings("5+3")
	host := New(Config{Transport: a, Settings: &settings, Ticks: make(chan time.Time)})
	guest := New(Config{Transport: b, Ticks: make(chan time.Time)})
	defer host.Stop()
	defer guest.Stop()
	waitEvent[SettingsAgreed](t, guest, time.Second)

	if err := host.MakeMove("e2e4"); err != nil {
		t.Fatalf("move: %v", err)
	}
	waitEvent[MoveApplied](t, host, time.Second)
	st := host.State()
	if st.WhiteClock != 303 {
		t.Fatalf("white clock after increment: want 303, got %d", st.WhiteClock)
	}
	if st.BlackClock != 300 {
		t.Fatalf("black clock untouched: want 300, got %d", st.BlackClock)
	}
}

func TestClock_SuspendedWhileDisconnected(t *testing.T) {
	a, b := transport.Pipe()
	settings := pvpSettings("3+0")
	ticks := make(chan time.Time, 8)
	host := New(Config{Transport: a, Settings: &settings, Ticks: ticks})
	defer host.Stop()
	recvFrame(t, b, proto.MsgSettings, time.Second)

	_ = b.Close()
	waitEvent[Disconnected](t, host, time.Second)

	for i := 0; i < 5; i++ {
		ticks <- time.Now()
	}
	// Give the loop a chance to drain the ticks.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(ticks) == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st := host.State(); st.WhiteClock != 180 {
		t.Fatalf("clock ticked while disconnected: got %d", st.WhiteClock)
	}
}

func TestResume_RestoresSettingsAndClears(t *testing.T) {
	st := store.NewMemory()
	a, b := transport.Pipe()
	settings := proto.Settings{Mode: proto.ModePVP, Color: proto.Black, TimeControl: "10+5"}
	host := New(Config{Transport: a, Settings: &settings, RemoteID: "peer-42", Store: st})
	recvFrame(t, b, proto.MsgSettings, time.Second)

	// Stop keeps the snapshot.
	host.Stop()
	<-host.Done()

	a2, b2 := transport.Pipe()
	resumed, err := Resume(Config{Transport: a2, Store: st})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	frame := recvFrame(t, b2, proto.MsgSettings, time.Second)
	if frame.Settings.Color != proto.Black || frame.Settings.TimeControl != "10+5" {
		t.Fatalf("resumed settings: got %+v", frame.Settings)
	}
	sv := resumed.State()
	if sv.Role != RoleHost {
		t.Fatalf("resumed role: want host, got %s", sv.Role)
	}

	// Leave clears the snapshot; a second resume must fail.
	resumed.Leave()
	<-resumed.Done()
	a3, _ := transport.Pipe()
	if _, err := Resume(Config{Transport: a3, Store: st}); !errors.Is(err, ErrNoResume) {
		t.Fatalf("resume after leave: want ErrNoResume, got %v", err)
	}
}

func TestAttach_RequiresFreshNegotiation(t *testing.T) {
	a, b := transport.Pipe()
	settings := pvpSettings(proto.Unlimited)
	host := New(Config{Transport: a, Settings: &settings})
	guest := New(Config{Transport: b})
	defer host.Stop()
	defer guest.Stop()
	waitEvent[SettingsAgreed](t, guest, time.Second)

	// Replace the guest's channel with one whose far end stays silent.
	na, nb := transport.Pipe()
	guest.Attach(na)
	if err := guest.MakeMove("e7e5"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("move on fresh channel: want ErrNotReady, got %v", err)
	}

	// The settings frame re-arms the channel.
	remote := proto.Settings{Mode: proto.ModePVP, Color: proto.White, TimeControl: proto.Unlimited}
	if err := nb.Send(proto.SessionMessage{Type: proto.MsgSettings, Settings: &remote}); err != nil {
		t.Fatalf("send settings: %v", err)
	}
	waitEvent[SettingsAgreed](t, guest, time.Second)
	if err := guest.MakeMove("e7e5"); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("after renegotiation: want ErrNotYourTurn (white to move), got %v", err)
	}
}

func TestFocus_RelayedWhenAntiCheatOn(t *testing.T) {
	a, b := transport.Pipe()
	settings := pvpSettings(proto.Unlimited)
	host := New(Config{Transport: a, Settings: &settings, AntiCheat: true})
	guest := New(Config{Transport: b, AntiCheat: true})
	defer host.Stop()
	defer guest.Stop()
	waitEvent[SettingsAgreed](t, guest, time.Second)

	host.SetFocused(false)
	ev := waitEvent[OpponentFocus](t, guest, time.Second)
	if ev.Focused {
		t.Fatalf("want focus lost, got focused")
	}
	host.SetFocused(true)
	ev = waitEvent[OpponentFocus](t, guest, time.Second)
	if !ev.Focused {
		t.Fatalf("want focus regained")
	}
}

// stubAnalyzer plays one scripted reply and a fixed evaluation.
type stubAnalyzer struct {
	reply string
}

func (a stubAnalyzer) Evaluate(string, int) (float64, error) { return 0.3, nil }

func (a stubAnalyzer) BestMove(string, int) (string, error) { return a.reply, nil }

func TestEngineMode_EngineAnswersAndEvalFlows(t *testing.T) {
	settings := proto.Settings{Mode: proto.ModeEngine, Color: proto.White, TimeControl: proto.Unlimited, Elo: 1600}
	s := New(Config{
		Transport: transport.Local(),
		Settings:  &settings,
		Analyzer:  stubAnalyzer{reply: "e7e5"},
	})
	defer s.Stop()

	if err := s.MakeMove("e2e4"); err != nil {
		t.Fatalf("move: %v", err)
	}
	// Own move first, then the engine's scripted answer.
	own := waitEvent[MoveApplied](t, s, time.Second)
	if own.Remote || own.Move != "e2e4" {
		t.Fatalf("own move event: got %+v", own)
	}
	reply := waitEvent[MoveApplied](t, s, time.Second)
	if !reply.Remote || reply.Move != "e7e5" {
		t.Fatalf("engine reply: got %+v", reply)
	}
	ev := waitEvent[Evaluation](t, s, time.Second)
	if ev.Score != 0.3 {
		t.Fatalf("evaluation: got %+v", ev)
	}
	if st := s.State(); st.Turn != proto.White {
		t.Fatalf("after engine reply: want white to move, got %s", st.Turn)
	}
}

func TestScholarsMate_EndsWithCheckmate(t *testing.T) {
	host, guest := startPair(t, pvpSettings(proto.Unlimited))

	moves := []struct {
		s  *Session
		mv string
	}{
		{host, "e2e4"}, {guest, "e7e5"},
		{host, "d1h5"}, {guest, "b8c6"},
		{host, "f1c4"}, {guest, "g8f6"},
		{host, "h5f7"},
	}
	for _, m := range moves {
		if err := m.s.MakeMove(m.mv); err != nil {
			t.Fatalf("move %s: %v", m.mv, err)
		}
		// Wait for the relay to land before the other side moves.
		other := host
		if m.s == host {
			other = guest
		}
		waitEvent[MoveApplied](t, other, time.Second)
	}

	he := waitEvent[GameEnded](t, host, time.Second)
	ge := waitEvent[GameEnded](t, guest, time.Second)
	if he.Outcome.Result != ResultCheckmate || he.Outcome.Winner != proto.White {
		t.Fatalf("host outcome: got %+v", he.Outcome)
	}
	if ge.Outcome.Result != ResultCheckmate || ge.Outcome.Winner != proto.White {
		t.Fatalf("guest outcome: got %+v", ge.Outcome)
	}
}
