package session

import "github.com/jgalvez/chesslink/internal/proto"

// Event is one notification to the session's consumer (the UI layer).
// Emission never blocks the session loop; a consumer that stops draining
// loses events rather than stalling the protocol.
type Event interface{ isSessionEvent() }

// SettingsAgreed fires once both sides hold reconciled settings.
type SettingsAgreed struct{ Settings proto.Settings }

// MoveApplied fires after a move is committed to the local replica.
type MoveApplied struct {
	Move   string
	FEN    string
	Remote bool
}

// ChatReceived carries a peer text message or voice clip.
type ChatReceived struct {
	Message  string
	Audio    string // base64 clip, empty for text
	Duration int    // seconds, voice only
}

// DrawOffered: the peer offered a draw; answer with AcceptDraw/DeclineDraw.
type DrawOffered struct{}

// DrawDeclined: the peer declined our offer. Informational toast only.
type DrawDeclined struct{}

// IncomingCall: the peer requests a call; answer with AcceptCall/RejectCall.
type IncomingCall struct{ Kind proto.CallKind }

// CallStarted: both sides are connected; the UI attaches media.
type CallStarted struct{}

// CallFinished: the call ended; the UI releases media.
type CallFinished struct{}

// CallUnavailable: our request was rejected or the peer was busy.
type CallUnavailable struct{}

// LowTime fires when the ticking side crosses an alert threshold.
type LowTime struct {
	Color     proto.Color
	Remaining int
}

// OpponentFocus relays the peer's tab visibility. Advisory only.
type OpponentFocus struct{ Focused bool }

// GameEnded fires exactly once, when the outcome becomes terminal.
type GameEnded struct{ Outcome Outcome }

// Disconnected: the channel closed mid-session. Resumable reports whether a
// persisted snapshot exists for a later Attach.
type Disconnected struct{ Resumable bool }

// Evaluation is a background analysis result for the position after the
// numbered move.
type Evaluation struct {
	MoveNumber int
	Score      float64
}

func (SettingsAgreed) isSessionEvent()  {}
func (MoveApplied) isSessionEvent()     {}
func (ChatReceived) isSessionEvent()    {}
func (DrawOffered) isSessionEvent()     {}
func (DrawDeclined) isSessionEvent()    {}
func (IncomingCall) isSessionEvent()    {}
func (CallStarted) isSessionEvent()     {}
func (CallFinished) isSessionEvent()    {}
func (CallUnavailable) isSessionEvent() {}
func (LowTime) isSessionEvent()         {}
func (OpponentFocus) isSessionEvent()   {}
func (GameEnded) isSessionEvent()       {}
func (Disconnected) isSessionEvent()    {}
func (Evaluation) isSessionEvent()      {}

// Role of this side in the settings handshake.
type Role string

const (
	RoleHost  Role = "host"  // unilaterally chose settings before any handshake
	RoleGuest Role = "guest" // received settings and inverted the color
)

// CallState tracks the single in-flight call negotiation.
type CallState string

const (
	CallIdle      CallState = "idle"
	CallCalling   CallState = "calling"
	CallIncoming  CallState = "incoming"
	CallConnected CallState = "connected"
)

// Result classifies a terminal outcome.
type Result string

const (
	ResultCheckmate     Result = "checkmate"
	ResultStalemate     Result = "stalemate"
	ResultDrawByRule    Result = "draw-by-rule"
	ResultTimeout       Result = "timeout"
	ResultResignation   Result = "resignation"
	ResultDrawAgreement Result = "draw-agreement"
)

// Outcome is immutable once set; no further moves, clock decrements or call
// transitions are accepted afterwards.
type Outcome struct {
	Result Result
	Winner proto.Color // empty for draws
}

// State is a point-in-time view of the session, answered synchronously by
// the loop so reads never race mutations.
type State struct {
	Role             Role
	Negotiated       bool
	Connected        bool
	Settings         *proto.Settings
	FEN              string
	Turn             proto.Color
	WhiteClock       int
	BlackClock       int
	Unlimited        bool
	CallState        CallState
	DrawOfferPending bool
	DrawOfferSent    bool
	Outcome          *Outcome
}
