package proto

import "encoding/json"

// MsgType tags a SessionMessage. Unknown tags are ignored by receivers so
// that peers with version skew keep talking.
type MsgType string

const (
	MsgSettings     MsgType = "settings"
	MsgMove         MsgType = "move"
	MsgChat         MsgType = "chat"
	MsgResign       MsgType = "resign"
	MsgOfferDraw    MsgType = "offer-draw"
	MsgDrawAccepted MsgType = "draw-accepted"
	MsgDrawDeclined MsgType = "draw-declined"
	MsgCallRequest  MsgType = "call-request"
	MsgCallAccepted MsgType = "call-accepted"
	MsgCallRejected MsgType = "call-rejected"
	MsgCallBusy     MsgType = "call-busy"
	MsgCallEnded    MsgType = "call-ended"
	MsgFocusLost    MsgType = "focus-lost"
	MsgFocusGained  MsgType = "focus-gained"
)

// GameMode selects the opponent kind for a session.
type GameMode string

const (
	ModePVP    GameMode = "pvp"
	ModeEngine GameMode = "vs-engine"
	ModeBridge GameMode = "remote-bridge"
)

// Color of one side. The two parties always hold complementary colors once
// settings are reconciled.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Settings is the payload the host sends the instant the channel opens.
// The guest adopts it with Color inverted.
type Settings struct {
	Mode        GameMode `json:"mode"`
	Color       Color    `json:"color"`
	TimeControl string   `json:"timeControl"` // "unlimited" or "min+inc", e.g. "10+0"
	Elo         int      `json:"elo,omitempty"`
}

// Inverted returns the settings as seen from the other side of the board.
func (s Settings) Inverted() Settings {
	out := s
	out.Color = s.Color.Other()
	return out
}

// CallKind distinguishes a voice-only call from a video call.
type CallKind string

const (
	CallAudio CallKind = "audio"
	CallVideo CallKind = "video"
)

// SessionMessage is one wire unit exchanged between two sessions. Exactly
// one payload group is populated depending on Type.
type SessionMessage struct {
	Type     MsgType   `json:"type"`
	Settings *Settings `json:"settings,omitempty"`
	Move     string    `json:"move,omitempty"` // UCI, e.g. "e2e4", "e7e8q"
	Message  string    `json:"message,omitempty"`
	Audio    string    `json:"audio,omitempty"` // base64 voice clip
	Duration int       `json:"duration,omitempty"`
	CallType CallKind  `json:"callType,omitempty"`
}

func (m SessionMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a wire frame. Malformed frames error; a well-formed frame
// with an unrecognized Type is returned as-is for the receiver to ignore.
func Decode(data []byte) (SessionMessage, error) {
	var m SessionMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return SessionMessage{}, err
	}
	return m, nil
}
