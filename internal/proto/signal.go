package proto

import "encoding/json"

// Relay wire shapes: challenge listings and WebRTC signaling frames. Both
// travel over the relay's websocket; REST mutations use Listing directly.

// SignalType tags a SignalMessage.
type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
	// SignalChallenges carries the full open-challenge list; the relay
	// broadcasts it to every subscriber on any mutation.
	SignalChallenges SignalType = "challenges"
)

// SignalMessage is one relay websocket frame. Offer/answer/candidate frames
// are forwarded verbatim to the peer named in To; the relay never inspects
// Payload.
type SignalMessage struct {
	Type    SignalType      `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (m SignalMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func DecodeSignal(data []byte) (SignalMessage, error) {
	var m SignalMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return SignalMessage{}, err
	}
	return m, nil
}

// Listing is one open challenge in the public directory.
type Listing struct {
	ID          string `json:"id"`
	HostID      string `json:"hostId"` // peer id to dial once accepted
	Name        string `json:"name"`
	Elo         int    `json:"elo,omitempty"`
	TimeControl string `json:"timeControl"`
	Color       Color  `json:"color"`
	CreatedAt   int64  `json:"createdAt"` // unix millis
}
