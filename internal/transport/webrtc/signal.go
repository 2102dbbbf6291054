package webrtc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"

	"github.com/jgalvez/chesslink/internal/proto"
)

const signalWriteTimeout = 3 * time.Second

// signalClient is the websocket leg to the relay used to exchange SDP and
// ICE with one peer. Challenge-list frames arriving on the same socket are
// ignored here; the challenge browser holds its own subscription.
type signalClient struct {
	conn   *websocket.Conn
	local  string
	remote string
	inbox  chan proto.SignalMessage
	ctx    context.Context
	cancel context.CancelFunc
}

func dialSignal(ctx context.Context, url, localID, remoteID string) (*signalClient, error) {
	conn, _, err := websocket.Dial(ctx, url+"?peer="+localID, nil)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithCancel(context.Background())
	c := &signalClient{
		conn:   conn,
		local:  localID,
		remote: remoteID,
		inbox:  make(chan proto.SignalMessage, 16),
		ctx:    cctx,
		cancel: cancel,
	}
	go c.readLoop()
	return c, nil
}

func (c *signalClient) readLoop() {
	defer close(c.inbox)
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}
		msg, err := proto.DecodeSignal(data)
		if err != nil {
			continue
		}
		switch msg.Type {
		case proto.SignalOffer, proto.SignalAnswer, proto.SignalCandidate:
			select {
			case c.inbox <- msg:
			default:
			}
		}
	}
}

func (c *signalClient) send(t proto.SignalType, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := proto.SignalMessage{Type: t, From: c.local, To: c.remote, Payload: raw}.Encode()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.ctx, signalWriteTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, frame)
}

func (c *signalClient) close() {
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
}
