package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/jgalvez/chesslink/internal/proto"
)

// WSHandler upgrades /ws?peer=<id> connections. Each peer gets an outbox
// registered with the hub; frames it reads are routed by their To field.
func WSHandler(h *Hub, log *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerID := r.URL.Query().Get("peer")
		if peerID == "" {
			http.Error(w, "missing peer", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// Browsers dial from arbitrary origins during local dev.
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan proto.SignalMessage, 16)
		h.Inbox() <- Subscribe{PeerID: peerID, Outbox: out}
		defer func() { h.Inbox() <- Unsubscribe{PeerID: peerID, Outbox: out} }()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for frame := range out {
				payload, err := frame.Encode()
				if err != nil {
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			frame, err := proto.DecodeSignal(data)
			if err != nil {
				log.Debugw("bad signal frame", "peer", peerID, "err", err)
				continue
			}
			// The sender identity comes from the connection, not the frame.
			frame.From = peerID

			switch frame.Type {
			case proto.SignalOffer, proto.SignalAnswer, proto.SignalCandidate:
				h.Inbox() <- Route{Msg: frame}
			default:
				log.Debugw("unroutable frame type", "peer", peerID, "type", frame.Type)
			}
		}
	}
}
