package relay

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/jgalvez/chesslink/internal/proto"
)

// Msg is the sealed set of hub inbox messages.
type Msg interface{ isHubMsg() }

type Subscribe struct {
	PeerID string
	Outbox chan proto.SignalMessage
}

func (Subscribe) isHubMsg() {}

// Unsubscribe removes a registration, but only if Outbox is still the
// registered channel. A reconnect under the same peer ID replaces the
// registration, and the old handler's deferred Unsubscribe must not tear
// down the fresh one.
type Unsubscribe struct {
	PeerID string
	Outbox chan proto.SignalMessage
}

func (Unsubscribe) isHubMsg() {}

// Route forwards a signaling frame to the peer named in To. Frames for
// unknown peers are dropped.
type Route struct{ Msg proto.SignalMessage }

func (Route) isHubMsg() {}

// Announce re-reads the listing store and pushes the challenge board to
// every subscriber. Sent after any board mutation.
type Announce struct{}

func (Announce) isHubMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isHubMsg() {}

type Shutdown struct{}

func (Shutdown) isHubMsg() {}

// View reflects internal state for tests without data races.
type View struct {
	NumPeers int
}

type Hub struct {
	inbox    chan Msg
	peers    map[string]chan proto.SignalMessage
	store    ListingStore
	ttl      time.Duration
	log      *zap.SugaredLogger
	ctx      context.Context
	cancel   context.CancelFunc
	sweepEvs <-chan time.Time
}

type HubConfig struct {
	Store  ListingStore
	TTL    time.Duration // listing lifetime; zero disables the sweep
	Logger *zap.SugaredLogger
	// Sweeps overrides the sweep timer in tests.
	Sweeps <-chan time.Time
}

func NewHub(parent context.Context, cfg HubConfig) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	h := &Hub{
		inbox:  make(chan Msg, 64),
		peers:  make(map[string]chan proto.SignalMessage),
		store:  cfg.Store,
		ttl:    cfg.TTL,
		log:    cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
	h.sweepEvs = cfg.Sweeps
	if h.sweepEvs == nil && cfg.TTL > 0 {
		tk := time.NewTicker(cfg.TTL / 4)
		h.sweepEvs = tk.C
		go func() {
			<-ctx.Done()
			tk.Stop()
		}()
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- Msg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case <-h.sweepEvs:
			h.sweep()

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Subscribe:
				if old, ok := h.peers[msg.PeerID]; ok {
					close(old)
				}
				h.peers[msg.PeerID] = msg.Outbox
				// New subscriber gets the current board immediately.
				h.sendBoard(msg.PeerID, msg.Outbox)

			case Unsubscribe:
				ch, ok := h.peers[msg.PeerID]
				if !ok || ch != msg.Outbox {
					// Stale: the peer already reconnected with a new outbox.
					break
				}
				close(ch)
				delete(h.peers, msg.PeerID)
				// A host leaving takes its open challenges with it.
				if n, err := h.store.DeleteByHost(h.ctx, msg.PeerID); err == nil && n > 0 {
					h.broadcastBoard()
				}

			case Route:
				ch, ok := h.peers[msg.Msg.To]
				if !ok {
					h.log.Debugw("drop frame for unknown peer", "to", msg.Msg.To, "type", msg.Msg.Type)
					break
				}
				h.deliver(msg.Msg.To, ch, msg.Msg)

			case Announce:
				h.broadcastBoard()

			case GetState:
				msg.Reply <- View{NumPeers: len(h.peers)}

			case Shutdown:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) sweep() {
	if h.ttl <= 0 {
		return
	}
	n, err := h.store.Sweep(h.ctx, time.Now().Add(-h.ttl))
	if err != nil {
		h.log.Warnw("listing sweep failed", "err", err)
		return
	}
	if n > 0 {
		h.log.Infow("swept stale listings", "count", n)
		h.broadcastBoard()
	}
}

func (h *Hub) boardFrame() (proto.SignalMessage, bool) {
	listings, err := h.store.List(h.ctx)
	if err != nil {
		h.log.Warnw("list challenges failed", "err", err)
		return proto.SignalMessage{}, false
	}
	if listings == nil {
		listings = []proto.Listing{}
	}
	payload, err := json.Marshal(listings)
	if err != nil {
		return proto.SignalMessage{}, false
	}
	return proto.SignalMessage{Type: proto.SignalChallenges, Payload: payload}, true
}

func (h *Hub) sendBoard(id string, ch chan proto.SignalMessage) {
	frame, ok := h.boardFrame()
	if !ok {
		return
	}
	h.deliver(id, ch, frame)
}

func (h *Hub) broadcastBoard() {
	frame, ok := h.boardFrame()
	if !ok {
		return
	}
	for id, ch := range h.peers {
		h.deliver(id, ch, frame)
	}
}

func (h *Hub) deliver(id string, ch chan proto.SignalMessage, m proto.SignalMessage) {
	select {
	case ch <- m:
	default:
		// Peer is slow/full - drop them.
		close(ch)
		delete(h.peers, id)
	}
}

func (h *Hub) shutdown() {
	for id, ch := range h.peers {
		close(ch)
		delete(h.peers, id)
	}
	h.cancel()
}
