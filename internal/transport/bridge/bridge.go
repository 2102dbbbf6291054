// Package bridge adapts a Lichess-hosted game into the peer transport
// contract: the server's NDJSON event stream becomes data events (settings
// first, then a replay of every recorded move, then live relay) and
// outgoing moves and chat become board-API calls. The session cannot tell
// it apart from a real peer.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jgalvez/chesslink/internal/proto"
	"github.com/jgalvez/chesslink/internal/transport"
)

var ErrStreamStatus = errors.New("unexpected stream status")

const defaultBaseURL = "https://lichess.org"

type Options struct {
	GameID     string
	Token      string
	Color      proto.Color // our side on the server; defaults to white
	BaseURL    string      // overridable for tests
	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
}

type Transport struct {
	opts   Options
	events chan transport.Event
	cancel context.CancelFunc
	log    *zap.SugaredLogger

	mu      sync.Mutex
	closed  bool
	replayN int // moves already relayed from the server record
}

// Connect opens the game stream. Events begin flowing immediately: Open,
// then a synthesized settings frame as if the remote host had sent one.
func Connect(ctx context.Context, opts Options) (*Transport, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Color == "" {
		opts.Color = proto.White
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	sctx, cancel := context.WithCancel(ctx)
	t := &Transport{
		opts:   opts,
		events: make(chan transport.Event, 64),
		cancel: cancel,
		log:    opts.Logger,
	}

	resp, err := t.get(sctx, "/api/board/game/stream/"+opts.GameID)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrStreamStatus, resp.Status)
	}

	t.emit(transport.Open{})
	go t.streamLoop(resp)
	return t, nil
}

// streamEvent is the subset of the board stream we consume.
type streamEvent struct {
	Type  string `json:"type"`
	Moves string `json:"moves"` // gameState
	State *struct {
		Moves  string `json:"moves"`
		Status string `json:"status"`
	} `json:"state"` // gameFull
	Clock  *streamClock `json:"clock"`
	Status string       `json:"status"`
}

type streamClock struct {
	Initial   int `json:"initial"`   // millis
	Increment int `json:"increment"` // millis
}

func (t *Transport) streamLoop(resp *http.Response) {
	defer resp.Body.Close()
	defer t.emitClosed()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.log.Debugw("bad stream line", "err", err)
			continue
		}
		t.handleStreamEvent(ev)
	}
}

func (t *Transport) handleStreamEvent(ev streamEvent) {
	switch ev.Type {
	case "gameFull":
		// Simulate the remote host's settings frame: the opponent "owns"
		// the inverse of our color.
		settings := proto.Settings{
			Mode:        proto.ModePVP,
			Color:       t.opts.Color.Other(),
			TimeControl: clockToTimeControl(ev.Clock),
		}
		t.emit(transport.Data{Msg: proto.SessionMessage{Type: proto.MsgSettings, Settings: &settings}})
		if ev.State != nil {
			// First synchronization replays the full server-side record.
			t.relayMoves(ev.State.Moves)
			t.relayStatus(ev.State.Status)
		}
	case "gameState":
		t.relayMoves(ev.Moves)
		t.relayStatus(ev.Status)
	}
}

// relayMoves forwards any moves beyond what was already relayed, keeping
// the replay idempotent across stream snapshots.
func (t *Transport) relayMoves(moves string) {
	all := strings.Fields(moves)
	t.mu.Lock()
	start := t.replayN
	if start > len(all) {
		start = len(all)
	}
	t.replayN = len(all)
	t.mu.Unlock()
	for _, mv := range all[start:] {
		t.emit(transport.Data{Msg: proto.SessionMessage{Type: proto.MsgMove, Move: mv}})
	}
}

func (t *Transport) relayStatus(status string) {
	// Board-detectable endings (mate, stalemate, draws) are left to the
	// local rules replica; only a server-side resignation needs a frame.
	if status == "resign" {
		t.emit(transport.Data{Msg: proto.SessionMessage{Type: proto.MsgResign}})
	}
}

func clockToTimeControl(c *streamClock) string {
	if c == nil || c.Initial <= 0 {
		return proto.Unlimited
	}
	return fmt.Sprintf("%d+%d", c.Initial/60000, c.Increment/1000)
}

func (t *Transport) Send(msg proto.SessionMessage) error {
	switch msg.Type {
	case proto.MsgMove:
		if err := t.post("/api/board/game/"+t.opts.GameID+"/move/"+msg.Move, nil); err != nil {
			return err
		}
		// Only a move the server accepted will appear in the next
		// gameState; a failed post must not advance the replay cursor.
		t.mu.Lock()
		t.replayN++
		t.mu.Unlock()
		return nil
	case proto.MsgChat:
		form := url.Values{"room": {"player"}, "text": {msg.Message}}
		return t.post("/api/board/game/"+t.opts.GameID+"/chat", form)
	case proto.MsgResign:
		return t.post("/api/board/game/"+t.opts.GameID+"/resign", nil)
	default:
		// The server has no channel for the rest of the sub-protocol.
		return nil
	}
}

func (t *Transport) Events() <-chan transport.Event { return t.events }

func (t *Transport) Close() error {
	t.emitClosed()
	t.cancel()
	return nil
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
	t.mu.Unlock()
	t.emit(transport.Closed{})
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

func (t *Transport) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.opts.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	t.authorize(req)
	return t.opts.HTTPClient.Do(req)
}

func (t *Transport) post(path string, form url.Values) error {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req, err := http.NewRequest(http.MethodPost, t.opts.BaseURL+path, body)
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	t.authorize(req)
	resp, err := t.opts.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s", ErrStreamStatus, resp.Status)
	}
	return nil
}

func (t *Transport) authorize(req *http.Request) {
	if t.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.opts.Token)
	}
}
