package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgalvez/chesslink/internal/proto"
	"github.com/jgalvez/chesslink/internal/transport"
)

// fakeServer replays scripted NDJSON stream lines and records board-API
// posts.
type fakeServer struct {
	mu        sync.Mutex
	posts     []string
	failPosts bool
	lines     chan string
	srv       *httptest.Server
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{lines: make(chan string, 16)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/board/game/stream/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fl := w.(http.Flusher)
		for {
			select {
			case line, ok := <-f.lines:
				if !ok {
					return
				}
				_, _ = w.Write([]byte(line + "\n"))
				fl.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	mux.HandleFunc("POST /", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.posts = append(f.posts, r.URL.Path)
		fail := f.failPosts
		f.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		f.srv.Close()
	})
	return f
}

func (f *fakeServer) posted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.posts))
	copy(out, f.posts)
	return out
}

func recvData(t *testing.T, tr transport.Transport, within time.Duration) proto.SessionMessage {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case ev, ok := <-tr.Events():
			if !ok {
				t.Fatalf("events closed unexpectedly")
			}
			switch e := ev.(type) {
			case transport.Data:
				return e.Msg
			case transport.Open:
				// skip
			default:
				t.Fatalf("unexpected event %T", ev)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for data event")
			return proto.SessionMessage{}
		}
	}
}

func TestConnect_SynthesizesSettingsAndReplaysMoves(t *testing.T) {
	f := newFakeServer(t)
	f.lines <- `{"type":"gameFull","clock":{"initial":600000,"increment":2000},"state":{"type":"gameState","moves":"e2e4 e7e5","status":"started"}}`

	tr, err := Connect(context.Background(), Options{
		GameID:  "abc123",
		Color:   proto.Black,
		BaseURL: f.srv.URL,
	})
	require.NoError(t, err)
	defer tr.Close()

	settings := recvData(t, tr, time.Second)
	require.Equal(t, proto.MsgSettings, settings.Type)
	require.NotNil(t, settings.Settings)
	// We play black, so the synthetic remote host claims white.
	assert.Equal(t, proto.White, settings.Settings.Color)
	assert.Equal(t, "10+2", settings.Settings.TimeControl)

	first := recvData(t, tr, time.Second)
	assert.Equal(t, proto.MsgMove, first.Type)
	assert.Equal(t, "e2e4", first.Move)
	second := recvData(t, tr, time.Second)
	assert.Equal(t, "e7e5", second.Move)
}

func TestStream_RelaysOnlyNewMoves(t *testing.T) {
	f := newFakeServer(t)
	f.lines <- `{"type":"gameFull","state":{"type":"gameState","moves":"d2d4","status":"started"}}`

	tr, err := Connect(context.Background(), Options{GameID: "g1", BaseURL: f.srv.URL})
	require.NoError(t, err)
	defer tr.Close()

	settings := recvData(t, tr, time.Second)
	require.Equal(t, proto.MsgSettings, settings.Type)
	// No clock in the snapshot means unlimited play.
	assert.Equal(t, proto.Unlimited, settings.Settings.TimeControl)
	_ = recvData(t, tr, time.Second) // d2d4

	// The next snapshot repeats the old move plus one new one.
	f.lines <- `{"type":"gameState","moves":"d2d4 g8f6","status":"started"}`
	mv := recvData(t, tr, time.Second)
	assert.Equal(t, "g8f6", mv.Move)
}

func TestStream_ResignStatusBecomesResignFrame(t *testing.T) {
	f := newFakeServer(t)
	f.lines <- `{"type":"gameFull","state":{"type":"gameState","moves":"","status":"started"}}`

	tr, err := Connect(context.Background(), Options{GameID: "g2", BaseURL: f.srv.URL})
	require.NoError(t, err)
	defer tr.Close()
	_ = recvData(t, tr, time.Second) // settings

	f.lines <- `{"type":"gameState","moves":"","status":"resign"}`
	msg := recvData(t, tr, time.Second)
	assert.Equal(t, proto.MsgResign, msg.Type)
}

func TestSend_TranslatesToBoardAPI(t *testing.T) {
	f := newFakeServer(t)
	f.lines <- `{"type":"gameFull","state":{"type":"gameState","moves":"","status":"started"}}`

	tr, err := Connect(context.Background(), Options{GameID: "g3", BaseURL: f.srv.URL})
	require.NoError(t, err)
	defer tr.Close()
	_ = recvData(t, tr, time.Second) // settings

	require.NoError(t, tr.Send(proto.SessionMessage{Type: proto.MsgMove, Move: "e2e4"}))
	require.NoError(t, tr.Send(proto.SessionMessage{Type: proto.MsgChat, Message: "hi"}))
	require.NoError(t, tr.Send(proto.SessionMessage{Type: proto.MsgResign}))
	// Frames the server has no channel for are swallowed.
	require.NoError(t, tr.Send(proto.SessionMessage{Type: proto.MsgOfferDraw}))

	posts := f.posted()
	assert.Equal(t, []string{
		"/api/board/game/g3/move/e2e4",
		"/api/board/game/g3/chat",
		"/api/board/game/g3/resign",
	}, posts)

	// Our own move echoed in the next snapshot must not come back as data.
	f.lines <- `{"type":"gameState","moves":"e2e4","status":"started"}`
	f.lines <- `{"type":"gameState","moves":"e2e4 b8c6","status":"started"}`
	mv := recvData(t, tr, time.Second)
	assert.Equal(t, "b8c6", mv.Move)
}

func TestSend_RejectedMoveDoesNotSkipNextServerMove(t *testing.T) {
	f := newFakeServer(t)
	f.lines <- `{"type":"gameFull","state":{"type":"gameState","moves":"","status":"started"}}`

	tr, err := Connect(context.Background(), Options{GameID: "g4", BaseURL: f.srv.URL})
	require.NoError(t, err)
	defer tr.Close()
	_ = recvData(t, tr, time.Second) // settings

	f.mu.Lock()
	f.failPosts = true
	f.mu.Unlock()
	require.Error(t, tr.Send(proto.SessionMessage{Type: proto.MsgMove, Move: "e2e4"}))

	// The server never recorded our move, so the opponent's next move is
	// the whole record and must still be relayed.
	f.lines <- `{"type":"gameState","moves":"d2d4","status":"started"}`
	mv := recvData(t, tr, time.Second)
	assert.Equal(t, "d2d4", mv.Move)
}
