package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jgalvez/chesslink/internal/proto"
)

// createChallengeReq is the POST /challenges body. The server assigns the
// listing ID and timestamp.
type createChallengeReq struct {
	HostID      string      `json:"hostId"`
	Name        string      `json:"name"`
	Elo         int         `json:"elo"`
	TimeControl string      `json:"timeControl"`
	Color       proto.Color `json:"color"`
}

func CreateChallenge(h *Hub, store ListingStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createChallengeReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.HostID == "" || req.Name == "" {
			http.Error(w, "missing hostId or name", http.StatusBadRequest)
			return
		}
		if req.TimeControl == "" {
			req.TimeControl = proto.Unlimited
		}
		if _, err := proto.ParseTimeControl(req.TimeControl); err != nil {
			http.Error(w, "bad time control", http.StatusBadRequest)
			return
		}
		if req.Color == "" {
			req.Color = proto.White
		}

		listing := proto.Listing{
			ID:          uuid.NewString(),
			HostID:      req.HostID,
			Name:        req.Name,
			Elo:         req.Elo,
			TimeControl: req.TimeControl,
			Color:       req.Color,
			CreatedAt:   time.Now().UnixMilli(),
		}
		if err := store.Create(r.Context(), listing); err != nil {
			http.Error(w, "failed to create challenge", http.StatusInternalServerError)
			return
		}
		h.Inbox() <- Announce{}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(listing)
	}
}

func ListChallenges(store ListingStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listings, err := store.List(r.Context())
		if err != nil {
			http.Error(w, "failed to list challenges", http.StatusInternalServerError)
			return
		}
		if listings == nil {
			listings = []proto.Listing{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(listings)
	}
}

func DeleteChallenge(h *Hub, store ListingStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := store.Delete(r.Context(), id); err != nil {
			if errors.Is(err, ErrListingNotFound) {
				http.Error(w, "challenge not found", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to delete challenge", http.StatusInternalServerError)
			return
		}
		h.Inbox() <- Announce{}
		w.WriteHeader(http.StatusNoContent)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func SetupRoutes(h *Hub, store ListingStore, log *zap.SugaredLogger) http.Handler {
	r := chi.NewRouter()

	r.Post("/challenges", CreateChallenge(h, store))
	r.Get("/challenges", ListChallenges(store))
	r.Delete("/challenges/{id}", DeleteChallenge(h, store))
	r.Get("/healthz", Healthz)
	r.Get("/ws", WSHandler(h, log))
	return r
}
