package relay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jgalvez/chesslink/internal/proto"
)

var ErrListingNotFound = errors.New("listing not found")

// ListingStore keeps the open challenge board. Implementations must be
// safe for concurrent use; the hub and the HTTP handlers both touch it.
type ListingStore interface {
	Create(ctx context.Context, l proto.Listing) error
	List(ctx context.Context) ([]proto.Listing, error)
	Delete(ctx context.Context, id string) error
	DeleteByHost(ctx context.Context, hostID string) (int, error)
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// listingRow is the gorm model backing a challenge listing.
type listingRow struct {
	ID          string `gorm:"primaryKey"`
	HostID      string `gorm:"index"`
	Name        string
	Elo         int
	TimeControl string
	Color       proto.Color
	CreatedAt   int64 `gorm:"index"` // unix millis
}

func (listingRow) TableName() string { return "listings" }

type postgresStore struct {
	db *gorm.DB
}

// NewPostgres connects and migrates the listings table.
func NewPostgres(dsn string) (ListingStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&listingRow{}); err != nil {
		return nil, err
	}
	return &postgresStore{db: db}, nil
}

func (s *postgresStore) Create(ctx context.Context, l proto.Listing) error {
	row := listingRow(l)
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *postgresStore) List(ctx context.Context) ([]proto.Listing, error) {
	var rows []listingRow
	if err := s.db.WithContext(ctx).Order("created_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]proto.Listing, len(rows))
	for i, r := range rows {
		out[i] = proto.Listing(r)
	}
	return out, nil
}

func (s *postgresStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&listingRow{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrListingNotFound
	}
	return nil
}

func (s *postgresStore) DeleteByHost(ctx context.Context, hostID string) (int, error) {
	res := s.db.WithContext(ctx).Delete(&listingRow{}, "host_id = ?", hostID)
	return int(res.RowsAffected), res.Error
}

func (s *postgresStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res := s.db.WithContext(ctx).Delete(&listingRow{}, "created_at < ?", cutoff.UnixMilli())
	return int(res.RowsAffected), res.Error
}

// memoryStore backs tests and DATABASE_URL-less dev runs.
type memoryStore struct {
	mu       sync.Mutex
	listings map[string]proto.Listing
}

func NewMemory() ListingStore {
	return &memoryStore{listings: make(map[string]proto.Listing)}
}

func (s *memoryStore) Create(_ context.Context, l proto.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ID] = l
	return nil
}

func (s *memoryStore) List(_ context.Context) ([]proto.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]proto.Listing, 0, len(s.listings))
	for _, l := range s.listings {
		out = append(out, l)
	}
	// Stable board order for clients.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listings[id]; !ok {
		return ErrListingNotFound
	}
	delete(s.listings, id)
	return nil
}

func (s *memoryStore) DeleteByHost(_ context.Context, hostID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, l := range s.listings {
		if l.HostID == hostID {
			delete(s.listings, id)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, l := range s.listings {
		if l.CreatedAt < cutoff.UnixMilli() {
			delete(s.listings, id)
			n++
		}
	}
	return n, nil
}
