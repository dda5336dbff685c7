package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Store struct{ db *gorm.DB }

func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

// GetDB returns the underlying database connection for advanced operations
func (s *Store) GetDB() *gorm.DB {
	return s.db
}

func (s *Store) CreateEvent(ctx context.Context, ev *Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	return s.db.WithContext(ctx).Create(ev).Error
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*Event, error) {
	var ev Event
	err := s.db.WithContext(ctx).First(&ev, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// ListEvents returns events in emission order so a stored run reads as
// the trace the runner produced.
func (s *Store) ListEvents(ctx context.Context,
	kind *string, start, end *time.Time,
	offset, limit int) ([]Event, error) {

	query := s.db.WithContext(ctx).Model(&Event{})

	if kind != nil {
		query = query.Where("kind = ?", *kind)
	}
	if start != nil {
		query = query.Where("ts >= ?", *start)
	}
	if end != nil {
		query = query.Where("ts <= ?", *end)
	}

	var events []Event
	err := query.Order("ts ASC").
		Offset(offset).
		Limit(limit).
		Find(&events).Error

	return events, err
}

func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&Event{}).Count(&total).Error
	return total, err
}

func (s *Store) CountByKind(ctx context.Context) ([]KindCount, error) {
	var counts []KindCount
	err := s.db.WithContext(ctx).Model(&Event{}).
		Select("kind, count(*) as count").
		Group("kind").
		Order("kind ASC").
		Scan(&counts).Error
	return counts, err
}

// DeleteBefore prunes events received before the cutoff and reports how
// many rows went away.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("received_at < ?", cutoff).
		Delete(&Event{})
	return res.RowsAffected, res.Error
}
