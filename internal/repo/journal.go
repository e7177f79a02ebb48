package repo

import (
	"context"
	"time"

	"woodland-client/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Journal is the local log of protocol events: submissions, undos,
// cancellations, route overrides and remote updates.
type Journal struct {
	db  *gorm.DB
	now func() time.Time
}

func NewJournal(db *gorm.DB) *Journal {
	return &Journal{db: db, now: time.Now}
}

func (j *Journal) Record(ctx context.Context, entry *model.JournalEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = j.now()
	}
	return j.db.WithContext(ctx).Create(entry).Error
}

// List returns the newest entries of a game first.
func (j *Journal) List(ctx context.Context, gameID int64, limit int) ([]model.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	var items []model.JournalEntry
	err := j.db.WithContext(ctx).
		Where("game_id = ?", gameID).
		Order("created_at DESC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (j *Journal) Count(ctx context.Context, gameID int64, kind model.JournalKind) (int64, error) {
	var total int64
	err := j.db.WithContext(ctx).
		Model(&model.JournalEntry{}).
		Where("game_id = ? AND kind = ?", gameID, kind).
		Count(&total).Error
	return total, err
}
