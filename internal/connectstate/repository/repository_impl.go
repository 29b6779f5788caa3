package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/postloop/postloop/internal/connectstate/domain"
	"github.com/postloop/postloop/pkg/db"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func New(conn *gorm.DB) domain.Repository {
	return &repo{db: conn}
}

func (r *repo) Insert(ctx context.Context, record *domain.ConnectState) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrDuplicateState
		}
		return err
	}
	return nil
}

func (r *repo) FindOne(ctx context.Context, workspaceID snowflake.ID, platform, state string) (*domain.ConnectState, error) {
	var record domain.ConnectState
	err := r.db.WithContext(ctx).
		Where("workspace_id = ? AND platform = ? AND state = ?", workspaceID, platform, state).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ConditionalConsume flips is_used in a single conditional UPDATE. The
// WHERE clause, not any preceding read, is what guarantees at-most-once
// consumption under concurrent callbacks.
func (r *repo) ConditionalConsume(ctx context.Context, id snowflake.ID, usedAt time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).
		Model(&domain.ConnectState{}).
		Where("id = ? AND is_used = ?", id, false).
		Updates(map[string]any{"is_used": true, "used_at": usedAt})
	if tx.Error != nil {
		return 0, tx.Error
	}
	return tx.RowsAffected, nil
}

func (r *repo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&domain.ConnectState{})
	return tx.RowsAffected, tx.Error
}

func (r *repo) DeleteByWorkspace(ctx context.Context, workspaceID snowflake.ID) (int64, error) {
	tx := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Delete(&domain.ConnectState{})
	return tx.RowsAffected, tx.Error
}
