package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Repository persists connect states. ConditionalConsume is the
// subsystem's sole coordination point: a single-statement conditional
// update whose affected-row count decides the winner when concurrent
// callbacks race for the same record.
type Repository interface {
	Insert(ctx context.Context, record *ConnectState) error
	FindOne(ctx context.Context, workspaceID snowflake.ID, platform, state string) (*ConnectState, error)
	ConditionalConsume(ctx context.Context, id snowflake.ID, usedAt time.Time) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
	DeleteByWorkspace(ctx context.Context, workspaceID snowflake.ID) (int64, error)
}
