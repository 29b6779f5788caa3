package janitor

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/postloop/postloop/internal/clock"
	"github.com/postloop/postloop/internal/config"
	"github.com/postloop/postloop/internal/connectstate/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var sweptTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "connect_state_swept_total",
	Help: "Expired connect states removed by the janitor.",
})

// Config holds janitor settings.
type Config struct {
	Interval time.Duration
}

func NewConfig(cfg config.Config) Config {
	interval := cfg.JanitorInterval
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return Config{Interval: interval}
}

type Params struct {
	fx.In

	Cfg   Config
	Repo  domain.Repository
	Clock clock.Clock
	Log   *zap.Logger
}

// Janitor removes connect states that can no longer be consumed. A
// missed sweep is harmless: Verify already rejects expired records, so
// sweeping is storage hygiene, not a correctness mechanism.
type Janitor struct {
	cfg   Config
	repo  domain.Repository
	clock clock.Clock
	log   *zap.Logger
}

func New(p Params) *Janitor {
	return &Janitor{
		cfg:   p.Cfg,
		repo:  p.Repo,
		clock: p.Clock,
		log:   p.Log.Named("connectstate.janitor"),
	}
}

// Sweep deletes every record whose deadline has passed, consumed or not.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	count, err := j.repo.DeleteExpired(ctx, j.clock.Now())
	if err != nil {
		j.log.Warn("sweep failed", zap.Error(err))
		return 0, err
	}
	if count > 0 {
		sweptTotal.Add(float64(count))
		j.log.Info("swept expired connect states", zap.Int64("deleted", count))
	}
	return count, nil
}

// Purge drops every outstanding state for one workspace, invoked on
// disconnect and logout flows.
func (j *Janitor) Purge(ctx context.Context, workspaceID string) (int64, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(workspaceID))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidWorkspace
	}
	count, err := j.repo.DeleteByWorkspace(ctx, id)
	if err != nil {
		return 0, err
	}
	j.log.Info("purged workspace connect states",
		zap.String("workspace_id", id.String()),
		zap.Int64("deleted", count),
	)
	return count, nil
}

// RunForever sweeps on a fixed interval until the context is cancelled.
func (j *Janitor) RunForever(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := j.Sweep(ctx); err != nil {
			j.log.Warn("janitor run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
