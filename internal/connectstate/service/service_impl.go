package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/postloop/postloop/internal/clock"
	"github.com/postloop/postloop/internal/connectstate/domain"
	"github.com/postloop/postloop/internal/connectstate/token"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// insertRetries bounds regeneration after a state collision. Collisions
// are astronomically unlikely at 256 bits of entropy, so hitting the
// bound means something is wrong with the random source or the store.
const insertRetries = 3

type Params struct {
	fx.In

	Cfg      Config
	Repo     domain.Repository
	GenID    *snowflake.Node
	Clock    clock.Clock
	TokenGen token.Generator
	Log      *zap.Logger
}

type Service struct {
	cfg    Config
	repo   domain.Repository
	genID  *snowflake.Node
	clock  clock.Clock
	tokens token.Generator
	log    *zap.Logger
}

func New(p Params) domain.Service {
	return &Service{
		cfg:    p.Cfg,
		repo:   p.Repo,
		genID:  p.GenID,
		clock:  p.Clock,
		tokens: p.TokenGen,
		log:    p.Log.Named("connectstate.service"),
	}
}

// Create mints a state record for one authorization attempt. The raw
// code_verifier is returned to the caller and never stored; a failed
// insert must surface so the caller does not redirect without a durable
// record.
func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.CreateResult, error) {
	workspaceID, err := parseWorkspaceID(req.WorkspaceID)
	if err != nil {
		return domain.CreateResult{}, err
	}
	platform := strings.ToLower(strings.TrimSpace(req.Platform))
	if platform == "" {
		return domain.CreateResult{}, domain.ErrInvalidPlatform
	}

	var pair token.Pair
	if req.UsePKCE {
		pair, err = s.tokens.NewPKCEPair()
		if err != nil {
			return domain.CreateResult{}, err
		}
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.cfg.TTL)

	for attempt := 0; attempt < insertRetries; attempt++ {
		state, err := s.tokens.NewState()
		if err != nil {
			return domain.CreateResult{}, err
		}

		record := &domain.ConnectState{
			ID:          s.genID.Generate(),
			WorkspaceID: workspaceID,
			Platform:    platform,
			State:       state,
			ExpiresAt:   expiresAt,
			IsUsed:      false,
			IPAddress:   strings.TrimSpace(req.IPAddress),
			UserAgent:   strings.TrimSpace(req.UserAgent),
			CreatedAt:   now,
		}
		if req.UsePKCE {
			challenge := pair.Challenge
			method := pair.Method
			record.CodeChallenge = &challenge
			record.CodeChallengeMethod = &method
		}

		err = s.repo.Insert(ctx, record)
		if err == nil {
			createdTotal.Inc()
			return domain.CreateResult{
				State:               state,
				CodeVerifier:        pair.Verifier,
				CodeChallenge:       pair.Challenge,
				CodeChallengeMethod: pair.Method,
				ExpiresAt:           expiresAt,
			}, nil
		}
		if errors.Is(err, domain.ErrDuplicateState) {
			s.log.Warn("state token collision, regenerating",
				zap.String("workspace_id", workspaceID.String()),
				zap.String("platform", platform),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		return domain.CreateResult{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	return domain.CreateResult{}, domain.ErrDuplicateState
}

// Verify proves a callback corresponds to a state this system issued,
// at most once. The FindOne read only picks the precise error to return;
// the conditional update is the actual enforcement point, so two
// concurrent deliveries of the same callback resolve to exactly one
// winner regardless of what both observed beforehand.
func (s *Service) Verify(ctx context.Context, req domain.VerifyRequest) (domain.VerifyResult, error) {
	workspaceID, err := parseWorkspaceID(req.WorkspaceID)
	if err != nil {
		return domain.VerifyResult{}, err
	}
	platform := strings.ToLower(strings.TrimSpace(req.Platform))
	state := strings.TrimSpace(req.State)
	if platform == "" || state == "" {
		return domain.VerifyResult{}, domain.ErrInvalidRequest
	}

	record, err := s.repo.FindOne(ctx, workspaceID, platform, state)
	if err != nil {
		verifyTotal.WithLabelValues(verifyResultError).Inc()
		return domain.VerifyResult{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if record == nil {
		s.log.Warn("callback presented unknown state",
			zap.String("workspace_id", workspaceID.String()),
			zap.String("platform", platform),
		)
		verifyTotal.WithLabelValues(verifyResultNotFound).Inc()
		return domain.VerifyResult{}, domain.ErrStateNotFound
	}

	now := s.clock.Now()
	if record.IsUsed {
		s.log.Warn("callback replayed an already-consumed state",
			zap.String("workspace_id", workspaceID.String()),
			zap.String("platform", platform),
			zap.String("state_id", record.ID.String()),
		)
		verifyTotal.WithLabelValues(verifyResultReplay).Inc()
		return domain.VerifyResult{}, domain.ErrStateAlreadyUsed
	}
	if !now.Before(record.ExpiresAt) {
		s.log.Info("callback presented expired state",
			zap.String("workspace_id", workspaceID.String()),
			zap.String("platform", platform),
			zap.String("state_id", record.ID.String()),
		)
		verifyTotal.WithLabelValues(verifyResultExpired).Inc()
		return domain.VerifyResult{}, domain.ErrStateExpired
	}

	rows, err := s.repo.ConditionalConsume(ctx, record.ID, now)
	if err != nil {
		verifyTotal.WithLabelValues(verifyResultError).Inc()
		return domain.VerifyResult{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if rows == 0 {
		// A concurrent verification won the race; indistinguishable from
		// a replay for the caller, and reported identically.
		s.log.Warn("lost consume race for state",
			zap.String("workspace_id", workspaceID.String()),
			zap.String("platform", platform),
			zap.String("state_id", record.ID.String()),
		)
		verifyTotal.WithLabelValues(verifyResultReplay).Inc()
		return domain.VerifyResult{}, domain.ErrStateAlreadyUsed
	}

	result := domain.VerifyResult{Valid: true}
	if record.CodeChallenge != nil {
		result.CodeChallenge = *record.CodeChallenge
	}
	if record.CodeChallengeMethod != nil {
		result.CodeChallengeMethod = *record.CodeChallengeMethod
	}
	verifyTotal.WithLabelValues(verifyResultValid).Inc()
	return result, nil
}

func parseWorkspaceID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidWorkspace
	}
	return id, nil
}
