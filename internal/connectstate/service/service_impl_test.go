package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/postloop/postloop/internal/clock"
	"github.com/postloop/postloop/internal/connectstate/domain"
	"github.com/postloop/postloop/internal/connectstate/repository"
	"github.com/postloop/postloop/internal/connectstate/token"
	"github.com/postloop/postloop/pkg/db"
	"go.uber.org/zap"
)

const testWorkspaceID = "1234567890"

type staticTokenGen struct {
	states []string
	idx    int
	err    error
}

func (g *staticTokenGen) NewState() (string, error) {
	if g.err != nil {
		return "", g.err
	}
	if g.idx >= len(g.states) {
		return "state", nil
	}
	val := g.states[g.idx]
	g.idx++
	return val, nil
}

func (g *staticTokenGen) NewPKCEPair() (token.Pair, error) {
	if g.err != nil {
		return token.Pair{}, g.err
	}
	verifier := "static-verifier-static-verifier-static-ver"
	return token.Pair{
		Verifier:  verifier,
		Challenge: token.Challenge(verifier),
		Method:    token.MethodS256,
	}, nil
}

func newTestService(t *testing.T, fc *clock.FakeClock, gen token.Generator) (*Service, domain.Repository) {
	t.Helper()

	dbConn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := dbConn.AutoMigrate(&domain.ConnectState{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}

	repo := repository.New(dbConn)
	svc := &Service{
		cfg:    Config{TTL: 5 * time.Minute, EntropyBytes: token.DefaultEntropyBytes},
		repo:   repo,
		genID:  node,
		clock:  fc,
		tokens: gen,
		log:    zap.NewNop(),
	}

	return svc, repo
}

func TestCreateStoresChallengeNotVerifier(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, repo := newTestService(t, fc, token.NewGenerator(token.DefaultEntropyBytes))

	result, err := svc.Create(context.Background(), domain.CreateRequest{
		WorkspaceID: testWorkspaceID,
		Platform:    "x",
		IPAddress:   "203.0.113.7",
		UserAgent:   "test-agent",
		UsePKCE:     true,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if result.CodeVerifier == "" || result.CodeChallenge == "" {
		t.Fatal("expected PKCE pair in create result")
	}
	if result.CodeChallengeMethod != token.MethodS256 {
		t.Fatalf("expected S256 method, got %q", result.CodeChallengeMethod)
	}
	if !token.VerifyPKCE(result.CodeVerifier, result.CodeChallenge) {
		t.Fatal("returned verifier does not match returned challenge")
	}

	wsID, _ := snowflake.ParseString(testWorkspaceID)
	record, err := repo.FindOne(context.Background(), wsID, "x", result.State)
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if record == nil {
		t.Fatal("expected persisted record")
	}
	if record.CodeChallenge == nil || *record.CodeChallenge != result.CodeChallenge {
		t.Fatal("persisted challenge does not match returned challenge")
	}
	if record.IsUsed {
		t.Fatal("fresh record must not be marked used")
	}
	if !record.ExpiresAt.Equal(fc.Now().Add(5 * time.Minute)) {
		t.Fatalf("unexpected expiry: %v", record.ExpiresAt)
	}
}

func TestCreateWithoutPKCE(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, repo := newTestService(t, fc, token.NewGenerator(token.DefaultEntropyBytes))

	result, err := svc.Create(context.Background(), domain.CreateRequest{
		WorkspaceID: testWorkspaceID,
		Platform:    "facebook",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if result.CodeVerifier != "" || result.CodeChallenge != "" {
		t.Fatal("non-PKCE flow must not carry a verifier or challenge")
	}

	wsID, _ := snowflake.ParseString(testWorkspaceID)
	record, err := repo.FindOne(context.Background(), wsID, "facebook", result.State)
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if record == nil {
		t.Fatal("expected persisted record")
	}
	if record.CodeChallenge != nil || record.CodeChallengeMethod != nil {
		t.Fatal("non-PKCE record must not persist challenge columns")
	}
}

func TestCreateInvalidInput(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, fc, token.NewGenerator(token.DefaultEntropyBytes))

	_, err := svc.Create(context.Background(), domain.CreateRequest{WorkspaceID: "not-a-number", Platform: "x"})
	if !errors.Is(err, domain.ErrInvalidWorkspace) {
		t.Fatalf("expected ErrInvalidWorkspace, got %v", err)
	}

	_, err = svc.Create(context.Background(), domain.CreateRequest{WorkspaceID: testWorkspaceID, Platform: "  "})
	if !errors.Is(err, domain.ErrInvalidPlatform) {
		t.Fatalf("expected ErrInvalidPlatform, got %v", err)
	}
}

func TestCreateRetriesOnStateCollision(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	gen := &staticTokenGen{states: []string{"collide", "collide", "fresh"}}
	svc, _ := newTestService(t, fc, gen)

	first, err := svc.Create(context.Background(), domain.CreateRequest{WorkspaceID: testWorkspaceID, Platform: "x"})
	if err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	if first.State != "collide" {
		t.Fatalf("unexpected first state %q", first.State)
	}

	second, err := svc.Create(context.Background(), domain.CreateRequest{WorkspaceID: testWorkspaceID, Platform: "x"})
	if err != nil {
		t.Fatalf("second Create did not recover from collision: %v", err)
	}
	if second.State != "fresh" {
		t.Fatalf("expected regenerated state, got %q", second.State)
	}
}

func TestCreateSurfacesRandomSourceFailure(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	gen := &staticTokenGen{err: domain.ErrRandomSource}
	svc, _ := newTestService(t, fc, gen)

	_, err := svc.Create(context.Background(), domain.CreateRequest{WorkspaceID: testWorkspaceID, Platform: "x", UsePKCE: true})
	if !errors.Is(err, domain.ErrRandomSource) {
		t.Fatalf("expected ErrRandomSource, got %v", err)
	}
}

func TestVerifyHappyPathThenReplay(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, fc, token.NewGenerator(token.DefaultEntropyBytes))

	created, err := svc.Create(context.Background(), domain.CreateRequest{WorkspaceID: testWorkspaceID, Platform: "x", UsePKCE: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	req := domain.VerifyRequest{WorkspaceID: testWorkspaceID, Platform: "x", State: created.State}

	result, err := svc.Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Fatal("expected valid verification")
	}
	if result.CodeChallenge != created.CodeChallenge {
		t.Fatal("verify did not return the stored challenge")
	}

	_, err = svc.Verify(context.Background(), req)
	if !errors.Is(err, domain.ErrStateAlreadyUsed) {
		t.Fatalf("expected ErrStateAlreadyUsed on replay, got %v", err)
	}
}

func TestVerifyUnknownState(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, fc, token.NewGenerator(token.DefaultEntropyBytes))

	_, err := svc.Verify(context.Background(), domain.VerifyRequest{
		WorkspaceID: testWorkspaceID,
		Platform:    "x",
		State:       "never-issued",
	})
	if !errors.Is(err, domain.ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}
}

func TestVerifyScopedToWorkspaceAndPlatform(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, fc, token.NewGenerator(token.DefaultEntropyBytes))

	created, err := svc.Create(context.Background(), domain.CreateRequest{WorkspaceID: testWorkspaceID, Platform: "x"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err = svc.Verify(context.Background(), domain.VerifyRequest{
		WorkspaceID: "999",
		Platform:    "x",
		State:       created.State,
	})
	if !errors.Is(err, domain.ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound for foreign workspace, got %v", err)
	}

	_, err = svc.Verify(context.Background(), domain.VerifyRequest{
		WorkspaceID: testWorkspaceID,
		Platform:    "tiktok",
		State:       created.State,
	})
	if !errors.Is(err, domain.ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound for wrong platform, got %v", err)
	}
}

func TestVerifyExpiredState(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, fc, token.NewGenerator(token.DefaultEntropyBytes))

	created, err := svc.Create(context.Background(), domain.CreateRequest{WorkspaceID: testWorkspaceID, Platform: "x"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// The deadline itself is already unusable.
	fc.Advance(5 * time.Minute)

	_, err = svc.Verify(context.Background(), domain.VerifyRequest{
		WorkspaceID: testWorkspaceID,
		Platform:    "x",
		State:       created.State,
	})
	if !errors.Is(err, domain.ErrStateExpired) {
		t.Fatalf("expected ErrStateExpired, got %v", err)
	}
}

func TestVerifyJustBeforeExpiry(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, fc, token.NewGenerator(token.DefaultEntropyBytes))

	created, err := svc.Create(context.Background(), domain.CreateRequest{WorkspaceID: testWorkspaceID, Platform: "x"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	fc.Advance(5*time.Minute - time.Second)

	result, err := svc.Verify(context.Background(), domain.VerifyRequest{
		WorkspaceID: testWorkspaceID,
		Platform:    "x",
		State:       created.State,
	})
	if err != nil {
		t.Fatalf("Verify failed just inside the TTL: %v", err)
	}
	if !result.Valid {
		t.Fatal("expected valid verification just inside the TTL")
	}
}

func TestConcurrentVerifySingleWinner(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, fc, token.NewGenerator(token.DefaultEntropyBytes))

	created, err := svc.Create(context.Background(), domain.CreateRequest{WorkspaceID: testWorkspaceID, Platform: "x"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const callers = 50

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		valid   int
		replays int
	)
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			result, err := svc.Verify(context.Background(), domain.VerifyRequest{
				WorkspaceID: testWorkspaceID,
				Platform:    "x",
				State:       created.State,
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && result.Valid:
				valid++
			case errors.Is(err, domain.ErrStateAlreadyUsed):
				replays++
			default:
				t.Errorf("unexpected verify outcome: %v", err)
			}
		}()
	}

	close(start)
	wg.Wait()

	if valid != 1 {
		t.Fatalf("expected exactly one winning verification, got %d", valid)
	}
	if replays != callers-1 {
		t.Fatalf("expected %d replay rejections, got %d", callers-1, replays)
	}
}
