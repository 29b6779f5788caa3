package domain

import (
	"context"
	"time"
)

type CreateRequest struct {
	WorkspaceID string
	Platform    string
	IPAddress   string
	UserAgent   string
	UsePKCE     bool
}

type CreateResult struct {
	State               string
	CodeVerifier        string
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiresAt           time.Time
}

type VerifyRequest struct {
	WorkspaceID string
	Platform    string
	State       string
}

type VerifyResult struct {
	Valid               bool
	CodeChallenge       string
	CodeChallengeMethod string
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (CreateResult, error)
	Verify(ctx context.Context, req VerifyRequest) (VerifyResult, error)
}
