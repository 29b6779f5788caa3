package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/postloop/postloop/internal/connectstate/domain"
	"github.com/postloop/postloop/internal/platform"
	"go.uber.org/zap"
)

type beginConnectResponse struct {
	AuthorizeURL        string    `json:"authorize_url"`
	State               string    `json:"state"`
	CodeVerifier        string    `json:"code_verifier,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	ExpiresAt           time.Time `json:"expires_at"`
}

type callbackResponse struct {
	Valid               bool   `json:"valid"`
	Code                string `json:"code,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
}

// BeginConnect starts an authorization flow: mints a state record and
// hands back the provider redirect URL the client should follow.
func (s *Server) BeginConnect(c *gin.Context) {
	workspaceID := c.Param("workspace_id")
	platformName := c.Param("platform")

	provider, err := s.registry.Lookup(platformName)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	allow, err := s.limiter.Allow(c.Request.Context(), workspaceID, string(provider.Type))
	if err != nil {
		// The limiter protects the state table; a broken limiter must not
		// take the connect flow down with it.
		s.log.Warn("connect rate limiter unavailable", zap.Error(err))
	} else if !allow.Allowed {
		retryAfter := int(allow.RetryAfter / time.Second)
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		AbortWithError(c, ErrRateLimited)
		return
	}

	result, err := s.statesvc.Create(c.Request.Context(), domain.CreateRequest{
		WorkspaceID: workspaceID,
		Platform:    string(provider.Type),
		IPAddress:   c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
		UsePKCE:     s.registry.UsePKCE(provider),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	authorizeURL, err := platform.BuildAuthorizeURL(provider, s.callbackURL(string(provider.Type), workspaceID), result.State, result.CodeChallenge)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if result.CodeVerifier != "" {
		// The verifier stays with the client; HttpOnly keeps page scripts
		// away from it until the token-exchange step reads it back.
		maxAge := int(time.Until(result.ExpiresAt) / time.Second)
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie("connect_verifier_"+string(provider.Type), result.CodeVerifier, maxAge, "/", "", true, true)
	}

	c.JSON(http.StatusOK, beginConnectResponse{
		AuthorizeURL:        authorizeURL,
		State:               result.State,
		CodeVerifier:        result.CodeVerifier,
		CodeChallengeMethod: result.CodeChallengeMethod,
		ExpiresAt:           result.ExpiresAt,
	})
}

// OAuthCallback consumes the state a provider redirect carried back.
// Token exchange happens downstream; this endpoint only proves the
// callback belongs to a flow this system started.
func (s *Server) OAuthCallback(c *gin.Context) {
	platformName := c.Param("platform")
	workspaceID := strings.TrimSpace(c.Query("workspace_id"))
	state := strings.TrimSpace(c.Query("state"))

	if errCode := strings.TrimSpace(c.Query("error")); errCode != "" {
		s.log.Info("provider denied authorization",
			zap.String("platform", platformName),
			zap.String("provider_error", errCode),
		)
		AbortWithError(c, ErrProviderDenied)
		return
	}

	provider, err := s.registry.Lookup(platformName)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.statesvc.Verify(c.Request.Context(), domain.VerifyRequest{
		WorkspaceID: workspaceID,
		Platform:    string(provider.Type),
		State:       state,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, callbackResponse{
		Valid:               result.Valid,
		Code:                c.Query("code"),
		CodeChallenge:       result.CodeChallenge,
		CodeChallengeMethod: result.CodeChallengeMethod,
	})
}

// PurgeConnectStates drops every outstanding flow for a workspace, used
// on disconnect and offboarding.
func (s *Server) PurgeConnectStates(c *gin.Context) {
	count, err := s.janitor.Purge(c.Request.Context(), c.Param("workspace_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": count})
}

func (s *Server) callbackURL(platformName, workspaceID string) string {
	base := strings.TrimRight(s.cfg.ConnectRedirectBaseURL, "/")
	return base + "/v1/oauth/callback/" + platformName + "?workspace_id=" + workspaceID
}
