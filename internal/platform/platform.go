package platform

import (
	"errors"
	"net/url"
	"os"
	"strings"

	"github.com/postloop/postloop/internal/config"
	"go.uber.org/fx"
)

// Module provides the platform registry.
var Module = fx.Module("platform", fx.Provide(NewRegistry))

var ErrUnknownPlatform = errors.New("unknown_platform")

// Platform identifies a third-party social provider.
type Platform string

const (
	Facebook  Platform = "facebook"
	Instagram Platform = "instagram"
	LinkedIn  Platform = "linkedin"
	X         Platform = "x"
	TikTok    Platform = "tiktok"
	YouTube   Platform = "youtube"
)

// ProviderConfig describes one platform's authorization endpoint.
type ProviderConfig struct {
	Type         Platform
	AuthURL      string
	ClientID     string
	Scopes       []string
	SupportsPKCE bool
}

// Defaults for each supported platform. AuthURL and scopes can be
// overridden via CONNECT_<PLATFORM>_AUTH_URL / _SCOPES; client IDs come
// from CONNECT_<PLATFORM>_CLIENT_ID.
var builtins = []ProviderConfig{
	{Type: Facebook, AuthURL: "https://www.facebook.com/v19.0/dialog/oauth", Scopes: []string{"pages_show_list", "pages_manage_posts"}},
	{Type: Instagram, AuthURL: "https://api.instagram.com/oauth/authorize", Scopes: []string{"user_profile", "user_media"}},
	{Type: LinkedIn, AuthURL: "https://www.linkedin.com/oauth/v2/authorization", Scopes: []string{"w_member_social"}},
	{Type: X, AuthURL: "https://x.com/i/oauth2/authorize", Scopes: []string{"tweet.read", "tweet.write", "users.read", "offline.access"}, SupportsPKCE: true},
	{Type: TikTok, AuthURL: "https://www.tiktok.com/v2/auth/authorize/", Scopes: []string{"user.info.basic", "video.publish"}, SupportsPKCE: true},
	{Type: YouTube, AuthURL: "https://accounts.google.com/o/oauth2/v2/auth", Scopes: []string{"https://www.googleapis.com/auth/youtube.upload"}, SupportsPKCE: true},
}

// Registry resolves platform names to provider configuration and decides
// whether a flow uses PKCE.
type Registry struct {
	platforms map[Platform]ProviderConfig
	cfg       config.Config
}

func NewRegistry(cfg config.Config) *Registry {
	platforms := make(map[Platform]ProviderConfig, len(builtins))
	for _, p := range builtins {
		prefix := "CONNECT_" + strings.ToUpper(string(p.Type)) + "_"
		if v := strings.TrimSpace(os.Getenv(prefix + "AUTH_URL")); v != "" {
			p.AuthURL = v
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "SCOPES")); v != "" {
			p.Scopes = parseScopes(v)
		}
		p.ClientID = strings.TrimSpace(os.Getenv(prefix + "CLIENT_ID"))
		platforms[p.Type] = p
	}
	return &Registry{platforms: platforms, cfg: cfg}
}

// Lookup resolves a raw platform name.
func (r *Registry) Lookup(raw string) (ProviderConfig, error) {
	name := Platform(strings.ToLower(strings.TrimSpace(raw)))
	p, ok := r.platforms[name]
	if !ok {
		return ProviderConfig{}, ErrUnknownPlatform
	}
	return p, nil
}

// UsePKCE reports whether flows for this platform carry a PKCE challenge.
// PKCE is mandatory wherever the provider supports it; configuration can
// only switch it off, never force it onto an unsupporting provider.
func (r *Registry) UsePKCE(p ProviderConfig) bool {
	if !p.SupportsPKCE {
		return false
	}
	return r.cfg.PKCEEnabledFor(string(p.Type))
}

// BuildAuthorizeURL assembles the provider redirect URL for one initiated
// flow. challenge is empty for non-PKCE flows.
func BuildAuthorizeURL(p ProviderConfig, redirectURI, state, challenge string) (string, error) {
	parsed, err := url.Parse(p.AuthURL)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set("response_type", "code")
	query.Set("client_id", p.ClientID)
	query.Set("redirect_uri", redirectURI)
	if len(p.Scopes) > 0 {
		query.Set("scope", strings.Join(p.Scopes, " "))
	}
	query.Set("state", state)
	if challenge != "" {
		query.Set("code_challenge", challenge)
		query.Set("code_challenge_method", "S256")
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func parseScopes(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(parts) == 0 {
		return nil
	}
	return parts
}
