package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ConnectState is one initiated authorization attempt: the CSRF state
// token minted before redirecting a user to a platform's authorize
// endpoint, consumed exactly once on the callback.
//
// The raw code_verifier is never persisted; only the derived challenge
// is stored so the callback path can hand it to the token-exchange step.
type ConnectState struct {
	ID                  snowflake.ID `gorm:"primaryKey" json:"id"`
	WorkspaceID         snowflake.ID `gorm:"column:workspace_id;not null;index:idx_connect_states_lookup,priority:1" json:"workspace_id"`
	Platform            string       `gorm:"column:platform;type:text;not null;index:idx_connect_states_lookup,priority:2" json:"platform"`
	State               string       `gorm:"column:state;type:text;not null;uniqueIndex;index:idx_connect_states_lookup,priority:3" json:"-"`
	CodeChallenge       *string      `gorm:"column:code_challenge;type:text" json:"-"`
	CodeChallengeMethod *string      `gorm:"column:code_challenge_method;type:text" json:"-"`
	ExpiresAt           time.Time    `gorm:"column:expires_at;not null;index" json:"expires_at"`
	IsUsed              bool         `gorm:"column:is_used;not null;default:false" json:"is_used"`
	UsedAt              *time.Time   `gorm:"column:used_at" json:"used_at,omitempty"`
	IPAddress           string       `gorm:"column:ip_address;type:text" json:"ip_address,omitempty"`
	UserAgent           string       `gorm:"column:user_agent;type:text" json:"user_agent,omitempty"`
	CreatedAt           time.Time    `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (ConnectState) TableName() string { return "connect_states" }
