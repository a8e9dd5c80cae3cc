// Package domain holds the entities and ports of the gateway: accounts,
// credentials, sessions, chat results and the file-handle registry. It has
// no knowledge of HTTP or the vendor wire formats.
package domain

import (
	"context"
	"time"
)

// Context is an alias so adapters and usecases share one context type.
type Context = context.Context

// Account is one independent identity against the vendor backend.
// Mutable health state (Available, UnavailableReason/Time) is owned by the
// pool and changed only through its demotion/toggle operations.
type Account struct {
	TeamID            string `json:"team_id"`
	SecureCSes        string `json:"secure_c_ses"`
	HostCOses         string `json:"host_c_oses"`
	CsesIdx           string `json:"csesidx"`
	UserAgent         string `json:"user_agent,omitempty"`
	Available         bool   `json:"available"`
	UnavailableReason string `json:"unavailable_reason,omitempty"`
	UnavailableTime   string `json:"unavailable_time,omitempty"`
}

// Credential is a short-lived signed token plus its issue time. A credential
// older than FreshFor must be renewed before use.
type Credential struct {
	Token    string
	IssuedAt time.Time
}

const (
	// CredentialFreshFor is the reuse window; the token itself is minted
	// with a 300s validity, renewal happens 60s ahead of expiry.
	CredentialFreshFor = 240 * time.Second
	// CredentialValidity is the exp-iat span of a minted token.
	CredentialValidity = 300 * time.Second
)

// Fresh reports whether the credential may still be used at now.
func (c Credential) Fresh(now time.Time) bool {
	if c.Token == "" {
		return false
	}
	return now.Sub(c.IssuedAt) <= CredentialFreshFor
}

// SigningKey is the decoded material returned by the vendor key fetch.
type SigningKey struct {
	KeyID string
	Key   []byte
}

// ImageArtifact is a recovered image persisted to the local cache.
type ImageArtifact struct {
	MIMEType string
	FileName string
	FileID   string
	Name     string
}

// ChatResult is the aggregate of one drained response stream: the ordered
// concatenation of non-thought text fragments plus any recovered artifacts.
type ChatResult struct {
	Text   string
	Images []ImageArtifact
}

// ChatQuery is the logical request handed to the dispatcher.
type ChatQuery struct {
	Message string
	Images  []InlineImage
	FileIDs []string // vendor file ids, already translated from external handles
}

// InlineImage is an inbound image carried in the query parts.
type InlineImage struct {
	MIMEType string
	Data     string // base64, not decoded: forwarded verbatim to the vendor
}

// FileMapping links a synthesized external file handle to the vendor file
// behind it. Lifetime is process-wide until explicitly deleted.
type FileMapping struct {
	ID        string
	VendorID  string
	Session   string
	Filename  string
	MIMEType  string
	Size      int64
	CreatedAt time.Time
}

// Model is one entry of the advertised model list.
type Model struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	Description   string `json:"description,omitempty"`
	ContextLength int    `json:"context_length,omitempty"`
	MaxTokens     int    `json:"max_tokens,omitempty"`
	Enabled       bool   `json:"enabled"`
}

// DefaultModelID is advertised when the store has no models configured.
const DefaultModelID = "gemini-enterprise"

// AccountStore persists account and gateway settings mutations (ports).
type AccountStore interface {
	Save(ctx Context) error
}

// ArtifactStore persists recovered image bytes and evicts stale ones.
type ArtifactStore interface {
	Save(data []byte, mimeType, suggestedName string) (string, error)
	EvictExpired() int
}
