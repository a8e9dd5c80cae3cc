package gemini

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nanlv11/business-gemini-pool/internal/domain"
)

type createSessionRequest struct {
	ConfigID         string         `json:"configId"`
	AdditionalParams map[string]any `json:"additionalParams"`
	CreateSession    struct {
		Session struct {
			Name        string `json:"name"`
			DisplayName string `json:"displayName"`
		} `json:"session"`
	} `json:"createSessionRequest"`
}

// CreateSession opens a remote conversation handle for the account's team.
// A 401 here almost always means a misconfigured team id; any non-success
// status is a session failure that demotes the account.
func (c *Client) CreateSession(ctx domain.Context, token, teamID string) (string, error) {
	sessionID := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

	var body createSessionRequest
	body.ConfigID = teamID
	body.AdditionalParams = map[string]any{"token": "-"}
	body.CreateSession.Session.Name = sessionID
	body.CreateSession.Session.DisplayName = sessionID

	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSession, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.VendorBaseURL+"/widgetCreateSession", bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSession, err)
	}
	c.setAuthHeaders(req, token)

	start := time.Now()
	resp, err := c.authHC.Do(req)
	observe("session_create", start, err)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSession, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet := readSnippet(resp.Body, 512)
		if resp.StatusCode == http.StatusUnauthorized {
			slog.Warn("session create rejected, check team_id", slog.String("team_id", teamID), slog.String("body", snippet))
		}
		return "", fmt.Errorf("%w: status %d", domain.ErrSession, resp.StatusCode)
	}

	var out struct {
		Session struct {
			Name string `json:"name"`
		} `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode: %v", domain.ErrSession, err)
	}
	if out.Session.Name == "" {
		return "", fmt.Errorf("%w: response missing session name", domain.ErrSession)
	}
	slog.Info("session created", slog.String("session", out.Session.Name))
	return out.Session.Name, nil
}
