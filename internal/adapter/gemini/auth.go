package gemini

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nanlv11/business-gemini-pool/internal/domain"
)

// antiHijackPrefix guards the key-fetch response body against JSON
// hijacking and must be stripped before parsing.
const antiHijackPrefix = ")]}'"

// FetchSigningKey retrieves the account's current signing key via the
// cookie-authenticated key endpoint. Any failure here is an auth failure:
// the caller is expected to demote the account.
func (c *Client) FetchSigningKey(ctx domain.Context, account domain.Account) (domain.SigningKey, error) {
	if account.SecureCSes == "" || account.CsesIdx == "" {
		return domain.SigningKey{}, fmt.Errorf("%w: account missing secure_c_ses or csesidx", domain.ErrAuth)
	}

	u := c.cfg.AuthBaseURL + "/getoxsrf?csesidx=" + account.CsesIdx
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("%w: %v", domain.ErrAuth, err)
	}
	ua := account.UserAgent
	if ua == "" {
		ua = "Mozilla/5.0"
	}
	req.Header.Set("accept", "*/*")
	req.Header.Set("user-agent", ua)
	req.Header.Set("cookie", fmt.Sprintf("__Secure-C_SES=%s; __Host-C_OSES=%s", account.SecureCSes, account.HostCOses))

	start := time.Now()
	resp, err := c.authHC.Do(req)
	observe("key_fetch", start, err)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("%w: key fetch: %v", domain.ErrAuth, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("%w: key fetch read: %v", domain.ErrAuth, err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.SigningKey{}, fmt.Errorf("%w: key fetch status %d", domain.ErrAuth, resp.StatusCode)
	}

	text := strings.TrimSpace(strings.TrimPrefix(string(body), antiHijackPrefix))
	var out struct {
		KeyID     string `json:"keyId"`
		XSRFToken string `json:"xsrfToken"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return domain.SigningKey{}, fmt.Errorf("%w: key fetch decode: %v", domain.ErrAuth, err)
	}
	if out.KeyID == "" || out.XSRFToken == "" {
		return domain.SigningKey{}, fmt.Errorf("%w: key fetch response missing keyId or xsrfToken", domain.ErrAuth)
	}

	key, err := DecodeSigningKey(out.XSRFToken)
	if err != nil {
		return domain.SigningKey{}, err
	}
	slog.Debug("signing key fetched", slog.String("csesidx", account.CsesIdx), slog.String("key_id", out.KeyID))
	return domain.SigningKey{KeyID: out.KeyID, Key: key}, nil
}

// MintCredential fetches a fresh signing key and signs a credential for the
// account. This is the whole credential-refresh path the pool calls.
func (c *Client) MintCredential(ctx domain.Context, account domain.Account) (domain.Credential, error) {
	sk, err := c.FetchSigningKey(ctx, account)
	if err != nil {
		return domain.Credential{}, err
	}
	now := time.Now()
	token, err := SignToken(sk.Key, sk.KeyID, account.CsesIdx, now)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("%w: %v", domain.ErrAuth, err)
	}
	return domain.Credential{Token: token, IssuedAt: now}, nil
}
