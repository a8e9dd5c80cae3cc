package gemini

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nanlv11/business-gemini-pool/internal/domain"
)

const (
	tokenIssuer   = "https://business.gemini.google"
	tokenAudience = "https://biz-discoveryengine.googleapis.com"
)

// b64url encodes URL-safe without padding.
func b64url(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// expandEncode base64url-encodes s after the byte expansion the vendor's
// web client applies to token segments: code points above 255 are split
// into two little-endian bytes, everything else is emitted as one byte.
// Not UTF-8; plain ASCII JSON passes through unchanged.
func expandEncode(s string) string {
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 255 {
			buf = append(buf, byte(r&255), byte(r>>8))
		} else {
			buf = append(buf, byte(r))
		}
	}
	return b64url(buf)
}

// DecodeSigningKey decodes the xsrfToken key material, tolerating missing
// base64url padding.
func DecodeSigningKey(xsrfToken string) ([]byte, error) {
	if pad := len(xsrfToken) % 4; pad != 0 {
		xsrfToken += "===="[:4-pad]
	}
	key, err := base64.URLEncoding.DecodeString(xsrfToken)
	if err != nil {
		return nil, fmt.Errorf("%w: decode signing key: %v", domain.ErrAuth, err)
	}
	return key, nil
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid"`
}

type tokenPayload struct {
	Iss string `json:"iss"`
	Aud string `json:"aud"`
	Sub string `json:"sub"`
	Iat int64  `json:"iat"`
	Exp int64  `json:"exp"`
	Nbf int64  `json:"nbf"`
}

// SignToken mints the signed credential the backend accepts: HS256 over a
// header.payload pair built with expandEncode segments. Pure function of
// its inputs; same key, kid, csesidx and instant produce the same token.
func SignToken(key []byte, keyID, csesidx string, now time.Time) (string, error) {
	iat := now.Unix()
	header, err := json.Marshal(tokenHeader{Alg: "HS256", Typ: "JWT", Kid: keyID})
	if err != nil {
		return "", fmt.Errorf("op=gemini.SignToken: %w", err)
	}
	payload, err := json.Marshal(tokenPayload{
		Iss: tokenIssuer,
		Aud: tokenAudience,
		Sub: "csesidx/" + csesidx,
		Iat: iat,
		Exp: iat + int64(domain.CredentialValidity/time.Second),
		Nbf: iat,
	})
	if err != nil {
		return "", fmt.Errorf("op=gemini.SignToken: %w", err)
	}

	message := expandEncode(string(header)) + "." + expandEncode(string(payload))
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return message + "." + b64url(mac.Sum(nil)), nil
}
