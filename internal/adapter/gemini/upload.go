package gemini

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nanlv11/business-gemini-pool/internal/domain"
)

// AddContextFile uploads file bytes into a session and returns the vendor
// file id.
func (c *Client) AddContextFile(ctx domain.Context, token, session, teamID string, data []byte, filename, mimeType string) (string, error) {
	body := map[string]any{
		"addContextFileRequest": map[string]any{
			"fileContents": base64.StdEncoding.EncodeToString(data),
			"fileName":     filename,
			"mimeType":     mimeType,
			"name":         session,
		},
		"additionalParams": map[string]any{"token": "-"},
		"configId":         teamID,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("op=gemini.AddContextFile: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.VendorBaseURL+"/widgetAddContextFile", bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("op=gemini.AddContextFile: %w", err)
	}
	c.setAuthHeaders(req, token)

	start := time.Now()
	resp, err := c.uploadHC.Do(req)
	observe("file_upload", start, err)
	if err != nil {
		return "", fmt.Errorf("%w: file upload: %v", domain.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", statusErr("file upload", resp.StatusCode, readSnippet(resp.Body, 512))
	}

	var out struct {
		AddContextFileResponse struct {
			FileID string `json:"fileId"`
		} `json:"addContextFileResponse"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: file upload decode: %v", domain.ErrUpstream, err)
	}
	if out.AddContextFileResponse.FileID == "" {
		return "", fmt.Errorf("%w: file upload response missing fileId", domain.ErrUpstream)
	}
	return out.AddContextFileResponse.FileID, nil
}
