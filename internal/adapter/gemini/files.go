package gemini

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nanlv11/business-gemini-pool/internal/domain"
)

// FileMetadata is one AI_GENERATED file entry of a session listing.
type FileMetadata struct {
	FileID  string `json:"fileId"`
	Name    string `json:"name"`
	Session string `json:"session"`
}

// ListSessionFileMetadata lists the session's AI-generated files and returns
// them keyed by file id.
func (c *Client) ListSessionFileMetadata(ctx domain.Context, token, session, teamID string) (map[string]FileMetadata, error) {
	body := map[string]any{
		"configId":         teamID,
		"additionalParams": map[string]any{"token": "-"},
		"listSessionFileMetadataRequest": map[string]any{
			"name":   session,
			"filter": "file_origin_type = AI_GENERATED",
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("op=gemini.ListSessionFileMetadata: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.VendorBaseURL+"/widgetListSessionFileMetadata", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("op=gemini.ListSessionFileMetadata: %w", err)
	}
	c.setAuthHeaders(req, token)

	start := time.Now()
	resp, err := c.authHC.Do(req)
	observe("file_metadata", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: file metadata: %v", domain.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusErr("file metadata", resp.StatusCode, readSnippet(resp.Body, 512))
	}

	var out struct {
		ListSessionFileMetadataResponse struct {
			FileMetadata []FileMetadata `json:"fileMetadata"`
		} `json:"listSessionFileMetadataResponse"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: file metadata decode: %v", domain.ErrUpstream, err)
	}
	result := make(map[string]FileMetadata, len(out.ListSessionFileMetadataResponse.FileMetadata))
	for _, meta := range out.ListSessionFileMetadataResponse.FileMetadata {
		if meta.FileID != "" {
			result[meta.FileID] = meta
		}
	}
	return result, nil
}

// downloadURL builds the media download URL. The session handle is a full
// resource path, so the URL is rooted at the API version, not the
// locations/global collection the widget calls hang off.
func (c *Client) downloadURL(session, fileID string) string {
	root := strings.TrimSuffix(c.cfg.VendorBaseURL, "/locations/global")
	return fmt.Sprintf("%s/%s:downloadFile?fileId=%s&alt=media", root, session, fileID)
}

// DownloadFile fetches a session file's bytes. Some responses arrive as
// base64 text instead of raw bytes; a body starting with the PNG or JPEG
// base64 magic is decoded before returning.
func (c *Client) DownloadFile(ctx domain.Context, token, session, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.downloadURL(session, fileID), nil)
	if err != nil {
		return nil, fmt.Errorf("op=gemini.DownloadFile: %w", err)
	}
	c.setAuthHeaders(req, token)

	start := time.Now()
	resp, err := c.streamHC.Do(req)
	observe("file_download", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: file download: %v", domain.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusErr("file download", resp.StatusCode, readSnippet(resp.Body, 512))
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: file download read: %v", domain.ErrUpstream, err)
	}
	return maybeDecodeBase64Image(content), nil
}

// maybeDecodeBase64Image detects a base64-text-as-bytes response by its
// magic prefix (iVBORw0KGgo = PNG, /9j/ = JPEG) and re-decodes it.
func maybeDecodeBase64Image(content []byte) []byte {
	text := strings.TrimSpace(string(content))
	if strings.HasPrefix(text, "iVBORw0KGgo") || strings.HasPrefix(text, "/9j/") {
		if decoded, err := base64.StdEncoding.DecodeString(text); err == nil {
			return decoded
		}
	}
	return content
}
