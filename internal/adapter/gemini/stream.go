package gemini

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nanlv11/business-gemini-pool/internal/domain"
)

// Envelope schema for the assist stream. All nested fields are optional;
// absence and presence-without-image are distinct branches the aggregator
// checks explicitly.

type envelope struct {
	StreamAssistResponse *assistResponse `json:"streamAssistResponse"`
}

type assistResponse struct {
	SessionInfo struct {
		Session string `json:"session"`
	} `json:"sessionInfo"`
	GeneratedImages []generatedImage `json:"generatedImages"`
	Answer          *answer          `json:"answer"`
}

type answer struct {
	GeneratedImages []generatedImage `json:"generatedImages"`
	Replies         []reply          `json:"replies"`
}

type reply struct {
	GeneratedImages []generatedImage `json:"generatedImages"`
	GroundedContent groundedContent  `json:"groundedContent"`
	Attachments     []attachment     `json:"attachments"`
}

type groundedContent struct {
	Content     content      `json:"content"`
	InlineData  *inlineData  `json:"inlineData"`
	Attachments []attachment `json:"attachments"`
}

type content struct {
	Text        string       `json:"text"`
	Thought     bool         `json:"thought"`
	File        *fileRef     `json:"file"`
	InlineData  *inlineData  `json:"inlineData"`
	Attachments []attachment `json:"attachments"`
}

type fileRef struct {
	FileID   string `json:"fileId"`
	MIMEType string `json:"mimeType"`
	Name     string `json:"name"`
}

type generatedImage struct {
	Image *struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MIMEType           string `json:"mimeType"`
	} `json:"image"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type attachment struct {
	MIMEType           string `json:"mimeType"`
	Data               string `json:"data"`
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	Name               string `json:"name"`
}

// StreamAssist sends the query and drains the streamed response body. The
// vendor chunks one JSON array across the line-streamed body, so the raw
// bytes are returned whole for the aggregator to parse.
func (c *Client) StreamAssist(ctx domain.Context, token, session, teamID string, query domain.ChatQuery) ([]byte, error) {
	parts := []map[string]any{{"text": query.Message}}
	for _, img := range query.Images {
		parts = append(parts, map[string]any{
			"inlineData": map[string]any{"mimeType": img.MIMEType, "data": img.Data},
		})
	}
	fileIDs := query.FileIDs
	if fileIDs == nil {
		fileIDs = []string{}
	}

	body := map[string]any{
		"configId":         teamID,
		"additionalParams": map[string]any{"token": "-"},
		"streamAssistRequest": map[string]any{
			"session":              session,
			"query":                map[string]any{"parts": parts},
			"filter":               "",
			"fileIds":              fileIDs,
			"answerGenerationMode": "NORMAL",
			"toolsSpec": map[string]any{
				"webGroundingSpec":    map[string]any{},
				"toolRegistry":        "default_tool_registry",
				"imageGenerationSpec": map[string]any{},
				"videoGenerationSpec": map[string]any{},
			},
			"languageCode":       c.cfg.VendorLanguageCode,
			"userMetadata":       map[string]any{"timeZone": c.cfg.VendorTimeZone},
			"assistSkippingMode": "REQUEST_ASSIST",
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("op=gemini.StreamAssist: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.VendorBaseURL+"/widgetStreamAssist", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("op=gemini.StreamAssist: %w", err)
	}
	c.setAuthHeaders(req, token)

	start := time.Now()
	resp, err := c.streamHC.Do(req)
	observe("stream_assist", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: stream assist: %v", domain.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusErr("stream assist", resp.StatusCode, readSnippet(resp.Body, 512))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: stream assist read: %v", domain.ErrUpstream, err)
	}
	return raw, nil
}
