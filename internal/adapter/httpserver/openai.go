package httpserver

import (
	"encoding/json"
	"regexp"
	"strings"
)

// chatCompletionRequest is the inbound OpenAI chat shape. Message content is
// either a bare string or an array of typed parts, so it stays raw until
// extraction.
type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	ImageURL json.RawMessage `json:"image_url"`
	FileID   string          `json:"file_id"`
	File     *filePart       `json:"file"`
}

type filePart struct {
	FileID string `json:"file_id"`
	ID     string `json:"id"`
}

// imageInput is one inbound image before it is inlined for the vendor.
type imageInput struct {
	// base64 payload with its mime type, or a remote URL to download
	MIMEType string
	Data     string
	URL      string
}

var dataURLRe = regexp.MustCompile(`^data:([^;]+);base64,(.+)$`)

// extractUserContent walks the messages and pulls the user text, inbound
// images and external file handles. Later user messages override earlier
// text (the vendor session carries history); images and files accumulate.
func extractUserContent(messages []chatMessage) (text string, images []imageInput, fileIDs []string) {
	for _, msg := range messages {
		if msg.Role != "user" || len(msg.Content) == 0 {
			continue
		}

		var plain string
		if err := json.Unmarshal(msg.Content, &plain); err == nil {
			if plain != "" {
				text = plain
			}
			continue
		}

		var parts []contentPart
		if err := json.Unmarshal(msg.Content, &parts); err != nil {
			continue
		}
		var fragments []string
		for _, part := range parts {
			switch part.Type {
			case "text":
				if part.Text != "" {
					fragments = append(fragments, part.Text)
				}
			case "image_url":
				if img, ok := parseImageURL(part.ImageURL); ok {
					images = append(images, img)
				}
			case "file":
				if id := filePartID(part); id != "" {
					fileIDs = append(fileIDs, id)
				}
			}
		}
		if len(fragments) > 0 {
			text = strings.Join(fragments, "\n")
		}
	}
	return text, images, fileIDs
}

// parseImageURL accepts both the object form {"url": ...} and a bare string.
// data: URLs are split into mime type and base64 payload; anything else is
// kept as a remote URL for the handler to download.
func parseImageURL(raw json.RawMessage) (imageInput, bool) {
	if len(raw) == 0 {
		return imageInput{}, false
	}
	var url string
	if err := json.Unmarshal(raw, &url); err != nil {
		var obj struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return imageInput{}, false
		}
		url = obj.URL
	}
	if url == "" {
		return imageInput{}, false
	}
	if m := dataURLRe.FindStringSubmatch(url); m != nil {
		return imageInput{MIMEType: m[1], Data: m[2]}, true
	}
	return imageInput{URL: url}, true
}

// filePartID supports both {"type":"file","file_id":...} and the nested
// {"type":"file","file":{"file_id"|"id":...}} shapes clients emit.
func filePartID(part contentPart) string {
	if part.FileID != "" {
		return part.FileID
	}
	if part.File != nil {
		if part.File.FileID != "" {
			return part.File.FileID
		}
		return part.File.ID
	}
	return ""
}
