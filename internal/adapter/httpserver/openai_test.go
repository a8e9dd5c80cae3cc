package httpserver

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(role, content string) chatMessage {
	raw, _ := json.Marshal(content)
	return chatMessage{Role: role, Content: raw}
}

func partsMsg(t *testing.T, parts []map[string]any) chatMessage {
	t.Helper()
	raw, err := json.Marshal(parts)
	require.NoError(t, err)
	return chatMessage{Role: "user", Content: raw}
}

func TestExtractUserContentPlainString(t *testing.T) {
	t.Parallel()
	text, images, fileIDs := extractUserContent([]chatMessage{
		msg("system", "you are helpful"),
		msg("user", "first"),
		msg("assistant", "reply"),
		msg("user", "second"),
	})
	// The vendor session carries history, so only the latest user text is
	// forwarded.
	assert.Equal(t, "second", text)
	assert.Empty(t, images)
	assert.Empty(t, fileIDs)
}

func TestExtractUserContentParts(t *testing.T) {
	t.Parallel()
	message := partsMsg(t, []map[string]any{
		{"type": "text", "text": "look at"},
		{"type": "text", "text": "this"},
		{"type": "image_url", "image_url": map[string]any{"url": "data:image/png;base64,aGk="}},
		{"type": "image_url", "image_url": "https://example.com/cat.jpg"},
		{"type": "file", "file_id": "file-abc"},
		{"type": "file", "file": map[string]any{"id": "file-def"}},
	})

	text, images, fileIDs := extractUserContent([]chatMessage{message})
	assert.Equal(t, "look at\nthis", text)
	require.Len(t, images, 2)
	assert.Equal(t, "image/png", images[0].MIMEType)
	assert.Equal(t, "aGk=", images[0].Data)
	assert.Equal(t, "https://example.com/cat.jpg", images[1].URL)
	assert.Equal(t, []string{"file-abc", "file-def"}, fileIDs)
}

func TestExtractUserContentIgnoresGarbage(t *testing.T) {
	t.Parallel()
	text, images, fileIDs := extractUserContent([]chatMessage{
		{Role: "user", Content: json.RawMessage(`42`)},
		{Role: "user"},
		msg("user", ""),
	})
	assert.Empty(t, text)
	assert.Empty(t, images)
	assert.Empty(t, fileIDs)
}

func TestParseImageURLForms(t *testing.T) {
	t.Parallel()
	img, ok := parseImageURL(json.RawMessage(`"data:image/jpeg;base64,/9j/abc"`))
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", img.MIMEType)
	assert.Equal(t, "/9j/abc", img.Data)
	assert.Empty(t, img.URL)

	img, ok = parseImageURL(json.RawMessage(`{"url":"https://example.com/a.png"}`))
	require.True(t, ok)
	assert.Equal(t, "https://example.com/a.png", img.URL)

	_, ok = parseImageURL(json.RawMessage(`{"url":""}`))
	assert.False(t, ok)
	_, ok = parseImageURL(nil)
	assert.False(t, ok)
	_, ok = parseImageURL(json.RawMessage(`[1,2]`))
	assert.False(t, ok)
}

func TestFilePartIDShapes(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "f1", filePartID(contentPart{FileID: "f1"}))
	assert.Equal(t, "f2", filePartID(contentPart{File: &filePart{FileID: "f2"}}))
	assert.Equal(t, "f3", filePartID(contentPart{File: &filePart{ID: "f3"}}))
	assert.Equal(t, "f2", filePartID(contentPart{File: &filePart{FileID: "f2", ID: "f3"}}))
	assert.Empty(t, filePartID(contentPart{}))
}
