package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanlv11/business-gemini-pool/internal/adapter/gemini"
	"github.com/nanlv11/business-gemini-pool/internal/config"
)

// testCfg is for aggregations that never reach the network.
func testCfg() config.Config {
	return config.Config{
		VendorBaseURL: "http://127.0.0.1:0/v1alpha/locations/global",
		AuthBaseURL:   "http://127.0.0.1:0/auth",
	}
}

type savedArtifact struct {
	data     []byte
	mimeType string
	name     string
}

type memStore struct {
	saves []savedArtifact
}

func (m *memStore) Save(data []byte, mimeType, suggestedName string) (string, error) {
	m.saves = append(m.saves, savedArtifact{data: data, mimeType: mimeType, name: suggestedName})
	return fmt.Sprintf("artifact_%d.png", len(m.saves)), nil
}

func (m *memStore) EvictExpired() int { return 0 }

func b64(data []byte) string { return base64.StdEncoding.EncodeToString(data) }

func TestAggregateTextSkipsThoughts(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	agg := gemini.NewAggregator(gemini.New(testCfg(), ""), store)

	raw := []byte(`[
		{"streamAssistResponse":{"answer":{"replies":[
			{"groundedContent":{"content":{"text":"thinking...","thought":true}}},
			{"groundedContent":{"content":{"text":"Hello"}}}
		]}}},
		{"streamAssistResponse":{"answer":{"replies":[
			{"groundedContent":{"content":{"text":", world"}}}
		]}}}
	]`)

	result := agg.Aggregate(context.Background(), "tok", "team", raw)
	assert.Equal(t, "Hello, world", result.Text)
	assert.Empty(t, result.Images)
	assert.Empty(t, store.saves)
}

func TestAggregateMalformedStream(t *testing.T) {
	t.Parallel()
	agg := gemini.NewAggregator(gemini.New(testCfg(), ""), &memStore{})

	for _, raw := range [][]byte{nil, []byte("not json"), []byte(`{"streamAssistResponse":{}}`)} {
		result := agg.Aggregate(context.Background(), "tok", "team", raw)
		assert.Empty(t, result.Text)
		assert.Empty(t, result.Images)
	}

	// Null envelopes and empty arrays aggregate cleanly.
	result := agg.Aggregate(context.Background(), "tok", "team", []byte(`[{},{"streamAssistResponse":null}]`))
	assert.Empty(t, result.Text)
}

func TestAggregateGeneratedImagesAllDepths(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	agg := gemini.NewAggregator(gemini.New(testCfg(), ""), store)

	top := b64([]byte("top"))
	mid := b64([]byte("mid"))
	deep := b64([]byte("deep"))
	raw := []byte(`[{"streamAssistResponse":{
		"generatedImages":[{"image":{"bytesBase64Encoded":"` + top + `","mimeType":"image/jpeg"}}],
		"answer":{
			"generatedImages":[{"image":{"bytesBase64Encoded":"` + mid + `"}}],
			"replies":[{
				"generatedImages":[{"image":{"bytesBase64Encoded":"` + deep + `","mimeType":"image/webp"}}],
				"groundedContent":{"content":{"text":"done"}}
			}]
		}
	}}]`)

	result := agg.Aggregate(context.Background(), "tok", "team", raw)
	assert.Equal(t, "done", result.Text)
	require.Len(t, result.Images, 3)
	require.Len(t, store.saves, 3)
	assert.Equal(t, []byte("top"), store.saves[0].data)
	assert.Equal(t, "image/jpeg", store.saves[0].mimeType)
	// A missing mime type defaults to PNG.
	assert.Equal(t, "image/png", store.saves[1].mimeType)
	assert.Equal(t, "image/webp", store.saves[2].mimeType)
}

func TestAggregateInlineAndAttachments(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	agg := gemini.NewAggregator(gemini.New(testCfg(), ""), store)

	img := b64([]byte("img"))
	raw := []byte(`[{"streamAssistResponse":{"answer":{"replies":[{
		"groundedContent":{
			"content":{
				"text":"ok",
				"inlineData":{"mimeType":"image/png","data":"` + img + `"}
			},
			"inlineData":{"data":"` + img + `"},
			"attachments":[
				{"mimeType":"image/gif","data":"` + img + `","name":"pic.gif"},
				{"mimeType":"application/pdf","data":"` + img + `"}
			]
		},
		"attachments":[{"mimeType":"image/png","bytesBase64Encoded":"` + img + `"}]
	}]}}}]`)

	result := agg.Aggregate(context.Background(), "tok", "team", raw)
	assert.Equal(t, "ok", result.Text)
	// Two inline blocks plus two image attachments; the PDF is skipped.
	require.Len(t, result.Images, 4)

	var names []string
	for _, s := range store.saves {
		names = append(names, s.name)
	}
	assert.Contains(t, names, "pic.gif")
}

func TestAggregateSkipsBadBase64(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	agg := gemini.NewAggregator(gemini.New(testCfg(), ""), store)

	raw := []byte(`[{"streamAssistResponse":{"generatedImages":[
		{"image":{"bytesBase64Encoded":"%%%not-base64%%%"}}
	],"answer":{"replies":[{"groundedContent":{"content":{"text":"still here"}}}]}}}]`)

	result := agg.Aggregate(context.Background(), "tok", "team", raw)
	assert.Equal(t, "still here", result.Text)
	assert.Empty(t, result.Images)
}

func TestAggregateResolvesFileReferences(t *testing.T) {
	t.Parallel()
	fileBytes := []byte("png-bytes")

	mux := http.NewServeMux()
	mux.HandleFunc("/v1alpha/locations/global/widgetListSessionFileMetadata", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"listSessionFileMetadataResponse": map[string]any{
				"fileMetadata": []map[string]any{
					{"fileId": "f-meta", "name": "meta.png", "session": "projects/p/sessions/real"},
				},
			},
		})
	})
	mux.HandleFunc("/v1alpha/projects/p/sessions/real:downloadFile", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(fileBytes)
	})
	// The second reference has no metadata entry and falls back to the
	// last-seen session from the stream.
	mux.HandleFunc("/v1alpha/projects/p/sessions/stream:downloadFile", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(fileBytes)
	})

	c, _ := testClient(t, mux)
	store := &memStore{}
	agg := gemini.NewAggregator(c, store)

	raw := []byte(`[{"streamAssistResponse":{
		"sessionInfo":{"session":"projects/p/sessions/stream"},
		"answer":{"replies":[
			{"groundedContent":{"content":{"file":{"fileId":"f-meta","mimeType":"image/png"}}}},
			{"groundedContent":{"content":{"file":{"fileId":"f-orphan"},"text":"caption"}}}
		]}
	}}]`)

	result := agg.Aggregate(context.Background(), "tok", "team", raw)
	assert.Equal(t, "caption", result.Text)
	require.Len(t, result.Images, 2)
	assert.Equal(t, "f-meta", result.Images[0].FileID)
	assert.Equal(t, "meta.png", result.Images[0].Name)
	assert.Equal(t, "f-orphan", result.Images[1].FileID)
	// A file reference without a mime type defaults to PNG.
	assert.Equal(t, "image/png", result.Images[1].MIMEType)
	require.Len(t, store.saves, 2)
	assert.Equal(t, fileBytes, store.saves[0].data)
}

func TestAggregateFileReferenceWithoutSession(t *testing.T) {
	t.Parallel()
	// No sessionInfo anywhere: the pending reference cannot be resolved
	// and is dropped without failing the aggregation.
	store := &memStore{}
	agg := gemini.NewAggregator(gemini.New(testCfg(), ""), store)

	raw := []byte(`[{"streamAssistResponse":{"answer":{"replies":[
		{"groundedContent":{"content":{"file":{"fileId":"f1"},"text":"text survives"}}}
	]}}}]`)

	result := agg.Aggregate(context.Background(), "tok", "team", raw)
	assert.Equal(t, "text survives", result.Text)
	assert.Empty(t, result.Images)
}
