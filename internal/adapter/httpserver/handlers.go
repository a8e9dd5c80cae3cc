package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nanlv11/business-gemini-pool/internal/adapter/artifact"
	"github.com/nanlv11/business-gemini-pool/internal/adapter/gemini"
	"github.com/nanlv11/business-gemini-pool/internal/adapter/store"
	"github.com/nanlv11/business-gemini-pool/internal/config"
	"github.com/nanlv11/business-gemini-pool/internal/domain"
	"github.com/nanlv11/business-gemini-pool/internal/pool"
	"github.com/nanlv11/business-gemini-pool/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Pool       *pool.Pool
	Dispatcher *usecase.Dispatcher
	Files      *usecase.FileService
	Artifacts  *artifact.Store
	Store      *store.Store
	Vendor     *gemini.Client
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(cfg config.Config, p *pool.Pool, d *usecase.Dispatcher, files *usecase.FileService, artifacts *artifact.Store, st *store.Store, vendor *gemini.Client) *Server {
	return &Server{Cfg: cfg, Pool: p, Dispatcher: d, Files: files, Artifacts: artifacts, Store: st, Vendor: vendor}
}

// ModelsHandler lists the configured models in the OpenAI shape; a bare
// default entry is served when none are configured.
func (s *Server) ModelsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models := s.Store.Models()
		now := time.Now().Unix()
		data := make([]map[string]any, 0, len(models))
		for _, m := range models {
			if !m.Enabled {
				continue
			}
			data = append(data, openAIModel(m.ID, now))
		}
		if len(data) == 0 {
			data = append(data, openAIModel(domain.DefaultModelID, now))
		}
		writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
	}
}

func openAIModel(id string, created int64) map[string]any {
	return map[string]any{
		"id":         id,
		"object":     "model",
		"created":    created,
		"owned_by":   "google",
		"permission": []any{},
		"root":       id,
		"parent":     nil,
	}
}

// ChatCompletionsHandler translates an OpenAI chat request into a pooled
// vendor dispatch and projects the result back, artifact links appended.
func (s *Server) ChatCompletionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Opportunistic cache maintenance before serving the request.
		s.Artifacts.EvictExpired()

		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: decode request: %v", domain.ErrInvalidArgument, err))
			return
		}

		text, images, fileIDs := extractUserContent(req.Messages)
		vendorFileIDs := s.Files.TranslateIDs(fileIDs)
		if text == "" && len(images) == 0 && len(vendorFileIDs) == 0 {
			writeError(w, r, fmt.Errorf("%w: no user message found", domain.ErrInvalidArgument))
			return
		}

		query := domain.ChatQuery{Message: text, FileIDs: vendorFileIDs}
		for _, img := range images {
			if img.URL != "" {
				data, mimeType, err := s.Vendor.FetchImage(r.Context(), img.URL)
				if err != nil {
					LoggerFrom(r).Warn("input image fetch failed, skipping", slog.String("url", img.URL), slog.Any("error", err))
					continue
				}
				query.Images = append(query.Images, domain.InlineImage{
					MIMEType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(data),
				})
				continue
			}
			query.Images = append(query.Images, domain.InlineImage{MIMEType: img.MIMEType, Data: img.Data})
		}

		result, err := s.Dispatcher.Dispatch(r.Context(), query)
		if err != nil {
			writeError(w, r, err)
			return
		}

		content := s.buildContent(r, result)
		model := req.Model
		if model == "" {
			model = domain.DefaultModelID
		}
		if req.Stream {
			s.writeStreamed(w, content, model)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":      "chatcmpl-" + shortHex(8),
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{
				"prompt_tokens":     len(text),
				"completion_tokens": len(result.Text),
				"total_tokens":      len(text) + len(result.Text),
			},
		})
	}
}

// buildContent appends artifact links, newline-separated, after the answer
// text. A configured image base URL wins over the request host.
func (s *Server) buildContent(r *http.Request, result domain.ChatResult) string {
	content := result.Text
	if len(result.Images) == 0 {
		return content
	}
	base := s.Store.ImageBaseURL()
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host + "/"
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	links := make([]string, 0, len(result.Images))
	for _, img := range result.Images {
		if img.FileName != "" {
			links = append(links, base+"image/"+img.FileName)
		}
	}
	if len(links) == 0 {
		return content
	}
	if content != "" {
		content += "\n\n"
	}
	return content + strings.Join(links, "\n")
}

// writeStreamed replays the final content as a single SSE chunk followed by
// a stop chunk and the DONE marker. The vendor stream is already drained by
// the time we get here; clients asking for stream:true still get valid SSE.
func (s *Server) writeStreamed(w http.ResponseWriter, content, model string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	id := "chatcmpl-" + shortHex(8)
	created := time.Now().Unix()

	writeChunk := func(delta map[string]any, finish any) {
		chunk := map[string]any{
			"id":      id,
			"object":  "chat.completion.chunk",
			"created": created,
			"model":   model,
			"choices": []map[string]any{{"index": 0, "delta": delta, "finish_reason": finish}},
		}
		b, _ := json.Marshal(chunk)
		_, _ = fmt.Fprintf(w, "data: %s\n\n", b)
	}
	writeChunk(map[string]any{"content": content}, nil)
	writeChunk(map[string]any{}, "stop")
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func shortHex(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

// ImageHandler serves cached artifacts. Names are confined to the cache
// root; anything else is a 404.
func (s *Server) ImageHandler() http.HandlerFunc {
	contentTypes := map[string]string{
		".png":  "image/png",
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".gif":  "image/gif",
		".webp": "image/webp",
	}
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/image/")
		if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
			http.NotFound(w, r)
			return
		}
		ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]
		if !ok {
			ct = "application/octet-stream"
		}
		w.Header().Set("Content-Type", ct)
		http.ServeFile(w, r, filepath.Join(s.Artifacts.Dir(), name))
	}
}

// HealthHandler reports liveness.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "timestamp": time.Now().Format(time.RFC3339)})
	}
}

// StatusHandler reports pool counts, proxy reachability and configured
// models.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		total, available := s.Pool.Counts()
		proxy := s.Store.Proxy()
		proxyAvailable := false
		if proxy != "" {
			proxyAvailable = gemini.CheckProxy(proxy, 10*time.Second)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
			"accounts":  map[string]any{"total": total, "available": available},
			"proxy":     map[string]any{"url": proxy, "available": proxyAvailable},
			"models":    s.Store.Models(),
		})
	}
}
