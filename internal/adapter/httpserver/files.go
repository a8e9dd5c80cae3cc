package httpserver

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"github.com/nanlv11/business-gemini-pool/internal/domain"
)

// FileUploadHandler accepts an OpenAI-style multipart upload, pushes the
// bytes to the vendor under a rotating account, and returns the synthesized
// external handle.
func (s *Server) FileUploadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maxBytes := s.Cfg.MaxUploadMB * 1024 * 1024
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "too large") {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{Message: "file too large", Type: "invalid_request_error"}})
				return
			}
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: no file provided", domain.ErrInvalidArgument))
			return
		}
		defer func() { _ = file.Close() }()
		if header.Filename == "" {
			writeError(w, r, fmt.Errorf("%w: no file selected", domain.ErrInvalidArgument))
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: read upload: %v", domain.ErrInvalidArgument, err))
			return
		}

		mimeType := header.Header.Get("Content-Type")
		if mimeType == "" {
			mimeType = mimetype.Detect(data).String()
		}

		mapping, err := s.Files.Upload(r.Context(), data, header.Filename, mimeType)
		if err != nil {
			writeError(w, r, err)
			return
		}

		purpose := r.FormValue("purpose")
		if purpose == "" {
			purpose = "assistants"
		}
		writeJSON(w, http.StatusOK, fileObject(mapping, purpose))
	}
}

func fileObject(m domain.FileMapping, purpose string) map[string]any {
	return map[string]any{
		"id":         m.ID,
		"object":     "file",
		"bytes":      m.Size,
		"created_at": m.CreatedAt.Unix(),
		"filename":   m.Filename,
		"purpose":    purpose,
	}
}

// FileListHandler lists uploaded files in upload order.
func (s *Server) FileListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		mappings := s.Files.List()
		data := make([]map[string]any, 0, len(mappings))
		for _, m := range mappings {
			data = append(data, fileObject(m, "assistants"))
		}
		writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
	}
}

// FileGetHandler returns one file's metadata.
func (s *Server) FileGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mapping, err := s.Files.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, fileObject(mapping, "assistants"))
	}
}

// FileDeleteHandler removes the external mapping; the vendor-side file is
// untouched.
func (s *Server) FileDeleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.Files.Delete(id); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "object": "file", "deleted": true})
	}
}
