package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/nanlv11/business-gemini-pool/internal/adapter/gemini"
	"github.com/nanlv11/business-gemini-pool/internal/adapter/store"
	"github.com/nanlv11/business-gemini-pool/internal/domain"
)

var validate = validator.New()

// accountPayload is the admin create/update body. Cookie values are
// write-only; reads go through accountJSON.
type accountPayload struct {
	TeamID     string `json:"team_id" validate:"required"`
	SecureCSes string `json:"secure_c_ses" validate:"required"`
	HostCOses  string `json:"host_c_oses"`
	CsesIdx    string `json:"csesidx" validate:"required"`
	UserAgent  string `json:"user_agent"`
}

func (p accountPayload) account() domain.Account {
	return domain.Account{
		TeamID:     p.TeamID,
		SecureCSes: p.SecureCSes,
		HostCOses:  p.HostCOses,
		CsesIdx:    p.CsesIdx,
		UserAgent:  p.UserAgent,
	}
}

type accountJSON struct {
	ID int `json:"id"`
	domain.Account
	HasCredential bool `json:"has_jwt"`
}

func accountIndex(r *http.Request) (int, error) {
	idx, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		return 0, fmt.Errorf("%w: account id must be an integer", domain.ErrInvalidArgument)
	}
	return idx, nil
}

// AccountListHandler lists pooled accounts with their cached credential
// state. Cookie values are included; the admin surface is trusted.
func (s *Server) AccountListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		views := s.Pool.Accounts()
		out := make([]accountJSON, len(views))
		for i, v := range views {
			out[i] = accountJSON{ID: v.ID, Account: v.Account, HasCredential: v.HasCredential}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// AccountCreateHandler appends an account to the pool.
func (s *Server) AccountCreateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload accountPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, r, fmt.Errorf("%w: decode account: %v", domain.ErrInvalidArgument, err))
			return
		}
		if err := validate.Struct(payload); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
			return
		}
		id := s.Pool.Add(payload.account())
		writeJSON(w, http.StatusCreated, map[string]any{"id": id})
	}
}

// AccountUpdateHandler replaces the identity fields of one account.
// Omitted fields keep their current values.
func (s *Server) AccountUpdateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idx, err := accountIndex(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		var payload accountPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, r, fmt.Errorf("%w: decode account: %v", domain.ErrInvalidArgument, err))
			return
		}
		if err := s.Pool.Update(idx, payload.account()); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": idx})
	}
}

// AccountDeleteHandler removes an account from the pool.
func (s *Server) AccountDeleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idx, err := accountIndex(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.Pool.Remove(idx); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": idx, "deleted": true})
	}
}

// AccountToggleHandler flips availability of one account.
func (s *Server) AccountToggleHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idx, err := accountIndex(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		available, err := s.Pool.Toggle(idx)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": idx, "available": available})
	}
}

// AccountTestHandler mints a fresh credential for one account without
// touching the pool caches, proving the stored cookies still authenticate.
func (s *Server) AccountTestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idx, err := accountIndex(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		account, err := s.Pool.Account(idx)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.Cfg.AuthTimeout)
		defer cancel()
		if _, err := s.Vendor.MintCredential(ctx, account); err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"id": idx, "ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": idx, "ok": true})
	}
}

type modelPayload struct {
	ID            string `json:"id" validate:"required"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	ContextLength int    `json:"context_length"`
	MaxTokens     int    `json:"max_tokens"`
	Enabled       bool   `json:"enabled"`
}

func (p modelPayload) model() domain.Model {
	return domain.Model{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		ContextLength: p.ContextLength,
		MaxTokens:     p.MaxTokens,
		Enabled:       p.Enabled,
	}
}

// ModelListAdminHandler lists configured models with their full settings.
func (s *Server) ModelListAdminHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Store.Models())
	}
}

// ModelCreateHandler appends a model definition.
func (s *Server) ModelCreateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload modelPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, r, fmt.Errorf("%w: decode model: %v", domain.ErrInvalidArgument, err))
			return
		}
		if err := validate.Struct(payload); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
			return
		}
		models := s.Store.Models()
		for _, m := range models {
			if m.ID == payload.ID {
				writeError(w, r, fmt.Errorf("%w: model %q already exists", domain.ErrInvalidArgument, payload.ID))
				return
			}
		}
		models = append(models, payload.model())
		if err := s.Store.SetModels(models); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload.model())
	}
}

// ModelUpdateHandler replaces one model definition by id.
func (s *Server) ModelUpdateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var payload modelPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, r, fmt.Errorf("%w: decode model: %v", domain.ErrInvalidArgument, err))
			return
		}
		payload.ID = id
		models := s.Store.Models()
		for i, m := range models {
			if m.ID == id {
				models[i] = payload.model()
				if err := s.Store.SetModels(models); err != nil {
					writeError(w, r, err)
					return
				}
				writeJSON(w, http.StatusOK, models[i])
				return
			}
		}
		writeError(w, r, fmt.Errorf("%w: model %q", domain.ErrNotFound, id))
	}
}

// ModelDeleteHandler removes one model definition by id.
func (s *Server) ModelDeleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		models := s.Store.Models()
		for i, m := range models {
			if m.ID == id {
				models = append(models[:i], models[i+1:]...)
				if err := s.Store.SetModels(models); err != nil {
					writeError(w, r, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
				return
			}
		}
		writeError(w, r, fmt.Errorf("%w: model %q", domain.ErrNotFound, id))
	}
}

type configPayload struct {
	Proxy        *string `json:"proxy,omitempty"`
	ImageBaseURL *string `json:"image_base_url,omitempty"`
}

// ConfigGetHandler returns the mutable runtime settings.
func (s *Server) ConfigGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"proxy":          s.Store.Proxy(),
			"image_base_url": s.Store.ImageBaseURL(),
		})
	}
}

// ConfigUpdateHandler applies a partial settings update. A present proxy
// field retargets the vendor client immediately; an empty string clears it.
func (s *Server) ConfigUpdateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload configPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, r, fmt.Errorf("%w: decode config: %v", domain.ErrInvalidArgument, err))
			return
		}
		if payload.Proxy != nil {
			if err := s.Store.SetProxy(*payload.Proxy); err != nil {
				writeError(w, r, err)
				return
			}
			s.Vendor.SetProxy(*payload.Proxy)
		}
		if payload.ImageBaseURL != nil {
			if err := s.Store.SetImageBaseURL(*payload.ImageBaseURL); err != nil {
				writeError(w, r, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"proxy":          s.Store.Proxy(),
			"image_base_url": s.Store.ImageBaseURL(),
		})
	}
}

// ConfigExportHandler dumps the whole settings document, cookies included,
// for backup or migration to another instance.
func (s *Server) ConfigExportHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="business_gemini_session.json"`)
		writeJSON(w, http.StatusOK, s.Store.Snapshot())
	}
}

// ConfigImportHandler replaces the whole settings document and rebuilds the
// pool from the imported accounts. Cached credentials and sessions are
// dropped.
func (s *Server) ConfigImportHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var settings store.Settings
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			writeError(w, r, fmt.Errorf("%w: decode settings: %v", domain.ErrInvalidArgument, err))
			return
		}
		if err := s.Store.Replace(settings); err != nil {
			writeError(w, r, err)
			return
		}
		s.Pool.ReplaceAll(settings.Accounts)
		s.Vendor.SetProxy(settings.Proxy)
		writeJSON(w, http.StatusOK, map[string]any{
			"accounts": len(settings.Accounts),
			"models":   len(settings.Models),
		})
	}
}

// ProxyTestHandler probes a candidate proxy URL without saving it.
func (s *Server) ProxyTestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Proxy string `json:"proxy"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, r, fmt.Errorf("%w: decode proxy: %v", domain.ErrInvalidArgument, err))
			return
		}
		ok := gemini.CheckProxy(payload.Proxy, 10*time.Second)
		writeJSON(w, http.StatusOK, map[string]any{"proxy": payload.Proxy, "ok": ok})
	}
}

// ProxyStatusHandler reports the saved proxy and its current reachability.
func (s *Server) ProxyStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		proxy := s.Store.Proxy()
		out := map[string]any{"proxy": proxy, "configured": proxy != ""}
		if proxy != "" {
			out["ok"] = gemini.CheckProxy(proxy, 10*time.Second)
		}
		writeJSON(w, http.StatusOK, out)
	}
}
