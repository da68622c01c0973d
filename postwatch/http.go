// CLAUDE:SUMMARY chi HTTP surface: health, account CRUD, poll/reset actions, per-account sources, poll log, settings, mirror probe.
package postwatch

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/postwatch/kit"
	"github.com/hazyhaar/postwatch/shield"
)

// Handler returns a router serving the postwatch HTTP API.
func (svc *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(shield.SecurityHeaders)
	r.Use(shield.MaxBody(svc.config.MaxRequestBody))
	r.Use(shield.RequireToken(svc.config.AdminToken, "/health"))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := kit.WithTransport(r.Context(), "http")
			if id := middleware.GetReqID(ctx); id != "" {
				ctx = kit.WithRequestID(ctx, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	svc.Routes(r)
	return r
}

// Routes mounts the postwatch API on r.
func (svc *Service) Routes(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sources": svc.Sources()})
	})

	r.Route("/api/accounts", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			accounts, err := svc.ListAccounts(r.Context())
			if err != nil {
				writeServiceError(w, err)
				return
			}
			if accounts == nil {
				accounts = []*Account{}
			}
			writeJSON(w, http.StatusOK, accounts)
		})

		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Handle string `json:"handle"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			out, err := svc.TrackAccount(r.Context(), req.Handle)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			code := http.StatusCreated
			if out.Outcome == Failure {
				code = http.StatusBadGateway
			}
			writeJSON(w, code, out)
		})

		r.Get("/{handle}", func(w http.ResponseWriter, r *http.Request) {
			a, err := svc.GetAccount(r.Context(), chi.URLParam(r, "handle"))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, a)
		})

		r.Delete("/{handle}", func(w http.ResponseWriter, r *http.Request) {
			if err := svc.UntrackAccount(r.Context(), chi.URLParam(r, "handle")); err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		})

		r.Post("/{handle}/poll", func(w http.ResponseWriter, r *http.Request) {
			out, err := svc.PollAccount(r.Context(), chi.URLParam(r, "handle"))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, out)
		})

		r.Post("/{handle}/reset", func(w http.ResponseWriter, r *http.Request) {
			if err := svc.ResetAccount(r.Context(), chi.URLParam(r, "handle")); err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
		})

		r.Put("/{handle}/sources", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Sources []string `json:"sources"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			handle := chi.URLParam(r, "handle")
			if err := svc.SetPreferredSources(r.Context(), handle, req.Sources); err != nil {
				writeServiceError(w, err)
				return
			}
			a, err := svc.GetAccount(r.Context(), handle)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, a)
		})

		r.Get("/{handle}/polls", func(w http.ResponseWriter, r *http.Request) {
			entries, err := svc.RecentPolls(r.Context(), chi.URLParam(r, "handle"), queryInt(r, "limit", 20))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			if entries == nil {
				entries = []*PollLogEntry{}
			}
			writeJSON(w, http.StatusOK, entries)
		})
	})

	r.Get("/api/settings", func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.Settings(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})

	r.Put("/api/settings", func(w http.ResponseWriter, r *http.Request) {
		var st Settings
		if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := svc.UpdateSettings(r.Context(), &st); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, &st)
	})

	r.Get("/api/mirrors", func(w http.ResponseWriter, r *http.Request) {
		statuses, err := svc.MirrorStatus()
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, statuses)
	})

	r.Post("/api/mirrors/probe", func(w http.ResponseWriter, r *http.Request) {
		statuses, err := svc.ProbeMirrors(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, statuses)
	})
}

// statusFor maps service sentinels to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidHandle),
		errors.Is(err, ErrInvalidSettings),
		errors.Is(err, ErrUnknownSource),
		errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotTracked):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyTracked), errors.Is(err, ErrPollingDisabled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
