package app

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"easel/engine/internal/command"
	"easel/engine/internal/retry"
	"easel/engine/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	upgrader   websocket.Upgrader
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Easel-Uid, X-Easel-Name")
		next.ServeHTTP(w, r)
	})
}

// identity pulls the caller-supplied user from headers. Authentication
// itself is external; the engine only needs attribution.
func identity(r *http.Request) (store.User, bool) {
	uid := strings.TrimSpace(r.Header.Get("X-Easel-Uid"))
	if uid == "" {
		return store.User{}, false
	}
	return store.User{
		UID:         uid,
		DisplayName: strings.TrimSpace(r.Header.Get("X-Easel-Name")),
	}, true
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Everything else lives under /api/canvas/{id}[/...].
	rest, ok := strings.CutPrefix(r.URL.Path, "/api/canvas/")
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if parts[0] == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	canvasID := parts[0]
	parts = parts[1:]

	if len(parts) == 0 {
		if r.Method == http.MethodGet {
			s.handleGetDocument(w, r, canvasID)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	switch {
	case parts[0] == "ws" && len(parts) == 1 && r.Method == http.MethodGet:
		s.handleFeed(w, r, canvasID)
	case parts[0] == "activity" && len(parts) == 1 && r.Method == http.MethodGet:
		s.handleActivity(w, r, canvasID)
	case parts[0] == "shapes":
		s.handleShapes(w, r, canvasID, parts[1:])
	case parts[0] == "history" && len(parts) == 1 && r.Method == http.MethodGet:
		s.withUser(w, r, func(user store.User) {
			writeJSON(w, http.StatusOK, map[string]any{
				"entries": s.service.HistoryEntries(canvasID, user),
			})
		})
	case parts[0] == "history" && len(parts) == 2 && parts[1] == "clear" && r.Method == http.MethodPost:
		s.withUser(w, r, func(user store.User) {
			s.service.ClearHistory(canvasID, user)
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		})
	case parts[0] == "undo" && len(parts) == 1 && r.Method == http.MethodPost:
		s.withUser(w, r, func(user store.User) {
			s.respond(w, s.service.Undo(r.Context(), canvasID, user))
		})
	case parts[0] == "redo" && len(parts) == 1 && r.Method == http.MethodPost:
		s.withUser(w, r, func(user store.User) {
			s.respond(w, s.service.Redo(r.Context(), canvasID, user))
		})
	case parts[0] == "revert" && len(parts) == 1 && r.Method == http.MethodPost:
		s.withUser(w, r, func(user store.User) {
			var input struct {
				Index int `json:"index"`
			}
			if !decodeBody(w, r, &input) {
				return
			}
			s.respond(w, s.service.RevertTo(r.Context(), canvasID, input.Index, user))
		})
	case parts[0] == "bulk" && len(parts) == 1 && r.Method == http.MethodPost:
		s.withUser(w, r, func(user store.User) {
			var input struct {
				IDs         []string      `json:"ids"`
				Shapes      []store.Shape `json:"shapes"`
				Description string        `json:"description"`
			}
			if !decodeBody(w, r, &input) {
				return
			}
			s.respond(w, s.service.RegisterBulk(r.Context(), canvasID, input.IDs, input.Shapes, input.Description, user))
		})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleShapes(w http.ResponseWriter, r *http.Request, canvasID string, parts []string) {
	s.withUser(w, r, func(user store.User) {
		switch {
		case len(parts) == 0 && r.Method == http.MethodPost:
			var draft store.ShapeDraft
			if !decodeBody(w, r, &draft) {
				return
			}
			created, err := s.service.CreateShape(r.Context(), canvasID, draft, user)
			if err != nil {
				s.respond(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, created)
		case len(parts) == 1 && r.Method == http.MethodPatch:
			var patch map[string]any
			if !decodeBody(w, r, &patch) {
				return
			}
			outcome, err := s.service.UpdateShape(r.Context(), canvasID, parts[0], patch, user)
			if err != nil {
				s.respond(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"outcome": outcome})
		case len(parts) == 1 && r.Method == http.MethodDelete:
			s.respond(w, s.service.DeleteShape(r.Context(), canvasID, parts[0], user))
		case len(parts) == 2 && parts[1] == "reorder" && r.Method == http.MethodPost:
			var input struct {
				Op string `json:"op"`
			}
			if !decodeBody(w, r, &input) {
				return
			}
			s.respond(w, s.service.ReorderShape(r.Context(), canvasID, parts[0], input.Op, user))
		case len(parts) == 2 && parts[1] == "lock" && r.Method == http.MethodPost:
			acquired, err := s.service.TryLock(r.Context(), canvasID, parts[0], user)
			if err != nil {
				s.respond(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"acquired": acquired})
		case len(parts) == 2 && parts[1] == "unlock" && r.Method == http.MethodPost:
			s.respond(w, s.service.Unlock(r.Context(), canvasID, parts[0], user))
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
	})
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request, canvasID string) {
	doc, err := s.service.Document(r.Context(), canvasID)
	if err != nil {
		s.respond(w, err)
		return
	}
	writeJSON(w, http.StatusOK, store.Snapshot{
		CanvasID:    doc.CanvasID,
		Shapes:      doc.SortedShapes(),
		LastUpdated: doc.LastUpdated,
	})
}

func (s *HTTPServer) handleActivity(w http.ResponseWriter, r *http.Request, canvasID string) {
	events, err := s.service.RecentActivity(r.Context(), canvasID, 50)
	if err != nil {
		s.respond(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleFeed upgrades to a websocket and pushes the full shape list on
// every commit until the client goes away.
func (s *HTTPServer) handleFeed(w http.ResponseWriter, r *http.Request, canvasID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("feed upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	snapshots, stop, err := s.service.Subscribe(r.Context(), canvasID)
	if err != nil {
		log.Printf("feed subscribe %s: %v", canvasID, err)
		return
	}
	defer stop()

	// Seed the client with the current state before streaming commits.
	doc, err := s.service.Document(r.Context(), canvasID)
	if err == nil {
		initial := store.Snapshot{
			CanvasID:    doc.CanvasID,
			Shapes:      doc.SortedShapes(),
			LastUpdated: doc.LastUpdated,
		}
		if err := conn.WriteJSON(initial); err != nil {
			return
		}
	}

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *HTTPServer) withUser(w http.ResponseWriter, r *http.Request, fn func(store.User)) {
	user, ok := identity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_IDENTITY", "X-Easel-Uid header is required", nil)
		return
	}
	fn(user)
}

// respond maps service errors onto the wire. nil becomes {"ok": true}.
func (s *HTTPServer) respond(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	var domain *DomainError
	switch {
	case errors.As(err, &domain):
		writeError(w, domain.Status, domain.Code, domain.Message, domain.Details)
	case errors.Is(err, command.ErrNothingToUndo):
		writeError(w, http.StatusConflict, "NOTHING_TO_UNDO", "Nothing to undo", nil)
	case errors.Is(err, command.ErrNothingToRedo):
		writeError(w, http.StatusConflict, "NOTHING_TO_REDO", "Nothing to redo", nil)
	case errors.Is(err, command.ErrNotRevertible):
		writeError(w, http.StatusConflict, "NOT_REVERTIBLE", "Entry is not revertible", nil)
	case errors.Is(err, command.ErrRedoSnapshotMissing):
		writeError(w, http.StatusConflict, "REDO_UNAVAILABLE", "Redo data was not captured for this batch", nil)
	case errors.Is(err, retry.ErrExhausted):
		writeError(w, http.StatusServiceUnavailable, "WRITE_CONFLICT", "The document is under heavy contention, try again", nil)
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal error", nil)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid JSON body", nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
