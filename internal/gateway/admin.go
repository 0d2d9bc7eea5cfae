package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Conversations int    `json:"conversations"`
}

// handleHealth reports liveness and a conversation count.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{
			Status:        "ok",
			UptimeSeconds: int64(time.Since(g.startedAt).Seconds()),
		}

		ids, err := g.store.ListActive()
		if err != nil {
			resp.Status = "degraded"
		} else {
			resp.Conversations = len(ids)
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == "degraded" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// conversationJSON is a serializable conversation snapshot.
type conversationJSON struct {
	ID           string `json:"id"`
	MessageCount int    `json:"message_count"`
	LastActivity string `json:"last_activity"`
}

// handleListConversations returns all active conversations as JSON.
func (g *Gateway) handleListConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		ids, err := g.store.ListActive()
		if err != nil {
			http.Error(w, "store unavailable", http.StatusInternalServerError)
			return
		}

		conversations := make([]conversationJSON, 0, len(ids))
		for _, id := range ids {
			stats, err := g.store.Stats(id)
			if err != nil {
				continue
			}
			conversations = append(conversations, conversationJSON{
				ID:           id,
				MessageCount: stats.MessageCount,
				LastActivity: stats.LastActivity.UTC().Format(time.RFC3339),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(conversations)
	}
}

// handleDeleteConversation clears one conversation's history.
func (g *Gateway) handleDeleteConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			http.Error(w, "missing conversation id", http.StatusBadRequest)
			return
		}

		if err := g.store.Clear(id); err != nil {
			http.Error(w, "store unavailable", http.StatusInternalServerError)
			return
		}

		g.logger.Info("conversation cleared via admin API", "conversation_id", id)
		w.WriteHeader(http.StatusNoContent)
	}
}
