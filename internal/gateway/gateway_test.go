package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wukaijin/moltbot-with-lark/internal/conversation"
	"github.com/wukaijin/moltbot-with-lark/internal/provider"
)

func newTestGateway(t *testing.T, opts Options) (*Gateway, conversation.Store) {
	t.Helper()
	store := conversation.NewMemoryStore(conversation.DefaultPolicy())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, logger, opts), store
}

func TestHealth(t *testing.T) {
	g, store := newTestGateway(t, Options{})
	_ = store.Append("oc_1", conversation.Message{Role: provider.MessageRoleUser, Content: "hi"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	g.buildRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Conversations != 1 {
		t.Errorf("resp = %+v, want ok with 1 conversation", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "moltbot_test_total"})
	registry.MustRegister(counter)
	counter.Inc()

	g, _ := newTestGateway(t, Options{Registry: registry})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	g.buildRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "moltbot_test_total 1") {
		t.Errorf("metrics body missing counter:\n%s", body)
	}
}

func TestAdminRequiresToken(t *testing.T) {
	g, _ := newTestGateway(t, Options{AdminToken: "s3cret"})
	router := g.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rec.Code)
	}
}

func TestAdminNotMountedWithoutToken(t *testing.T) {
	g, _ := newTestGateway(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	rec := httptest.NewRecorder()
	g.buildRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when admin API is disabled", rec.Code)
	}
}

func TestListConversations(t *testing.T) {
	g, store := newTestGateway(t, Options{AdminToken: "tok"})
	_ = store.Append("oc_1", conversation.Message{Role: provider.MessageRoleUser, Content: "a"})
	_ = store.Append("oc_1", conversation.Message{Role: provider.MessageRoleAssistant, Content: "b"})

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	g.buildRouter().ServeHTTP(rec, req)

	var conversations []conversationJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &conversations); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(conversations) != 1 {
		t.Fatalf("conversations = %+v, want 1", conversations)
	}
	if conversations[0].ID != "oc_1" || conversations[0].MessageCount != 2 {
		t.Errorf("conversation = %+v", conversations[0])
	}
}

func TestDeleteConversation(t *testing.T) {
	g, store := newTestGateway(t, Options{AdminToken: "tok"})
	_ = store.Append("oc_1", conversation.Message{Role: provider.MessageRoleUser, Content: "a"})

	req := httptest.NewRequest(http.MethodDelete, "/api/conversations/oc_1", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	g.buildRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	history, _ := store.History("oc_1")
	if history != nil {
		t.Errorf("history = %v, want cleared", history)
	}
}

func TestWebhookMounted(t *testing.T) {
	called := false
	webhook := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	g, _ := newTestGateway(t, Options{Webhook: webhook})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/lark", nil)
	rec := httptest.NewRecorder()
	g.buildRouter().ServeHTTP(rec, req)

	if !called || rec.Code != http.StatusOK {
		t.Errorf("webhook not dispatched: called=%v status=%d", called, rec.Code)
	}
}
