package lark

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eventCollector records handled events.
type eventCollector struct {
	mu     sync.Mutex
	events []*Event
	done   chan struct{}
}

func newEventCollector() *eventCollector {
	return &eventCollector{done: make(chan struct{}, 8)}
}

func (c *eventCollector) handle(_ context.Context, ev *Event) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.done <- struct{}{}
	return nil
}

func (c *eventCollector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event dispatch")
	}
}

func TestWebhookURLVerification(t *testing.T) {
	h := NewWebhookHandler("vtok", "", nil, discardLogger())

	body, _ := json.Marshal(challengeRequest{
		Challenge: "c-123",
		Token:     "vtok",
		Type:      "url_verification",
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/lark", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if resp["challenge"] != "c-123" {
		t.Errorf("challenge = %q, want c-123", resp["challenge"])
	}
}

func TestWebhookURLVerificationBadToken(t *testing.T) {
	h := NewWebhookHandler("vtok", "", nil, discardLogger())

	body, _ := json.Marshal(challengeRequest{Challenge: "c", Token: "wrong", Type: "url_verification"})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/lark", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestWebhookDispatchesEvent(t *testing.T) {
	collector := newEventCollector()
	h := NewWebhookHandler("", "", collector.handle, discardLogger())

	ev := receiveEvent(t, "text", `{"text":"hi"}`, nil)
	body, _ := json.Marshal(ev)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/lark", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	collector.wait(t)
	if len(collector.events) != 1 {
		t.Fatalf("events = %d, want 1", len(collector.events))
	}
	if collector.events[0].Header.EventID != "evt_1" {
		t.Errorf("event ID = %q, want evt_1", collector.events[0].Header.EventID)
	}
}

func TestWebhookSignature(t *testing.T) {
	const key = "encrypt-key"
	collector := newEventCollector()
	h := NewWebhookHandler("", key, collector.handle, discardLogger())

	ev := receiveEvent(t, "text", `{"text":"hi"}`, nil)
	body, _ := json.Marshal(ev)

	sign := func(timestamp, nonce string, body []byte) string {
		sum := sha256.Sum256([]byte(timestamp + nonce + key + string(body)))
		return hex.EncodeToString(sum[:])
	}

	t.Run("valid signature accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/lark", bytes.NewReader(body))
		req.Header.Set(headerTimestamp, "1700000000")
		req.Header.Set(headerNonce, "n-1")
		req.Header.Set(headerSignature, sign("1700000000", "n-1", body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		collector.wait(t)
	})

	t.Run("tampered body rejected", func(t *testing.T) {
		tampered := bytes.Replace(body, []byte("hi"), []byte("ho"), 1)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/lark", bytes.NewReader(tampered))
		req.Header.Set(headerTimestamp, "1700000000")
		req.Header.Set(headerNonce, "n-1")
		req.Header.Set(headerSignature, sign("1700000000", "n-1", body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("missing signature rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/lark", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}

func TestWebhookRejectsGet(t *testing.T) {
	h := NewWebhookHandler("", "", nil, discardLogger())
	req := httptest.NewRequest(http.MethodGet, "/webhooks/lark", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
