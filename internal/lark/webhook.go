package lark

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// Webhook headers carrying the Lark event signature.
const (
	headerSignature = "X-Lark-Signature"
	headerTimestamp = "X-Lark-Request-Timestamp"
	headerNonce     = "X-Lark-Request-Nonce"
)

// maxWebhookBody caps webhook payload reads.
const maxWebhookBody = 1 << 20

// WebhookHandler serves Lark event subscription callbacks: it answers the
// URL-verification challenge, verifies signatures, and dispatches decoded
// events. Implements http.Handler; mounted by the gateway.
type WebhookHandler struct {
	verificationToken string
	encryptKey        string
	handler           EventHandler
	logger            *slog.Logger
}

// NewWebhookHandler creates a webhook handler. encryptKey may be empty to
// skip signature verification (local development).
func NewWebhookHandler(verificationToken, encryptKey string, handler EventHandler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		verificationToken: verificationToken,
		encryptKey:        encryptKey,
		handler:           handler,
		logger:            logger,
	}
}

// challengeRequest is the URL-verification handshake payload.
type challengeRequest struct {
	Challenge string `json:"challenge"`
	Token     string `json:"token"`
	Type      string `json:"type"`
}

// ServeHTTP implements http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	// URL-verification handshake happens before signing is configured on
	// the platform side, so handle it ahead of signature checks.
	var challenge challengeRequest
	if err := json.Unmarshal(body, &challenge); err == nil && challenge.Type == "url_verification" {
		if h.verificationToken != "" && challenge.Token != h.verificationToken {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"challenge": challenge.Challenge})
		return
	}

	if h.encryptKey != "" && !h.verifySignature(r.Header, body) {
		h.logger.Warn("webhook signature mismatch", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}

	// Acknowledge before processing: Lark retries undelivered events, and
	// handler latency must not trigger duplicate delivery.
	w.WriteHeader(http.StatusOK)

	go func() {
		if err := h.handler(context.WithoutCancel(r.Context()), &ev); err != nil {
			h.logger.Error("webhook event handler failed",
				"event_id", ev.Header.EventID,
				"event_type", ev.Header.EventType,
				"error", err,
			)
		}
	}()
}

// verifySignature checks the sha256(timestamp + nonce + encrypt_key + body)
// hex signature in constant time.
func (h *WebhookHandler) verifySignature(headers http.Header, body []byte) bool {
	signature := headers.Get(headerSignature)
	if signature == "" {
		return false
	}
	timestamp := headers.Get(headerTimestamp)
	nonce := headers.Get(headerNonce)

	sum := sha256.Sum256([]byte(timestamp + nonce + h.encryptKey + string(body)))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
