package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"paygate-bot/internal/bot"
	"paygate-bot/internal/models"
	"paygate-bot/internal/payment"
	"paygate-bot/internal/reconciler"
	"paygate-bot/pkg/logger"
)

type handlers struct {
	deps     Deps
	settings Settings
	logger   *logger.Logger
}

type verifyResponse struct {
	Valid       bool   `json:"valid"`
	Message     string `json:"message"`
	UserID      *int64 `json:"user_id,omitempty"`
	ResourceURL string `json:"resource_url,omitempty"`
}

type healthResponse struct {
	Status string        `json:"status"`
	Stats  *models.Stats `json:"stats,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func (h *handlers) yookassaWebhook(w http.ResponseWriter, r *http.Request) {
	const source = "yookassa"

	body, err := readBody(r)
	if errors.Is(err, errBodyTooLarge) {
		h.deps.Metrics.Webhook(source, "too_large")
		h.logger.Warnw("YooKassa webhook body too large", "limit", maxBodyBytes)
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}
	if err != nil || len(body) == 0 {
		h.deps.Metrics.Webhook(source, "empty")
		h.logger.Warnw("Empty YooKassa webhook body", "error", err)
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	if !payment.VerifySignature(h.settings.YooKassaSecret, body, r.Header.Get(payment.SignatureHeader)) {
		h.deps.Metrics.Webhook(source, "bad_signature")
		h.logger.Warnw("Invalid YooKassa webhook signature", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	ev, err := reconciler.ParseYooKassa(body)
	if err != nil {
		h.deps.Metrics.Webhook(source, "malformed")
		h.logger.Warnw("Malformed YooKassa webhook", "error", err)
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}

	h.reconcile(w, r, source, ev)
}

func (h *handlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	const source = "stripe"

	body, err := readBody(r)
	if errors.Is(err, errBodyTooLarge) {
		h.deps.Metrics.Webhook(source, "too_large")
		h.logger.Warnw("Stripe webhook body too large", "limit", maxBodyBytes)
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}
	if err != nil {
		h.deps.Metrics.Webhook(source, "empty")
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	n, err := h.deps.Stripe.ParseWebhook(body, r.Header.Get(payment.StripeSignatureHeader))
	if err != nil {
		h.deps.Metrics.Webhook(source, "bad_signature")
		h.logger.Warnw("Rejected Stripe webhook", "error", err)
		http.Error(w, "invalid webhook", http.StatusBadRequest)
		return
	}
	if n.Status == "" {
		h.deps.Metrics.Webhook(source, string(reconciler.OutcomeIgnored))
		h.logger.Debugw("Ignoring Stripe event", "type", n.EventType)
		w.WriteHeader(http.StatusOK)
		return
	}

	h.reconcile(w, r, source, reconciler.Event{
		Type:      n.EventType,
		PaymentID: n.SessionID,
		Status:    n.Status,
		UserID:    n.UserID,
	})
}

func (h *handlers) reconcile(w http.ResponseWriter, r *http.Request, source string, ev reconciler.Event) {
	outcome, err := h.deps.Reconciler.Handle(r.Context(), ev)
	switch {
	case errors.Is(err, reconciler.ErrMalformedEvent):
		h.deps.Metrics.Webhook(source, "malformed")
		h.logger.Warnw("Malformed payment event", "source", source, "error", err)
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	case err != nil:
		h.deps.Metrics.Webhook(source, "error")
		h.logger.Errorw("Failed to process payment event", "source", source, "payment_id", ev.PaymentID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.deps.Metrics.Webhook(source, string(outcome))
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *handlers) vkCallback(w http.ResponseWriter, r *http.Request) {
	var cb bot.VKCallback
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&cb); err != nil {
		h.logger.Warnw("Invalid VK callback body", "error", err)
		http.Error(w, "no data", http.StatusBadRequest)
		return
	}

	if cb.Type == bot.VKTypeConfirmation {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, h.settings.VKConfirmation)
		return
	}

	if h.settings.VKSecret != "" && cb.Secret != h.settings.VKSecret {
		h.logger.Warnw("VK callback secret mismatch", "group_id", cb.GroupID)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if cb.Type == bot.VKTypeMessageNew {
		ev, err := cb.Event()
		if err != nil {
			h.logger.Warnw("Cannot read VK message", "error", err)
		} else {
			h.deps.Metrics.ChatEvent(bot.TransportVK)
			h.deps.Router.Dispatch(r.Context(), ev)
		}
	}

	// VK retries delivery until it sees exactly "ok".
	_, _ = io.WriteString(w, "ok")
}

func (h *handlers) telegramCallback(w http.ResponseWriter, r *http.Request) {
	ev, ok, err := h.deps.Telegram.ParseUpdate(r)
	if err != nil {
		h.logger.Warnw("Invalid Telegram update", "error", err)
		http.Error(w, "bad update", http.StatusBadRequest)
		return
	}
	if ok {
		h.deps.Metrics.ChatEvent(bot.TransportTelegram)
		h.deps.Router.Dispatch(r.Context(), ev)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *handlers) verify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeJSON(w, http.StatusBadRequest, verifyResponse{Message: "token is required"})
		return
	}

	verdict, err := h.deps.Verifier.Verify(r.Context(), token)
	if err != nil {
		h.logger.Errorw("Token verification failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, verifyResponse{Message: "internal error"})
		return
	}

	resp := verifyResponse{Valid: verdict.Valid, Message: verdict.Message, UserID: verdict.UserID}
	if !verdict.Valid {
		h.logger.Infow("Token rejected", "verdict", verdict.Message)
		writeJSON(w, http.StatusForbidden, resp)
		return
	}
	resp.ResourceURL = h.settings.ResourceURL
	h.logger.Infow("Token redeemed", "user_id", *verdict.UserID)
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Stats.GetStats(r.Context())
	if err != nil {
		h.logger.Errorw("Health check failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, healthResponse{Status: "error", Error: "store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Stats: stats})
}

var errBodyTooLarge = errors.New("request body too large")

// readBody reads at most maxBodyBytes. A longer body is an error rather than
// a silently truncated payload.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		return nil, errBodyTooLarge
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
