package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mstgnz/coursepay/infra/logger"
	"github.com/mstgnz/coursepay/infra/queue"
	"github.com/mstgnz/coursepay/infra/response"
)

// notification is the gateway's webhook body. Only the type and the data id
// are trusted; everything else is re-fetched by the job.
type notification struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

var webhookJobs = map[string]queue.JobType{
	"payment":                         queue.JobTypePayment,
	"subscription_authorized_payment": queue.JobTypeSubscriptionPayment,
	"subscription_preapproval":        queue.JobTypeSubscription,
	"claim":                           queue.JobTypeClaim,
	"claims":                          queue.JobTypeClaim,
	"chargebacks":                     queue.JobTypeChargeback,
	"topic_chargebacks_wh":            queue.JobTypeChargeback,
}

// WebhookHandler acknowledges gateway notifications and queues them
type WebhookHandler struct {
	queue  queue.Queue
	secret string
}

// NewWebhookHandler creates the handler. An empty secret disables the
// signature check.
func NewWebhookHandler(q queue.Queue, secret string) *WebhookHandler {
	return &WebhookHandler{queue: q, secret: secret}
}

// Receive validates the signature, queues a job and answers 200. It answers
// 500 only when the job could not be queued so the gateway delivers again.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var n notification
	if err := decode(r, &n); err != nil {
		response.FromError(w, err)
		return
	}

	kind, dataID := notificationTarget(r, n)
	if dataID == "" {
		response.Error(w, http.StatusBadRequest, "Notification without data id", nil)
		return
	}

	if h.secret != "" && !validSignature(h.secret, r.Header.Get("x-signature"), r.Header.Get("x-request-id"), dataID) {
		logger.Warn("rejected webhook with invalid signature", logger.LogContext{
			Operation: "webhook.receive",
			Fields:    map[string]any{"type": kind, "data_id": dataID},
		})
		response.Error(w, http.StatusUnauthorized, "Invalid signature", nil)
		return
	}

	jobType, known := webhookJobs[kind]
	if !known {
		logger.Info("ignoring webhook of type "+kind, logger.LogContext{Operation: "webhook.receive"})
		response.Success(w, http.StatusOK, "Notification ignored", nil)
		return
	}

	job, err := h.queue.Enqueue(r.Context(), jobType, dataID, map[string]string{"action": n.Action})
	if err != nil {
		logger.Error("failed to enqueue webhook job", err, logger.LogContext{
			Operation: "webhook.receive",
			Fields:    map[string]any{"type": kind, "data_id": dataID},
		})
		response.Error(w, http.StatusInternalServerError, "Notification not accepted", nil)
		return
	}

	response.Success(w, http.StatusOK, "Notification received", map[string]string{"job_id": job.ID})
}

// notificationTarget reads type and id from the body, falling back to the
// query string used by the gateway's older notification format.
func notificationTarget(r *http.Request, n notification) (string, string) {
	q := r.URL.Query()

	id := strings.Trim(strings.TrimSpace(string(n.Data.ID)), `"`)
	if id == "null" {
		id = ""
	}
	return firstNonEmpty(n.Type, n.Topic, q.Get("type"), q.Get("topic")),
		firstNonEmpty(id, q.Get("data.id"), q.Get("id"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// validSignature checks x-signature ("ts=...,v1=...") against the HMAC-SHA256
// of the manifest "id:{dataID};request-id:{requestID};ts:{ts};".
func validSignature(secret, header, requestID, dataID string) bool {
	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "ts":
			ts = value
		case "v1":
			v1 = value
		}
	}
	if ts == "" || v1 == "" || requestID == "" {
		return false
	}

	manifest := "id:" + dataID + ";request-id:" + requestID + ";ts:" + ts + ";"
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(v1)))
}
