package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mstgnz/coursepay/infra/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret, dataID, requestID, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("id:" + dataID + ";request-id:" + requestID + ";ts:" + ts + ";"))
	return "ts=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookHandler_Receive(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		body       string
		wantStatus int
		wantJob    *enqueued
	}{
		{
			name:       "payment with numeric id",
			target:     "/webhooks/gateway",
			body:       `{"type":"payment","action":"payment.updated","data":{"id":123456}}`,
			wantStatus: http.StatusOK,
			wantJob:    &enqueued{jobType: queue.JobTypePayment, resourceID: "123456"},
		},
		{
			name:       "renewal payment with string id",
			target:     "/webhooks/gateway",
			body:       `{"type":"subscription_authorized_payment","data":{"id":"789"}}`,
			wantStatus: http.StatusOK,
			wantJob:    &enqueued{jobType: queue.JobTypeSubscriptionPayment, resourceID: "789"},
		},
		{
			name:       "preapproval",
			target:     "/webhooks/gateway",
			body:       `{"type":"subscription_preapproval","data":{"id":"pre-1"}}`,
			wantStatus: http.StatusOK,
			wantJob:    &enqueued{jobType: queue.JobTypeSubscription, resourceID: "pre-1"},
		},
		{
			name:       "query string format",
			target:     "/webhooks/gateway?topic=chargebacks&id=cb-9",
			wantStatus: http.StatusOK,
			wantJob:    &enqueued{jobType: queue.JobTypeChargeback, resourceID: "cb-9"},
		},
		{
			name:       "claim via data.id parameter",
			target:     "/webhooks/gateway?type=claim&data.id=5001",
			wantStatus: http.StatusOK,
			wantJob:    &enqueued{jobType: queue.JobTypeClaim, resourceID: "5001"},
		},
		{
			name:       "unknown type is acknowledged and dropped",
			target:     "/webhooks/gateway",
			body:       `{"type":"merchant_order","data":{"id":"1"}}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing id",
			target:     "/webhooks/gateway",
			body:       `{"type":"payment","data":{}}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &mockQueue{}
			h := NewWebhookHandler(q, "")

			w := httptest.NewRecorder()
			h.Receive(w, newRequest(http.MethodPost, tt.target, tt.body, nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantJob == nil {
				assert.Empty(t, q.jobs)
				return
			}
			require.Len(t, q.jobs, 1)
			assert.Equal(t, tt.wantJob.jobType, q.jobs[0].jobType)
			assert.Equal(t, tt.wantJob.resourceID, q.jobs[0].resourceID)
		})
	}
}

func TestWebhookHandler_EnqueueFailureAsksForRedelivery(t *testing.T) {
	h := NewWebhookHandler(&mockQueue{err: errors.New("redis down")}, "")

	w := httptest.NewRecorder()
	h.Receive(w, newRequest(http.MethodPost, "/webhooks/gateway", `{"type":"payment","data":{"id":"1"}}`, nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWebhookHandler_Signature(t *testing.T) {
	const secret = "whsec"
	body := `{"type":"payment","data":{"id":"42"}}`

	tests := []struct {
		name       string
		signature  string
		requestID  string
		wantStatus int
	}{
		{"valid", sign(secret, "42", "req-1", "1700000000"), "req-1", http.StatusOK},
		{"uppercase hash", "ts=1700000000,v1=" + upperHex(sign(secret, "42", "req-1", "1700000000")), "req-1", http.StatusOK},
		{"signed for another id", sign(secret, "43", "req-1", "1700000000"), "req-1", http.StatusUnauthorized},
		{"wrong secret", sign("other", "42", "req-1", "1700000000"), "req-1", http.StatusUnauthorized},
		{"missing request id", sign(secret, "42", "req-1", "1700000000"), "", http.StatusUnauthorized},
		{"missing header", "", "req-1", http.StatusUnauthorized},
		{"garbage header", "nonsense", "req-1", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &mockQueue{}
			h := NewWebhookHandler(q, secret)

			req := newRequest(http.MethodPost, "/webhooks/gateway", body, nil)
			if tt.signature != "" {
				req.Header.Set("x-signature", tt.signature)
			}
			if tt.requestID != "" {
				req.Header.Set("x-request-id", tt.requestID)
			}
			w := httptest.NewRecorder()
			h.Receive(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				assert.Empty(t, q.jobs)
			}
		})
	}
}

// upperHex returns the v1 part of a signature header in upper case.
func upperHex(header string) string {
	_, v1, _ := strings.Cut(header, "v1=")
	return strings.ToUpper(v1)
}
