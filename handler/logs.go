package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/mstgnz/coursepay/infra/apperr"
	"github.com/mstgnz/coursepay/infra/opensearch"
	"github.com/mstgnz/coursepay/infra/postgres"
	"github.com/mstgnz/coursepay/infra/response"
)

// GatewayLogSearcher reads the gateway call audit trail
type GatewayLogSearcher interface {
	SearchGatewayCalls(ctx context.Context, endpoint string, size int) ([]opensearch.GatewayCallLog, error)
}

// GatewayStatsReader is implemented by audit stores that can aggregate calls.
type GatewayStatsReader interface {
	Stats(ctx context.Context, hours int) (*postgres.GatewayStats, error)
}

// LogsHandler exposes the gateway audit trail to administrators
type LogsHandler struct {
	logs GatewayLogSearcher
}

// NewLogsHandler creates a new logs handler. logs is nil when OpenSearch is
// not configured.
func NewLogsHandler(logs GatewayLogSearcher) *LogsHandler {
	return &LogsHandler{logs: logs}
}

// GatewayCalls lists the latest calls to one gateway endpoint, e.g.
// GET /v1/admin/gateway-logs?endpoint=/v1/payments&size=50
func (h *LogsHandler) GatewayCalls(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		response.Error(w, http.StatusServiceUnavailable, "Gateway logging is not enabled", nil)
		return
	}

	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		response.FromError(w, apperr.Validation("endpoint parameter is required"))
		return
	}

	size := 20
	if s := r.URL.Query().Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 200 {
			response.FromError(w, apperr.Validation("size must be between 1 and 200"))
			return
		}
		size = n
	}

	ctx, cancel := withTimeout(r)
	defer cancel()

	entries, err := h.logs.SearchGatewayCalls(ctx, endpoint, size)
	if err != nil {
		response.FromError(w, apperr.External(0, "failed to search gateway logs", err))
		return
	}
	response.Success(w, http.StatusOK, "Gateway logs retrieved", map[string]any{
		"endpoint": endpoint,
		"count":    len(entries),
		"logs":     entries,
	})
}

// GatewayStats aggregates the audit trail of the last hours (default 24).
// Only the PostgreSQL audit store supports it.
func (h *LogsHandler) GatewayStats(w http.ResponseWriter, r *http.Request) {
	reader, ok := h.logs.(GatewayStatsReader)
	if !ok {
		response.Error(w, http.StatusNotImplemented, "Gateway statistics are not available", nil)
		return
	}

	hours := 24
	if s := r.URL.Query().Get("hours"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			response.FromError(w, apperr.Validation("hours must be a number"))
			return
		}
		hours = n
	}
	if hours < 1 || hours > 8760 {
		response.FromError(w, apperr.Validation("hours must be between 1 and 8760"))
		return
	}

	ctx, cancel := withTimeout(r)
	defer cancel()

	stats, err := reader.Stats(ctx, hours)
	if err != nil {
		response.FromError(w, apperr.Unexpected("failed to aggregate gateway logs", err))
		return
	}
	response.Success(w, http.StatusOK, "Gateway statistics retrieved", stats)
}
