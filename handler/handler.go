package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mstgnz/coursepay/idempotency"
	"github.com/mstgnz/coursepay/infra/apperr"
	"github.com/mstgnz/coursepay/infra/auth"
	"github.com/mstgnz/coursepay/infra/response"
)

const (
	idempotencyHeader = "X-Idempotency-Key"
	requestTimeout    = 30 * time.Second
	maxBodyBytes      = 1 << 20
)

// identity returns the authenticated caller, writing 401 when there is none.
func identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok || id.UserID == "" {
		response.Error(w, http.StatusUnauthorized, "Authentication required", nil)
		return auth.Identity{}, false
	}
	return id, true
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperr.Validation("invalid request body: %v", err)
}

func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// writeStored replays a stored idempotent response byte for byte.
func writeStored(w http.ResponseWriter, resp *idempotency.Response, err error) {
	if errors.Is(err, idempotency.ErrInProgress) {
		response.FromError(w, apperr.Conflict("a request with this idempotency key is still being processed"))
		return
	}
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.WriteRaw(w, resp.StatusCode, resp.Body)
}

func withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}
