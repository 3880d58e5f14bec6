package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "validation", err: Validation("amount %s", "too low"), want: KindValidation},
		{name: "wrapped business", err: fmt.Errorf("refund: %w", Business("window closed")), want: KindBusiness},
		{name: "external", err: External(503, "gateway unavailable", nil), want: KindExternal},
		{name: "plain error", err: errors.New("boom"), want: KindUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NotFound("subscription %s not found", "s1"))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrForbidden))
}

func TestMessageOfHidesUnexpected(t *testing.T) {
	assert.Equal(t, "internal server error", MessageOf(Unexpected("db exploded", errors.New("conn reset"))))
	assert.Equal(t, "internal server error", MessageOf(errors.New("raw")))
	assert.Equal(t, "claim not found", MessageOf(NotFound("claim not found")))
}

func TestExternalCarriesStatus(t *testing.T) {
	cause := errors.New("connection refused")
	err := External(502, "gateway call failed", cause)

	assert.Equal(t, 502, StatusOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}
