package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("transition order: %w", Wrap(CodeAmountMismatch, "paid 1998, expected 1999", nil))

	assert.True(t, errors.Is(err, ErrAmountMismatch))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, CodeAmountMismatch, CodeOf(err))
	assert.Equal(t, "paid 1998, expected 1999", MessageOf(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrValidation, http.StatusBadRequest},
		{ErrNotFound, http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{ErrDailyLimitExhausted, http.StatusUnprocessableEntity},
		{ErrGateway, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}

func TestMessageOfUnknownError(t *testing.T) {
	assert.Equal(t, "internal error", MessageOf(errors.New("pq: connection refused")))
}
