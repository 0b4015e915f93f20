package errortypes

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorPredicates(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"validation", ValidationError(base, "bad input"), IsValidationError},
		{"format", FormatError(base, "bad schedule"), IsFormatError},
		{"not_found", NotFoundError(base, "no such app"), IsNotFoundError},
		{"timeout", TimeoutError(base, "deadline"), IsTimeoutError},
		{"permission", PermissionError(base, "denied"), IsPermissionError},
		{"database", DatabaseError(base, "sqlite"), IsDatabaseError},
		{"network", NetworkError(base, "dial"), IsNetworkError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("wrapped: %w", tt.err)))
			assert.ErrorIs(t, tt.err, base)
		})
	}

	assert.False(t, IsTimeoutError(FormatError(base, "x")))
	assert.False(t, IsFormatError(base))
}

func TestAppErrorMessage(t *testing.T) {
	err := FormatError(errors.New("expected 5 fields, got 4"), "invalid schedule")
	assert.Equal(t, "invalid schedule: expected 5 fields, got 4", err.Error())

	err.WithField("input", "* * * *").WithFields(map[string]interface{}{"attempt": 1})
	assert.Equal(t, "* * * *", err.Fields["input"])
	assert.Equal(t, 1, err.Fields["attempt"])
	assert.NotEmpty(t, err.StackInfo)
}

func TestHTTPError(t *testing.T) {
	notFound := &HTTPError{Status: 404, Method: "GET", Path: "/steering/apps/private/7"}
	assert.True(t, notFound.IsClientError())
	assert.False(t, notFound.Retryable())
	assert.Contains(t, notFound.Error(), "HTTP 404 Not Found")
	assert.Contains(t, notFound.Error(), "GET /steering/apps/private/7")

	unavailable := &HTTPError{Status: 503, StatusText: "Service Unavailable"}
	assert.False(t, unavailable.IsClientError())
	assert.True(t, unavailable.Retryable())

	wrapped := fmt.Errorf("listing apps: %w", unavailable)
	got, ok := AsHTTPError(wrapped)
	require.True(t, ok)
	assert.Equal(t, 503, got.Status)

	_, ok = AsHTTPError(errors.New("plain"))
	assert.False(t, ok)
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LogError(logger, APIError(errors.New("connection reset"), "failed to list rules").WithField("path", "/policy/npa/rules"))
	out := buf.String()
	assert.Contains(t, out, "failed to list rules")
	assert.Contains(t, out, "type=api")
	assert.Contains(t, out, "path=/policy/npa/rules")

	buf.Reset()
	LogError(logger, &HTTPError{Status: 500, Method: "DELETE", Path: "/x"})
	assert.True(t, strings.Contains(buf.String(), "status=500"))

	buf.Reset()
	LogError(logger, errors.New("plain failure"))
	assert.Contains(t, buf.String(), "plain failure")
}
