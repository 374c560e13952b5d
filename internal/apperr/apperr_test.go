package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	err := New(CodeNotFound, "client not found")
	assert.Equal(t, CodeNotFound, CodeOf(err))

	wrapped := fmt.Errorf("handler: %w", err)
	assert.Equal(t, CodeNotFound, CodeOf(wrapped))

	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestMessageOf_HidesUncodedDetail(t *testing.T) {
	assert.Equal(t, "internal error", MessageOf(errors.New("sql: syntax error near SELECT")))
	assert.Equal(t, "nope", MessageOf(New(CodeForbidden, "nope")))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeUpstreamDisconnected, "downstream unavailable", cause)
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, CodeUpstreamDisconnected, CodeOf(err))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeMissingCredentials: http.StatusUnauthorized,
		CodeInvalidCredentials: http.StatusUnauthorized,
		CodeInvalidFormat:      http.StatusBadRequest,
		CodeClientSuspended:    http.StatusForbidden,
		CodeNotAuthorized:      http.StatusForbidden,
		CodeToolNotFound:       http.StatusNotFound,
		CodeReloadInProgress:   http.StatusConflict,
		CodeStructuralChange:   http.StatusUnprocessableEntity,
		CodeRateLimitExceeded:  http.StatusTooManyRequests,
		CodeCapacityExceeded:   http.StatusServiceUnavailable,
		CodeUpstreamTimeout:    http.StatusGatewayTimeout,
		CodeInternal:           http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), string(code))
	}
}
