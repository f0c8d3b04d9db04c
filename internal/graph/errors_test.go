package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"malformed", malformed("missing id"), KindMalformedRequest},
		{"auth expired", fmt.Errorf("%w: boom", ErrAuthExpired), KindAuthExpired},
		{"protocol", fmt.Errorf("%w: bad page", ErrProtocol), KindProtocol},
		{"cancelled", cancelled(context.Background(), context.Canceled), KindCancelled},
		{"client", &ClientError{StatusCode: http.StatusNotFound}, KindClient},
		{"wrapped client", fmt.Errorf("op: %w", &ClientError{StatusCode: http.StatusConflict}), KindClient},
		{"server", &ServerError{StatusCode: http.StatusBadGateway}, KindServer},
		{"other", errors.New("dial tcp: refused"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorKind_String(t *testing.T) {
	assert.Equal(t, "none", KindNone.String())
	assert.Equal(t, "malformed_request", KindMalformedRequest.String())
	assert.Equal(t, "auth_expired", KindAuthExpired.String())
	assert.Equal(t, "client_error", KindClient.String())
	assert.Equal(t, "server_error", KindServer.String())
	assert.Equal(t, "protocol_error", KindProtocol.String())
	assert.Equal(t, "cancelled", KindCancelled.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}

func TestNewClientError_ParsesEnvelope(t *testing.T) {
	err := newClientError(http.StatusGone, []byte(`{"error":{"code":"SyncStateNotFound","message":"resync"}}`), "rid")

	assert.Equal(t, "SyncStateNotFound", err.Code)
	assert.Equal(t, "resync", err.Message)
	assert.Equal(t, "rid", err.RequestID)
	assert.True(t, err.IsExpiredSyncToken())
	assert.ErrorIs(t, err, ErrGone)
	assert.Contains(t, err.Error(), "request-id: rid")
}

func TestNewClientError_UnknownCode(t *testing.T) {
	for _, body := range []string{``, `not json`, `{"other":1}`} {
		err := newClientError(http.StatusBadRequest, []byte(body), "")

		assert.Equal(t, unknownErrorCode, err.Code, "body %q", body)
		assert.Equal(t, body, err.Message)
	}
}

func TestClientError_Predicates(t *testing.T) {
	tests := []struct {
		name         string
		err          *ClientError
		notFound     bool
		session      bool
		tokens       bool
		expiredDelta bool
	}{
		{"404", &ClientError{StatusCode: 404, Code: "ErrorItemNotFound"}, true, false, false, false},
		{"401", &ClientError{StatusCode: 401}, false, true, false, false},
		{"400", &ClientError{StatusCode: 400, Code: "invalid_grant"}, false, false, true, false},
		{"sync state by code", &ClientError{StatusCode: 400, Code: "syncStateNotFound"}, false, false, true, true},
		{"sync state by 410", &ClientError{StatusCode: 410, Code: "resyncRequired"}, false, false, false, true},
		{"403", &ClientError{StatusCode: 403}, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.notFound, tt.err.IsNotFound())
			assert.Equal(t, tt.session, tt.err.IsInvalidSession())
			assert.Equal(t, tt.tokens, tt.err.IsInvalidTokens())
			assert.Equal(t, tt.expiredDelta, tt.err.IsExpiredSyncToken())
		})
	}
}

func TestClientError_UnwrapWithoutSentinel(t *testing.T) {
	err := &ClientError{StatusCode: http.StatusMethodNotAllowed}

	assert.ErrorIs(t, err, errClientStatus)
	assert.NotErrorIs(t, err, ErrBadRequest)
}

func TestServerError_IsResponseTimeout(t *testing.T) {
	tests := []struct {
		status int
		code   string
		want   bool
	}{
		{http.StatusServiceUnavailable, codeUnknownError, true},
		{http.StatusGatewayTimeout, codeUnknownError, true},
		{http.StatusGatewayTimeout, "", false},
		{http.StatusInternalServerError, codeUnknownError, false},
	}

	for _, tt := range tests {
		err := newServerError(tt.status, []byte(`{"error":{"code":"`+tt.code+`"}}`), "")
		if tt.code == "" {
			err = newServerError(tt.status, []byte(`gateway timeout`), "")
		}

		assert.Equal(t, tt.want, err.IsResponseTimeout(), "status %d code %q", tt.status, tt.code)
	}
}

func TestNewServerError_KeepsBody(t *testing.T) {
	err := newServerError(http.StatusBadGateway, []byte(`upstream down`), "r1")

	require.ErrorIs(t, err, ErrServerError)
	assert.Empty(t, err.Code)
	assert.Equal(t, "upstream down", err.Body)
	assert.Contains(t, err.Error(), "502")
}
