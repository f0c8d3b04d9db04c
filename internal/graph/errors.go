// Package graph provides a client for the Microsoft Graph API: authenticated
// request execution with transparent token refresh, OData query composition,
// next-link pagination with delta tokens, and JSON batching.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies every error returned by this package. Use KindOf to
// switch on it instead of inspecting concrete error types.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindMalformedRequest
	KindAuthExpired
	KindClient
	KindServer
	KindProtocol
	KindCancelled
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindMalformedRequest:
		return "malformed_request"
	case KindAuthExpired:
		return "auth_expired"
	case KindClient:
		return "client_error"
	case KindServer:
		return "server_error"
	case KindProtocol:
		return "protocol_error"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Sentinel errors for the non-HTTP error kinds.
var (
	ErrMalformedRequest = errors.New("graph: malformed request")
	ErrAuthExpired      = errors.New("graph: authorization expired, re-authentication required")
	ErrProtocol         = errors.New("graph: protocol error")
	ErrCancelled        = errors.New("graph: request cancelled")
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, graph.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("graph: bad request")
	ErrUnauthorized = errors.New("graph: unauthorized")
	ErrForbidden    = errors.New("graph: forbidden")
	ErrNotFound     = errors.New("graph: not found")
	ErrConflict     = errors.New("graph: conflict")
	ErrGone         = errors.New("graph: resource gone")
	ErrThrottled    = errors.New("graph: throttled")
	ErrLocked       = errors.New("graph: resource locked")
	ErrServerError  = errors.New("graph: server error")
	errClientStatus = errors.New("graph: client error")
)

// unknownErrorCode is used when an error body could not be parsed.
const unknownErrorCode = "unknown"

// Graph error codes with special meaning to callers.
const (
	codeSyncStateNotFound = "syncstatenotfound"
	codeUnknownError      = "UnknownError"
)

// ClientError is a 3xx/4xx response from the API. The 401 that triggers the
// transparent token refresh never surfaces here unless the retry also fails.
type ClientError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *ClientError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("graph: HTTP %d %s (request-id: %s): %s", e.StatusCode, e.Code, e.RequestID, e.Message)
	}

	return fmt.Sprintf("graph: HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *ClientError) Unwrap() error {
	if sentinel := classifyStatus(e.StatusCode); sentinel != nil {
		return sentinel
	}

	return errClientStatus
}

// IsNotFound reports a missing resource.
func (e *ClientError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsInvalidSession reports an access token the API still rejects after a
// refresh. Only reachable when the single retry also returned 401.
func (e *ClientError) IsInvalidSession() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsInvalidTokens reports a 400, which the token endpoint returns once the
// refresh token itself has expired. The user has to log in again.
func (e *ClientError) IsInvalidTokens() bool {
	return e.StatusCode == http.StatusBadRequest
}

// IsExpiredSyncToken reports a stale delta token. Callers must drop the
// token and run a full, non-incremental sync.
func (e *ClientError) IsExpiredSyncToken() bool {
	return strings.EqualFold(e.Code, codeSyncStateNotFound) || e.StatusCode == http.StatusGone
}

// ServerError is a 5xx response. Code is filled only when the body happened
// to be a JSON error envelope.
type ServerError struct {
	StatusCode int
	Code       string
	Body       string
	RequestID  string
}

func (e *ServerError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("graph: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Body)
	}

	return fmt.Sprintf("graph: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *ServerError) Unwrap() error {
	return ErrServerError
}

// IsResponseTimeout reports the gateway timeout Graph returns for requests
// that take too long to complete. Callers may retry these.
func (e *ServerError) IsResponseTimeout() bool {
	return (e.StatusCode == http.StatusServiceUnavailable || e.StatusCode == http.StatusGatewayTimeout) &&
		e.Code == codeUnknownError
}

// KindOf returns the ErrorKind of err. A nil error is KindNone.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var clientErr *ClientError
	var serverErr *ServerError

	switch {
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrAuthExpired):
		return KindAuthExpired
	case errors.Is(err, ErrMalformedRequest):
		return KindMalformedRequest
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.As(err, &clientErr):
		return KindClient
	case errors.As(err, &serverErr):
		return KindServer
	default:
		return KindUnknown
	}
}

// errorEnvelope mirrors the Graph API error body: {"error":{"code","message"}}.
type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newClientError builds a ClientError from a response body. A body that is not
// a JSON error envelope degrades to the "unknown" code with the raw content as
// the message, so a garbled error page never turns into a decode failure.
func newClientError(status int, body []byte, requestID string) *ClientError {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		return &ClientError{
			StatusCode: status,
			Code:       unknownErrorCode,
			Message:    string(body),
			RequestID:  requestID,
		}
	}

	return &ClientError{
		StatusCode: status,
		Code:       env.Error.Code,
		Message:    env.Error.Message,
		RequestID:  requestID,
	}
}

// newServerError builds a ServerError, surfacing error.code when present.
func newServerError(status int, body []byte, requestID string) *ServerError {
	var env errorEnvelope

	code := ""
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		code = env.Error.Code
	}

	return &ServerError{
		StatusCode: status,
		Code:       code,
		Body:       string(body),
		RequestID:  requestID,
	}
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a dedicated sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusGone:
		return ErrGone
	case http.StatusTooManyRequests:
		return ErrThrottled
	case http.StatusLocked:
		return ErrLocked
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// malformed wraps ErrMalformedRequest with a reason.
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedRequest, fmt.Sprintf(format, args...))
}
