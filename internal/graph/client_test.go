package graph

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeToken is a test TokenProvider. Each Refresh swaps in the next token
// from tokens, or returns refreshErr when set.
type fakeToken struct {
	mu         sync.Mutex
	current    string
	tokens     []string
	refreshErr error
	refreshes  atomic.Int32
}

func (f *fakeToken) AccessToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.current
}

func (f *fakeToken) Refresh(_ context.Context) error {
	f.refreshes.Add(1)

	if f.refreshErr != nil {
		return f.refreshErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.tokens) > 0 {
		f.current = f.tokens[0]
		f.tokens = f.tokens[1:]
	}

	return nil
}

// staticToken is a TokenProvider whose Refresh always succeeds without
// changing the token.
type staticToken string

func (t staticToken) AccessToken() string { return string(t) }

func (staticToken) Refresh(context.Context) error { return nil }

// newTestClient creates a Client pointing at the given httptest server.
func newTestClient(t *testing.T, url string, opts ...ClientOption) *Client {
	t.Helper()

	return NewClient(url, http.DefaultClient, staticToken("test-token"), slog.Default(), opts...)
}

func TestExecute_Success(t *testing.T) {
	var gotAuth, gotReqID, gotUA string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReqID = r.Header.Get("client-request-id")
		gotUA = r.Header.Get("User-Agent")

		assert.Equal(t, "/me", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"u1"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	body, err := client.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/me"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"id":"u1"}`, string(body))
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.NotEmpty(t, gotReqID)
	assert.Equal(t, defaultUserAgent, gotUA)
}

func TestExecute_EmptySuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	body, err := client.Execute(context.Background(), Request{Method: http.MethodDelete, Path: "me/events/1"})
	require.NoError(t, err)
	assert.Nil(t, body)
}

func TestExecute_NonJSONSuccessIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>hello</html>`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Execute(context.Background(), Request{Path: "me"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, KindProtocol, KindOf(err))
}

func TestExecute_QueryAndBody(t *testing.T) {
	var gotQuery, gotMethod, gotContentType string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")

		data, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(data, &gotBody))

		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Execute(context.Background(), Request{
		Method: "post",
		Path:   "me/calendars",
		Query:  EmptyFilter().WithTop(5),
		Body:   map[string]string{"name": "Work"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "$top=5", gotQuery)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "Work", gotBody["name"])
}

func TestExecute_QueryValuesWithReservedCharacters(t *testing.T) {
	tests := []struct {
		name  string
		query QueryFilter
		key   string
		want  string
	}{
		{"ampersand", QueryFilter{FilterBy: []string{"subject eq 'Q&A'"}}, "$filter", "subject eq 'Q&A'"},
		{"equals", QueryFilter{FilterBy: []string{"subject eq 'a=b'"}}, "$filter", "subject eq 'a=b'"},
		{"percent", EmptyFilter().WithParam("$search", `"100%25"`), "$search", `"100%25"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string][]string

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.URL.Query()
				_, _ = w.Write([]byte(`{}`))
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL)
			_, err := client.Execute(context.Background(), Request{Path: "me/messages", Query: tt.query})
			require.NoError(t, err)

			assert.Equal(t, map[string][]string{tt.key: {tt.want}}, got)
		})
	}
}

func TestExecute_ForeignAbsoluteURLRejected(t *testing.T) {
	var hits atomic.Int32

	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer foreign.Close()

	client := newTestClient(t, "https://graph.example.com/v1.0")
	_, err := client.Execute(context.Background(), Request{Path: foreign.URL + "/steal"})

	require.ErrorIs(t, err, ErrProtocol)
	assert.Zero(t, hits.Load())
}

func TestExecute_CallerHeadersWin(t *testing.T) {
	var gotPrefer, gotAccept string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrefer = r.Header.Get("Prefer")
		gotAccept = r.Header.Get("Accept")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Execute(context.Background(), Request{
		Path:   "me",
		Header: http.Header{"Prefer": {"odata.maxpagesize=5"}, "Accept": {"text/plain"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "odata.maxpagesize=5", gotPrefer)
	assert.Equal(t, "text/plain", gotAccept)
}

func TestExecute_RefreshOn401ThenSucceeds(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"InvalidAuthenticationToken","message":"expired"}}`))

			return
		}

		_, _ = w.Write([]byte(`{"id":"u1"}`))
	}))
	defer srv.Close()

	tok := &fakeToken{current: "stale", tokens: []string{"fresh"}}
	client := NewClient(srv.URL, http.DefaultClient, tok, slog.Default())

	body, err := client.Execute(context.Background(), Request{Path: "me"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"id":"u1"}`, string(body))
	assert.Equal(t, int32(1), tok.refreshes.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecute_Second401IsClientError(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"InvalidAuthenticationToken","message":"still bad"}}`))
	}))
	defer srv.Close()

	tok := &fakeToken{current: "a", tokens: []string{"b"}}
	client := NewClient(srv.URL, http.DefaultClient, tok, slog.Default())

	_, err := client.Execute(context.Background(), Request{Path: "me"})
	require.Error(t, err)

	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, http.StatusUnauthorized, clientErr.StatusCode)
	assert.True(t, clientErr.IsInvalidSession())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), tok.refreshes.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecute_RefreshFailureIsAuthExpired(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tok := &fakeToken{current: "a", refreshErr: errors.New("token endpoint down")}
	client := NewClient(srv.URL, http.DefaultClient, tok, slog.Default())

	_, err := client.Execute(context.Background(), Request{Path: "me"})
	require.Error(t, err)
	assert.Equal(t, KindAuthExpired, KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecute_ClientErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"bad request", http.StatusBadRequest, ErrBadRequest},
		{"forbidden", http.StatusForbidden, ErrForbidden},
		{"not found", http.StatusNotFound, ErrNotFound},
		{"conflict", http.StatusConflict, ErrConflict},
		{"gone", http.StatusGone, ErrGone},
		{"throttled", http.StatusTooManyRequests, ErrThrottled},
		{"locked", http.StatusLocked, ErrLocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("request-id", "test-req-id")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"code":"SomeCode","message":"something"}}`))
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL)
			_, err := client.Execute(context.Background(), Request{Path: "test"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, KindClient, KindOf(err))

			var clientErr *ClientError
			require.ErrorAs(t, err, &clientErr)
			assert.Equal(t, tt.status, clientErr.StatusCode)
			assert.Equal(t, "SomeCode", clientErr.Code)
			assert.Equal(t, "something", clientErr.Message)
			assert.Equal(t, "test-req-id", clientErr.RequestID)
		})
	}
}

func TestExecute_NonJSONErrorBodyIsUnknownCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`<h1>Bad Request</h1>`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Execute(context.Background(), Request{Path: "me"})

	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, "unknown", clientErr.Code)
	assert.Equal(t, "<h1>Bad Request</h1>", clientErr.Message)
	assert.True(t, clientErr.IsInvalidTokens())
}

func TestExecute_ServerError(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":"UnknownError","message":""}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Execute(context.Background(), Request{Path: "me/calendarView"})
	require.Error(t, err)

	assert.Equal(t, KindServer, KindOf(err))
	assert.ErrorIs(t, err, ErrServerError)

	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, http.StatusServiceUnavailable, serverErr.StatusCode)
	assert.Equal(t, "UnknownError", serverErr.Code)
	assert.True(t, serverErr.IsResponseTimeout())

	// No automatic retry on 5xx.
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecute_ContextCancelled(t *testing.T) {
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())

	client := newTestClient(t, srv.URL)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Execute(ctx, Request{Path: "me"})
		errCh <- err
	}()

	cancel()

	err := <-errCh
	require.Error(t, err)
	assert.Equal(t, KindCancelled, KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecuteInto_DecodeFailureIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id": 42}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	var u User
	err := client.ExecuteInto(context.Background(), Request{Path: "me"}, &u)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestExecute_MalformedBody(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:0")

	_, err := client.Execute(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "me/messages",
		Body:   map[string]any{"bad": make(chan int)},
	})
	require.Error(t, err)
	assert.Equal(t, KindMalformedRequest, KindOf(err))
}

func TestBuildURL(t *testing.T) {
	client := newTestClient(t, "https://graph.example.com/v1.0/")

	tests := []struct {
		name  string
		path  string
		query QueryFilter
		want  string
	}{
		{"relative", "me/messages", EmptyFilter(), "https://graph.example.com/v1.0/me/messages"},
		{"leading slash", "/me", EmptyFilter(), "https://graph.example.com/v1.0/me"},
		{"root", "", EmptyFilter(), "https://graph.example.com/v1.0"},
		{"with query", "me/messages", EmptyFilter().WithTop(10), "https://graph.example.com/v1.0/me/messages?$top=10"},
		{
			"absolute kept",
			"https://graph.example.com/v1.0/me/messages?$skip=10",
			EmptyFilter(),
			"https://graph.example.com/v1.0/me/messages?$skip=10",
		},
		{
			"absolute with query appended",
			"https://graph.example.com/v1.0/me/messages?$skip=10",
			EmptyFilter().WithTop(5),
			"https://graph.example.com/v1.0/me/messages?$skip=10&$top=5",
		},
		{
			"reserved characters escaped per value",
			"me/messages",
			QueryFilter{FilterBy: []string{"subject eq 'Q&A'"}},
			"https://graph.example.com/v1.0/me/messages?$filter=subject%20eq%20%27Q%26A%27",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.buildURL(tt.path, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildURL_RejectsURLsOutsideBase(t *testing.T) {
	client := newTestClient(t, "https://graph.example.com/v1.0")

	for _, link := range []string{
		"https://evil.example.com/v1.0/me/messages",
		"https://graph.example.com/v1.0evil/me",
		"http://graph.example.com/v1.0/me",
	} {
		_, err := client.buildURL(link, EmptyFilter())
		assert.ErrorIs(t, err, ErrProtocol, link)
	}

	got, err := client.buildURL("https://graph.example.com/v1.0?$top=1", EmptyFilter())
	require.NoError(t, err)
	assert.Equal(t, "https://graph.example.com/v1.0?$top=1", got)
}

func TestWithRateLimit_ThrottlesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, WithRateLimit(1, 1))
	require.NotNil(t, client.limiter)

	_, err := client.Execute(context.Background(), Request{Path: "me"})
	require.NoError(t, err)

	// The bucket is empty; a cancelled context must fail the wait.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = client.Execute(ctx, Request{Path: "me"})
	require.Error(t, err)
	assert.Equal(t, KindCancelled, KindOf(err))
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(DefaultBaseURL+"/", nil, staticToken("x"), nil)

	assert.Equal(t, DefaultBaseURL, client.BaseURL())
	assert.Equal(t, http.DefaultClient, client.httpClient)
	assert.NotNil(t, client.logger)
	assert.Equal(t, defaultMaxPages, client.maxPages)
	assert.Nil(t, client.limiter)
	assert.True(t, strings.HasPrefix(client.userAgent, "office365-go/"))
}
