package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// MaxBatchSize is the Graph limit on sub-requests per $batch call.
const MaxBatchSize = 20

// batchPath is the JSON batching endpoint, relative to the base URL.
const batchPath = "$batch"

// BatchCallback receives one sub-request's outcome. body is passed even when
// err is non-nil so callers can inspect the error payload.
type BatchCallback func(id string, body json.RawMessage, err error)

type batchEntry struct {
	id       string
	req      Request
	callback BatchCallback
}

// batchSubRequest is one element of the $batch "requests" array.
type batchSubRequest struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

type batchRequestBody struct {
	Requests []batchSubRequest `json:"requests"`
}

// batchSubResponse is one element of the $batch "responses" array.
type batchSubResponse struct {
	ID      string            `json:"id"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

type batchResponseBody struct {
	Responses []batchSubResponse `json:"responses"`
}

// Batch queues sub-requests and submits them as a single $batch call.
// Callbacks run sequentially, in submission order, on the goroutine that
// called Execute. A Batch is not safe for concurrent use.
type Batch struct {
	client  *Client
	entries []batchEntry
	used    map[string]bool
	lastID  int
}

// NewBatch starts an empty batch bound to c.
func (c *Client) NewBatch() *Batch {
	return &Batch{
		client: c,
		used:   make(map[string]bool),
	}
}

// Len returns the number of queued sub-requests.
func (b *Batch) Len() int {
	return len(b.entries)
}

// Add queues req and returns its identifier: the next integer after the last
// one assigned, skipping identifiers already in use. No I/O happens until
// Execute.
func (b *Batch) Add(req Request, callback BatchCallback) (string, error) {
	if err := b.checkAdd(req); err != nil {
		return "", err
	}

	for {
		b.lastID++

		id := strconv.Itoa(b.lastID)
		if !b.used[id] {
			b.push(id, req, callback)
			return id, nil
		}
	}
}

// AddWithID queues req under a caller-chosen identifier.
func (b *Batch) AddWithID(id string, req Request, callback BatchCallback) error {
	if id == "" {
		return malformed("batch request id is empty")
	}

	if b.used[id] {
		return malformed("batch request id %q already in use", id)
	}

	if err := b.checkAdd(req); err != nil {
		return err
	}

	b.push(id, req, callback)

	return nil
}

// Remove drops a queued sub-request. Its identifier is freed, but Add keeps
// counting forward, so the gap is not reused automatically.
func (b *Batch) Remove(id string) bool {
	for i, e := range b.entries {
		if e.id == id {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			delete(b.used, id)

			return true
		}
	}

	return false
}

func (b *Batch) checkAdd(req Request) error {
	if strings.Trim(req.Path, "/") == "" {
		return malformed("batch request has no path")
	}

	if len(b.entries) >= MaxBatchSize {
		return malformed("batch already holds %d requests", MaxBatchSize)
	}

	return nil
}

func (b *Batch) push(id string, req Request, callback BatchCallback) {
	b.entries = append(b.entries, batchEntry{id: id, req: req, callback: callback})
	b.used[id] = true
}

// Execute submits every queued sub-request in one POST and delivers each
// result to its callback in submission order, whatever order the server
// answered in. Sub-requests with status >= 300 get a *ClientError built from
// their body.
//
// If the response lacks any submitted id, Execute returns ErrProtocol before
// any callback runs. The queue is cleared once the server has accepted the
// batch, so a retry never replays sub-requests that already executed.
func (b *Batch) Execute(ctx context.Context) error {
	if len(b.entries) == 0 {
		return nil
	}

	subs := make([]batchSubRequest, 0, len(b.entries))
	for _, e := range b.entries {
		sub, err := b.stamp(e)
		if err != nil {
			return err
		}

		subs = append(subs, sub)
	}

	b.client.logger.Info("executing batch", slog.Int("requests", len(subs)))

	var resp batchResponseBody

	err := b.client.ExecuteInto(ctx, Request{
		Method: http.MethodPost,
		Path:   batchPath,
		Body:   batchRequestBody{Requests: subs},
	}, &resp)
	if err != nil {
		return err
	}

	entries := b.entries
	b.reset()

	byID := make(map[string]batchSubResponse, len(resp.Responses))
	for _, r := range resp.Responses {
		byID[r.ID] = r
	}

	var missing []string

	for _, e := range entries {
		if _, ok := byID[e.id]; !ok {
			missing = append(missing, e.id)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: batch response missing ids %s", ErrProtocol, strings.Join(missing, ","))
	}

	for _, e := range entries {
		r := byID[e.id]

		var subErr error
		if r.Status >= http.StatusMultipleChoices {
			subErr = newClientError(r.Status, r.Body, r.Headers["request-id"])
		}

		b.client.logger.Debug("batch response",
			slog.String("id", e.id),
			slog.Int("status", r.Status),
		)

		if e.callback != nil {
			e.callback(e.id, r.Body, subErr)
		}
	}

	return nil
}

// stamp converts a queued entry to its wire form. URLs are relative to the
// API version root, e.g. "/me/messages?$top=5".
func (b *Batch) stamp(e batchEntry) (batchSubRequest, error) {
	path := e.req.Path
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		if !b.client.withinBase(path) {
			return batchSubRequest{}, malformed("batch request %s: URL %q is outside %q", e.id, path, b.client.baseURL)
		}

		path = strings.TrimPrefix(path, b.client.baseURL)
	}

	rel := "/" + strings.Trim(path, "/")

	if qs := e.req.Query.encode(); qs != "" {
		if strings.Contains(rel, "?") {
			rel += "&" + qs
		} else {
			rel += "?" + qs
		}
	}

	method := strings.ToUpper(e.req.Method)
	if method == "" {
		method = http.MethodGet
	}

	headers := map[string]string{"Content-Type": "application/json"}
	for key, values := range e.req.Header {
		if len(values) > 0 {
			headers[http.CanonicalHeaderKey(key)] = values[0]
		}
	}

	body, err := encodeBody(e.req.Body)
	if err != nil {
		return batchSubRequest{}, err
	}

	return batchSubRequest{
		ID:      e.id,
		Method:  method,
		URL:     rel,
		Headers: headers,
		Body:    body,
	}, nil
}

func (b *Batch) reset() {
	b.entries = nil
	b.used = make(map[string]bool)
	b.lastID = 0
}
