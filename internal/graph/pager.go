package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"golang.org/x/text/cases"
)

// Delta token query keys, compared after case folding.
var (
	deltaTokenKeys = []string{"$deltatoken", "deltatoken"}
	skipTokenKeys  = []string{"$skiptoken", "skiptoken"}
)

// pageResponse mirrors a Graph collection page.
type pageResponse struct {
	Value     []json.RawMessage `json:"value"`
	NextLink  string            `json:"@odata.nextLink"`  //nolint:tagliatelle // OData annotation key
	DeltaLink string            `json:"@odata.deltaLink"` //nolint:tagliatelle // OData annotation key
}

// Page is one page of a collection.
type Page struct {
	Items     []json.RawMessage
	NextLink  string
	DeltaLink string
}

// PageResult is the outcome of walking a paginated collection.
type PageResult struct {
	// Items holds every page's values in server delivery order.
	Items []json.RawMessage
	// Cursor is the delta token from the final page's delta link, empty when
	// the server sent none. Keep it for the next incremental sync.
	Cursor string
	// DeltaLink is the full delta link the cursor was taken from.
	DeltaLink string
	// NextLink is set only when the walk stopped early (cancellation); it is
	// the page that was about to be fetched.
	NextLink string
	Pages    int
}

// FetchPage fetches one page of a collection.
func (c *Client) FetchPage(ctx context.Context, req Request) (*Page, error) {
	var pr pageResponse
	if err := c.ExecuteInto(ctx, req, &pr); err != nil {
		return nil, err
	}

	return &Page{
		Items:     pr.Value,
		NextLink:  pr.NextLink,
		DeltaLink: pr.DeltaLink,
	}, nil
}

// FetchAll follows @odata.nextLink from req until the server stops sending
// one, accumulating every page's items. When the last page carries a delta
// link, its delta token becomes the result's Cursor.
//
// A next link that repeats a URL already fetched, or a walk longer than the
// client's page cap, fails with ErrProtocol instead of looping forever.
// If ctx is cancelled mid-walk the pages gathered so far are returned along
// with an ErrCancelled error; any other failure returns a nil result.
func (c *Client) FetchAll(ctx context.Context, req Request) (*PageResult, error) {
	first, err := c.buildURL(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	c.logger.Info("starting paginated fetch", slog.String("url", first))

	result := &PageResult{}
	visited := map[string]bool{first: true}

	pageReq := req
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			result.NextLink = pageURL(c, pageReq)
			return result, cancelled(ctx, ctxErr)
		}

		page, err := c.FetchPage(ctx, pageReq)
		if err != nil {
			if KindOf(err) == KindCancelled {
				result.NextLink = pageURL(c, pageReq)
				return result, err
			}

			return nil, err
		}

		result.Pages++
		result.Items = append(result.Items, page.Items...)

		c.logger.Debug("accumulated page",
			slog.Int("page", result.Pages),
			slog.Int("page_items", len(page.Items)),
			slog.Int("total_items", len(result.Items)),
		)

		if page.NextLink == "" {
			result.DeltaLink = page.DeltaLink
			result.Cursor = DeltaTokenFromLink(page.DeltaLink)

			c.logger.Info("paginated fetch complete",
				slog.Int("pages", result.Pages),
				slog.Int("total_items", len(result.Items)),
				slog.Bool("has_cursor", result.Cursor != ""),
			)

			return result, nil
		}

		if !c.withinBase(page.NextLink) {
			return nil, fmt.Errorf("%w: next link after page %d is outside %s: %s",
				ErrProtocol, result.Pages, c.baseURL, page.NextLink)
		}

		if visited[page.NextLink] {
			return nil, fmt.Errorf("%w: next link repeated after page %d: %s", ErrProtocol, result.Pages, page.NextLink)
		}

		if result.Pages >= c.maxPages {
			return nil, fmt.Errorf("%w: exceeded %d pages without reaching the end", ErrProtocol, c.maxPages)
		}

		visited[page.NextLink] = true

		// Next links already carry the full query; only the headers carry over.
		pageReq = Request{
			Method: req.Method,
			Path:   page.NextLink,
			Header: req.Header,
		}
	}
}

// pageURL renders the URL a request would hit, for resume points.
func pageURL(c *Client, req Request) string {
	u, err := c.buildURL(req.Path, req.Query)
	if err != nil {
		return req.Path
	}

	return u
}

// DeltaTokenFromLink extracts the delta token from a delta link. The query
// key is matched case-insensitively ($deltatoken, $deltaToken, ...).
// Returns "" when the link is empty, unparseable, or carries no token.
func DeltaTokenFromLink(link string) string {
	return tokenFromLink(link, deltaTokenKeys)
}

// SkipTokenFromLink extracts the skip token from a next link, the resume
// point of a delta walk that stopped part way.
func SkipTokenFromLink(link string) string {
	return tokenFromLink(link, skipTokenKeys)
}

func tokenFromLink(link string, keys []string) string {
	if link == "" {
		return ""
	}

	u, err := url.Parse(link)
	if err != nil {
		return ""
	}

	// Casers carry state, so each call gets its own.
	folder := cases.Fold()

	for key, values := range u.Query() {
		folded := folder.String(key)

		for _, want := range keys {
			if folded == want && len(values) > 0 {
				return values[0]
			}
		}
	}

	return ""
}

// DecodeItems unmarshals raw collection items into T.
func DecodeItems[T any](items []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(items))

	for i, raw := range items {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: decoding item %d: %w", ErrProtocol, i, err)
		}

		out = append(out, v)
	}

	return out, nil
}
