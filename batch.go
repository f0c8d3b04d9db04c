package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/office365-go/internal/graph"
)

func newBatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch <path>...",
		Short: "GET several resources of the mailbox in batched round trips",
		Long: `Fetch each path, relative to the mailbox (e.g. "calendars" or "messages?$top=5"),
through JSON $batch requests of up to 20 sub-requests each. Results print in
argument order; a failed sub-request does not fail the others.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runBatch,
	}
}

// batchResult is the JSON schema for one `batch --json` entry.
type batchResult struct {
	Path  string          `json:"path"`
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Kind  string          `json:"kind,omitempty"`
	Body  json.RawMessage `json:"body,omitempty"`
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	type parsedPath struct {
		path   string
		filter graph.QueryFilter
	}

	parsed := make([]parsedPath, 0, len(args))

	for _, arg := range args {
		path, filter, err := splitBatchPath(arg)
		if err != nil {
			return err
		}

		parsed = append(parsed, parsedPath{path: path, filter: filter})
	}

	s, err := newSession(ctx, cc, false)
	if err != nil {
		return err
	}
	defer s.Close()

	results := make([]batchResult, len(args))

	for chunkStart := 0; chunkStart < len(args); chunkStart += graph.MaxBatchSize {
		chunkEnd := min(chunkStart+graph.MaxBatchSize, len(args))
		batch := s.Client.NewBatch()

		for i := chunkStart; i < chunkEnd; i++ {
			req := s.Scope.Request(http.MethodGet, parsed[i].path, parsed[i].filter, nil)

			_, err := batch.Add(req, func(_ string, body json.RawMessage, err error) {
				results[i] = batchResult{Path: args[i], OK: err == nil, Body: body}
				if err != nil {
					results[i].Error = err.Error()
					results[i].Kind = graph.KindOf(err).String()
				}
			})
			if err != nil {
				return fmt.Errorf("queueing %s: %w", args[i], err)
			}
		}

		if err := batch.Execute(ctx); err != nil {
			return fmt.Errorf("executing batch: %w", err)
		}
	}

	if cc.JSON {
		return printJSON(cc.Out, results)
	}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		detail := humanize.Bytes(uint64(len(r.Body)))
		status := "ok"

		if !r.OK {
			status = r.Kind
			detail = r.Error
		}

		rows = append(rows, []string{r.Path, status, detail})
	}

	printTable(cc.Out, []string{"PATH", "STATUS", "DETAIL"}, rows)

	return nil
}

// splitBatchPath separates "messages?$top=5&$select=subject" into the path
// and an ordered filter of its query parameters.
func splitBatchPath(arg string) (string, graph.QueryFilter, error) {
	path, rawQuery, _ := strings.Cut(arg, "?")
	filter := graph.EmptyFilter()

	if strings.TrimSpace(path) == "" {
		return "", filter, fmt.Errorf("batch path %q: empty resource path", arg)
	}

	if rawQuery == "" {
		return path, filter, nil
	}

	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}

		rawKey, rawValue, _ := strings.Cut(part, "=")

		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return "", filter, fmt.Errorf("batch path %q: %w", arg, err)
		}

		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return "", filter, fmt.Errorf("batch path %q: %w", arg, err)
		}

		filter = filter.WithParam(key, value)
	}

	return path, filter, nil
}
