package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/office365-go/internal/graph"
	"github.com/tonimelisma/office365-go/internal/store"
)

// Calendar sync window defaults, relative to now.
const (
	defaultSyncPast   = 30 * 24 * time.Hour
	defaultSyncFuture = 90 * 24 * time.Hour
)

const calendarResource = "calendarView"

// syncOptions are the flags of `sync`.
type syncOptions struct {
	Folder string
	Start  string
	End    string
	Full   bool
}

func newSyncCmd() *cobra.Command {
	var opts syncOptions

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Incrementally sync a mail folder and the calendar view",
		Long: `Fetch changes to a mail folder and to the calendar view since the last run.
Mail and calendar sync in parallel. Resume points are kept in the state database;
an interrupted sync continues where it stopped and an expired delta token triggers
a full resync.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Folder, "folder", "inbox", "mail folder to sync (well-known name or ID)")
	cmd.Flags().StringVar(&opts.Start, "start", "", "calendar window start for a new sync (default 30 days ago)")
	cmd.Flags().StringVar(&opts.End, "end", "", "calendar window end for a new sync (default 90 days ahead)")
	cmd.Flags().BoolVar(&opts.Full, "full", false, "discard resume points and sync from scratch")

	cmd.AddCommand(newSyncStatusCmd())

	return cmd
}

// syncReport is the outcome of one resource's sync; also the JSON schema.
type syncReport struct {
	Resource    string `json:"resource"`
	Changed     int    `json:"changed"`
	Removed     int    `json:"removed"`
	Pages       int    `json:"pages"`
	FullResync  bool   `json:"full_resync"`
	Interrupted bool   `json:"interrupted"`
}

// deltaFetch runs one delta walk from cursor.
type deltaFetch func(ctx context.Context, cursor graph.SyncCursor) (*graph.PageResult, error)

func runSync(cmd *cobra.Command, opts syncOptions) error {
	cc := mustCLIContext(cmd.Context())

	now := time.Now()

	start, end, err := timeWindow("start", opts.Start, "end", opts.End, now,
		now.Add(-defaultSyncPast), now.Add(defaultSyncFuture))
	if err != nil {
		return err
	}

	interrupt := newSyncInterrupt(cmd.Context(), cc.Logger)
	defer interrupt.Stop()

	ctx := interrupt.Context()

	s, err := newSession(ctx, cc, true)
	if err != nil {
		return err
	}
	defer s.Close()

	s.WatchCredentials(ctx)

	pageSize := cc.Cfg.Graph.CalendarPageSize
	mailResource := "messages/" + opts.Folder

	jobs := []struct {
		resource string
		fetch    deltaFetch
	}{
		{mailResource, func(ctx context.Context, c graph.SyncCursor) (*graph.PageResult, error) {
			return s.Scope.MessagesDelta(ctx, opts.Folder, c)
		}},
		{calendarResource, func(ctx context.Context, c graph.SyncCursor) (*graph.PageResult, error) {
			return s.Scope.CalendarViewDelta(ctx, start, end, c, pageSize)
		}},
	}

	reports := make([]syncReport, len(jobs))

	g, gctx := errgroup.WithContext(ctx)

	for i, job := range jobs {
		g.Go(func() error {
			report, err := syncResource(gctx, s, job.resource, opts.Full, job.fetch)
			reports[i] = report

			if err != nil {
				return fmt.Errorf("syncing %s: %w", job.resource, err)
			}

			return nil
		})
	}

	syncErr := g.Wait()

	if cc.JSON {
		if err := printJSON(cc.Out, reports); err != nil {
			return err
		}
	} else {
		printSyncReports(cc, reports)
	}

	if sig := interrupt.Signal(); sig != nil {
		cc.Statusf("Sync interrupted by %s; run sync again to resume.\n", sig)
	}

	return syncErr
}

// syncResource runs one incremental sync and records its resume point. A
// cancelled walk saves a skip token so the next run continues mid-walk.
func syncResource(ctx context.Context, s *Session, resource string, full bool, fetch deltaFetch) (syncReport, error) {
	report := syncReport{Resource: resource}
	logger := s.cc.Logger.With(slog.String("resource", resource))

	if full {
		if err := s.Store.ResetSyncTokens(ctx, s.account, resource); err != nil {
			return report, err
		}
	}

	tokens, err := s.Store.LoadSyncTokens(ctx, s.account, resource)
	if err != nil {
		return report, err
	}

	cursor := graph.SyncCursor{DeltaToken: tokens.DeltaToken, SkipToken: tokens.SkipToken}
	report.FullResync = cursor.IsZero()

	res, err := fetch(ctx, cursor)
	if err != nil && !cursor.IsZero() && isExpiredSyncToken(err) {
		logger.Warn("sync token expired, starting a full resync")

		if resetErr := s.Store.ResetSyncTokens(ctx, s.account, resource); resetErr != nil {
			return report, resetErr
		}

		cursor = graph.SyncCursor{}
		report.FullResync = true
		res, err = fetch(ctx, cursor)
	}

	if res != nil {
		report.Pages = res.Pages
		report.Changed, report.Removed = countChanges(res.Items)
	}

	if err != nil {
		if graph.KindOf(err) == graph.KindCancelled && res != nil {
			report.Interrupted = true
			saveResumePoint(ctx, s, logger, resource, cursor, res)
		}

		return report, err
	}

	saved := store.SyncTokens{Resource: resource, DeltaToken: res.Cursor}
	if err := s.Store.SaveSyncTokens(ctx, s.account, saved, int64(len(res.Items))); err != nil {
		return report, err
	}

	logger.Info("sync complete",
		slog.Int("changed", report.Changed),
		slog.Int("removed", report.Removed),
		slog.Bool("full_resync", report.FullResync),
	)

	return report, nil
}

// saveResumePoint stores the skip token of an interrupted walk. ctx is
// already cancelled, so the write runs detached from it.
func saveResumePoint(ctx context.Context, s *Session, logger *slog.Logger, resource string, cursor graph.SyncCursor, res *graph.PageResult) {
	skip := graph.SkipTokenFromLink(res.NextLink)
	if skip == "" {
		logger.Warn("sync interrupted before a resume point was reached")
		return
	}

	tokens := store.SyncTokens{Resource: resource, DeltaToken: cursor.DeltaToken, SkipToken: skip}
	if err := s.Store.SaveSyncTokens(context.WithoutCancel(ctx), s.account, tokens, int64(len(res.Items))); err != nil {
		logger.Warn("saving resume point", slog.String("error", err.Error()))
		return
	}

	logger.Info("sync interrupted, resume point saved", slog.Int("items", len(res.Items)))
}

func isExpiredSyncToken(err error) bool {
	var ce *graph.ClientError

	return errors.As(err, &ce) && ce.IsExpiredSyncToken()
}

// deltaItem is the part of a delta entry that tells changes from removals.
type deltaItem struct {
	Removed *graph.RemovedMarker `json:"@removed"` //nolint:tagliatelle // OData annotation key
}

func countChanges(items []json.RawMessage) (changed, removed int) {
	for _, raw := range items {
		var it deltaItem
		if err := json.Unmarshal(raw, &it); err == nil && it.Removed != nil {
			removed++
			continue
		}

		changed++
	}

	return changed, removed
}

func printSyncReports(cc *CLIContext, reports []syncReport) {
	rows := make([][]string, 0, len(reports))

	for _, r := range reports {
		mode := "incremental"

		switch {
		case r.Interrupted:
			mode = "interrupted"
		case r.FullResync:
			mode = "full"
		}

		rows = append(rows, []string{r.Resource, mode, strconv.Itoa(r.Changed), strconv.Itoa(r.Removed)})
	}

	printTable(cc.Out, []string{"RESOURCE", "MODE", "CHANGED", "REMOVED"}, rows)
}

func newSyncStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored resume point of every synced resource",
		Args:  cobra.NoArgs,
		RunE:  runSyncStatus,
	}
}

// syncStatusRow is the JSON schema for one `sync status --json` entry.
type syncStatusRow struct {
	Resource    string    `json:"resource"`
	State       string    `json:"state"`
	ItemsSynced int64     `json:"items_synced"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func runSyncStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	st, err := store.Open(ctx, cc.Cfg.Storage.StateDB, cc.Logger)
	if err != nil {
		return err
	}
	defer st.Close()

	all, err := st.ListSyncTokens(ctx, cc.Cfg.Graph.User)
	if err != nil {
		return err
	}

	rows := make([]syncStatusRow, 0, len(all))
	for _, t := range all {
		state := "up to date"
		if t.SkipToken != "" {
			state = "interrupted"
		}

		rows = append(rows, syncStatusRow{
			Resource:    t.Resource,
			State:       state,
			ItemsSynced: t.ItemsSynced,
			UpdatedAt:   t.UpdatedAt,
		})
	}

	if cc.JSON {
		return printJSON(cc.Out, rows)
	}

	if len(rows) == 0 {
		cc.Statusf("nothing synced yet for %s\n", cc.Cfg.Graph.User)
		return nil
	}

	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		table = append(table, []string{r.Resource, r.State, strconv.FormatInt(r.ItemsSynced, 10), formatAge(r.UpdatedAt)})
	}

	printTable(cc.Out, []string{"RESOURCE", "STATE", "ITEMS", "LAST SYNC"}, table)

	return nil
}
