package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/office365-go/internal/graph"
)

// defaultMessagesWindow is how far back `messages` looks without --since.
const defaultMessagesWindow = 7 * 24 * time.Hour

const subjectWidth = 60

func newMessagesCmd() *cobra.Command {
	var since, until string

	cmd := &cobra.Command{
		Use:   "messages",
		Short: "List messages created in a time window across all folders",
		Long: `List non-draft messages created between --since and --until, oldest first.
Times are RFC 3339, a date (2024-01-31), or a duration relative to now (-48h).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMessages(cmd, since, until)
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "start of the window (default 7 days ago)")
	cmd.Flags().StringVar(&until, "until", "", "end of the window (default now)")

	return cmd
}

// messageRow is the JSON schema for one `messages --json` entry.
type messageRow struct {
	ID       string     `json:"id"`
	Subject  string     `json:"subject"`
	From     string     `json:"from"`
	Created  *time.Time `json:"created,omitempty"`
	Received *time.Time `json:"received,omitempty"`
}

func runMessages(cmd *cobra.Command, since, until string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	now := time.Now()

	start, end, err := timeWindow("since", since, "until", until, now, now.Add(-defaultMessagesWindow), now)
	if err != nil {
		return err
	}

	s, err := newSession(ctx, cc, false)
	if err != nil {
		return err
	}
	defer s.Close()

	filter := graph.AllMessagesFilter(start, end)

	res, err := s.Scope.ListMessages(ctx, &filter)
	if err != nil {
		return fmt.Errorf("listing messages: %w", err)
	}

	msgs, err := graph.DecodeItems[graph.Message](res.Items)
	if err != nil {
		return err
	}

	rows := make([]messageRow, 0, len(msgs))
	for i := range msgs {
		rows = append(rows, messageRow{
			ID:       msgs[i].ID,
			Subject:  msgs[i].Subject,
			From:     senderOf(&msgs[i]),
			Created:  msgs[i].CreatedDateTime,
			Received: msgs[i].ReceivedDateTime,
		})
	}

	if cc.JSON {
		return printJSON(cc.Out, rows)
	}

	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		table = append(table, []string{formatTime(r.Created), r.From, truncate(r.Subject, subjectWidth)})
	}

	printTable(cc.Out, []string{"CREATED", "FROM", "SUBJECT"}, table)
	cc.Statusf("%d messages in %d pages\n", len(rows), res.Pages)

	return nil
}

func senderOf(m *graph.Message) string {
	if m.From == nil {
		return "-"
	}

	if m.From.EmailAddress.Address != "" {
		return m.From.EmailAddress.Address
	}

	return m.From.EmailAddress.Name
}
