package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/animus-coder/codevet/internal/storage"
)

const dateLayout = "2006-01-02"

// NewHistoryCmd prints, filters, purges or clears the stored conversation.
func NewHistoryCmd(opts *Options) *cobra.Command {
	var limit, purgeDays int
	var since, until string
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or maintain the stored conversation history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, err := newLogger(opts, cfg)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			ctx := cmd.Context()
			store, err := storage.Open(ctx, cfg.Storage.Path, logger.Named("storage"))
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			switch {
			case clearAll:
				n, err := store.DeleteAll(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted %d messages.\n", n)
				return nil
			case purgeDays > 0:
				n, err := store.PurgeOlderThan(ctx, time.Duration(purgeDays)*24*time.Hour)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Purged %d messages older than %d days.\n", n, purgeDays)
				return nil
			}

			var msgs []storage.Message
			if since != "" || until != "" {
				start, end, err := dateRange(since, until)
				if err != nil {
					return err
				}
				msgs, err = store.LoadBetween(ctx, start, end)
				if err != nil {
					return err
				}
			} else {
				msgs, err = store.LoadRecentMessages(ctx, limit)
				if err != nil {
					return err
				}
			}

			if len(msgs) == 0 {
				fmt.Fprintln(out, "No messages.")
				return nil
			}
			for _, m := range msgs {
				fmt.Fprintf(out, "[%s] %s:\n%s\n\n", m.CreatedAt.Local().Format("2006-01-02 15:04:05"), m.Role, strings.TrimRight(m.Content, "\n"))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of most recent messages to show")
	cmd.Flags().StringVar(&since, "since", "", "Show messages from this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&until, "until", "", "Show messages up to the end of this date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&purgeDays, "purge", 0, "Delete messages older than this many days")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "Delete every stored message")
	return cmd
}

// dateRange parses inclusive local dates. A missing bound is open.
func dateRange(since, until string) (time.Time, time.Time, error) {
	start := time.Unix(0, 0)
	end := time.Now()
	if since != "" {
		t, err := time.ParseInLocation(dateLayout, since, time.Local)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --since: %w", err)
		}
		start = t
	}
	if until != "" {
		t, err := time.ParseInLocation(dateLayout, until, time.Local)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --until: %w", err)
		}
		end = t.Add(24*time.Hour - time.Millisecond)
	}
	return start, end, nil
}
