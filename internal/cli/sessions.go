package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/0x6d61/shieldctl/internal/journal"
	"github.com/0x6d61/shieldctl/internal/service"
)

var errNoJournal = errors.New("journaling is disabled (set --journal)")

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"ls"},
		Short:   "List journaled scan sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			return a.withJournal(func(store journal.Store) error {
				return listSessions(a, cmd.Context(), store, all)
			})
		},
	}
	cmd.Flags().Bool("all", false, "Include sessions on every server, not only the configured one")

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove journal entries not updated for a while",
		RunE: func(cmd *cobra.Command, args []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}
			return a.withJournal(func(store journal.Store) error {
				n, err := store.Cleanup(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "[*] Removed %d %s\n", n, plural(n, "session", "sessions"))
				return nil
			})
		},
	}
	prune.Flags().Duration("older-than", 7*24*time.Hour, "Remove entries older than this")

	rm := &cobra.Command{
		Use:   "rm <session-id>...",
		Short: "Remove journal entries of remote sessions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withJournal(func(store journal.Store) error {
				for _, id := range args {
					e, err := store.LoadBySession(cmd.Context(), a.cfg.Server, id)
					if err != nil {
						return err
					}
					if e == nil {
						return fmt.Errorf("no journaled session %s on %s", id, a.cfg.Server)
					}
					if err := store.Delete(cmd.Context(), e.ID); err != nil {
						return err
					}
					fmt.Fprintf(a.out, "[*] Removed session %s\n", id)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(prune, rm)
	return cmd
}

func (a *app) withJournal(fn func(journal.Store) error) error {
	store, err := a.openJournal()
	if err != nil {
		return err
	}
	if store == nil {
		return errNoJournal
	}
	defer store.Close()
	return fn(store)
}

// journaled returns the journal entry of id on the configured server, or
// nil if there is none or the journal is unavailable.
func (a *app) journaled(ctx context.Context, id service.SessionID) *journal.Entry {
	store, err := a.openJournal()
	if err != nil || store == nil {
		return nil
	}
	defer store.Close()
	e, err := store.LoadBySession(ctx, a.cfg.Server, id.String())
	if err != nil {
		a.logger.Warn("journal lookup failed", "session_id", id, "error", err)
		return nil
	}
	return e
}

func listSessions(a *app, ctx context.Context, store journal.Store, all bool) error {
	entries, err := store.List(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSCAN\tTARGET\tSTATUS\tLINES\tPROGRESS\tUPDATED")
	shown := 0
	for _, e := range entries {
		if !all && e.Server != a.cfg.Server {
			continue
		}
		scan := e.ScanType
		if e.ScanOption != "" {
			scan += "/" + e.ScanOption
		}
		status := e.Status
		if e.Halted {
			status += " (halted)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%.0f%%\t%s\n",
			e.SessionID, orDash(scan), orDash(e.Target), status, e.Cursor, e.Progress, humanize.Time(e.UpdatedAt))
		shown++
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if shown == 0 {
		fmt.Fprintln(a.out, "[*] No journaled sessions")
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
