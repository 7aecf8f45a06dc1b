package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/0x6d61/shieldctl/internal/journal"
	"github.com/0x6d61/shieldctl/internal/service"
	"github.com/0x6d61/shieldctl/internal/session"
)

func newAttachCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach [session-id]",
		Short: "Follow a scan that is already running on the service",
		Long: `Attach resumes polling a remote scan. Output continues from the last line
recorded in the session journal; --replay starts again from the first line.

Without a session id, the most recently journaled unfinished session on the
configured server is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttach(a, cmd, args)
		},
	}
	cmd.Flags().Bool("replay", false, "Replay the scan output from the first line")
	addOutputFlags(cmd)
	return cmd
}

func runAttach(a *app, cmd *cobra.Command, args []string) error {
	replay, _ := cmd.Flags().GetBool("replay")
	ctx := cmd.Context()

	var id string
	if len(args) > 0 {
		id = args[0]
	}

	in := session.AttachInput{SessionID: service.SessionID(id)}

	store, err := a.openJournal()
	if err != nil {
		return err
	}
	if store != nil {
		entry, err := resumable(cmd, store, a.cfg.Server, id)
		// The journal is only a hint; a broken one must not block attaching.
		if err != nil {
			a.logger.Warn("journal lookup failed", "error", err)
		}
		if entry != nil {
			in = session.AttachInput{
				SessionID:  service.SessionID(entry.SessionID),
				ScanType:   entry.ScanType,
				ScanOption: entry.ScanOption,
				Target:     entry.Target,
				Cursor:     entry.Cursor,
				Progress:   entry.Progress,
			}
		}
		store.Close()
	}
	if in.SessionID == "" {
		return errors.New("no session to attach to (pass a session id)")
	}
	if replay {
		in.Cursor = 0
		in.Progress = 0
	}

	ro, err := outputOptions(cmd)
	if err != nil {
		return err
	}
	ro.attach = &in
	return a.runSession(ctx, ro)
}

// resumable finds the journal entry for id, or the newest unfinished entry
// on server when id is empty.
func resumable(cmd *cobra.Command, store journal.Store, server, id string) (*journal.Entry, error) {
	ctx := cmd.Context()
	if id != "" {
		return store.LoadBySession(ctx, server, id)
	}

	entries, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	for _, e := range entries {
		if e.Server == server && !session.Status(e.Status).IsTerminal() && !e.Halted {
			return e, nil
		}
	}
	return nil, nil
}
