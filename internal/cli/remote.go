package cli

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/0x6d61/shieldctl/internal/report"
	"github.com/0x6d61/shieldctl/internal/service"
	"github.com/0x6d61/shieldctl/internal/session"
)

func newStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Ask the service to stop a running scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.newClient(nil)
			if err != nil {
				return err
			}
			id := service.SessionID(args[0])
			resp, err := client.Stop(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to stop scan %s: %w", id, err)
			}
			msg := resp.Message
			if msg == "" {
				msg = "stop requested"
			}
			fmt.Fprintf(a.out, "[*] Stopping scan %s: %s\n", id, msg)
			return nil
		},
	}
}

func newReportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <session-id>",
		Short: "Download the report of a completed scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(a, cmd, service.SessionID(args[0]))
		},
	}
	cmd.Flags().StringSliceP("format", "f", []string{report.DefaultFormat}, "Report formats (txt, html, json)")
	cmd.Flags().StringP("output-dir", "o", ".", "Directory reports are written to")
	cmd.Flags().Bool("stdout", false, "Write a single report to stdout instead of a file")
	return cmd
}

func runReport(a *app, cmd *cobra.Command, id service.SessionID) error {
	formats, _ := cmd.Flags().GetStringSlice("format")
	outputDir, _ := cmd.Flags().GetString("output-dir")
	toStdout, _ := cmd.Flags().GetBool("stdout")
	ctx := cmd.Context()

	for _, f := range formats {
		if !report.ValidFormat(f) {
			return fmt.Errorf("unsupported report format %q", f)
		}
	}
	if toStdout && len(formats) != 1 {
		return fmt.Errorf("--stdout takes exactly one format")
	}

	client, err := a.newClient(nil)
	if err != nil {
		return err
	}

	// Ask for the status only: a cursor past the end returns no lines.
	res, err := client.Poll(ctx, id, math.MaxInt32)
	if err != nil {
		return fmt.Errorf("failed to get status of scan %s: %w", id, err)
	}
	sess := session.ScanSession{SessionID: id, Status: session.RemoteStatus(res.Status)}
	if sess.Status != session.StatusCompleted {
		return fmt.Errorf("scan %s is %s: %w", id, sess.Status, report.ErrReportUnavailable)
	}

	if entry := a.journaled(ctx, id); entry != nil {
		sess.ScanType = entry.ScanType
		sess.Target = entry.Target
	}

	if toStdout {
		_, err := report.NewRetriever(client, a.logger).Fetch(ctx, sess, formats[0], a.out)
		return err
	}
	return a.saveReports(ctx, client, sess, formats, outputDir)
}
