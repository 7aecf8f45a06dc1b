package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"k8s.io/utils/clock"

	"github.com/0x6d61/shieldctl/internal/journal"
	"github.com/0x6d61/shieldctl/internal/metrics"
	"github.com/0x6d61/shieldctl/internal/render"
	"github.com/0x6d61/shieldctl/internal/report"
	"github.com/0x6d61/shieldctl/internal/service"
	"github.com/0x6d61/shieldctl/internal/session"
	"github.com/0x6d61/shieldctl/internal/telemetry"
	"github.com/0x6d61/shieldctl/internal/transport"
)

const serviceTracer = "github.com/0x6d61/shieldctl/internal/service"

var errAbandoned = errors.New("session abandoned")

// runOptions selects how a session begins and what is written once it
// settles. Exactly one of start and attach is set.
type runOptions struct {
	start  *session.StartInput
	attach *session.AttachInput

	reports   []string
	outputDir string

	transcript       string
	transcriptFormat string
}

// newClient builds the scan service client from the loaded configuration.
func (a *app) newClient(tp *telemetry.Provider) (*service.Client, error) {
	hc, err := transport.NewClient(transport.ClientOptions{
		Timeout:            a.cfg.Timeout,
		ProxyURL:           a.cfg.Proxy,
		InsecureSkipVerify: a.cfg.Insecure,
		UserAgent:          "shieldctl/" + version,
		MaxRPS:             a.cfg.MaxRPS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	opts := []service.Option{service.WithLogger(a.logger)}
	if tp != nil {
		opts = append(opts, service.WithTracer(tp.Tracer(serviceTracer)))
	}
	return service.New(a.cfg.Server, hc, opts...)
}

// openJournal opens the session journal, or returns nil when journaling is
// disabled.
func (a *app) openJournal() (journal.Store, error) {
	if a.cfg.Journal == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(a.cfg.Journal), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	s, err := journal.NewSQLiteStore(a.cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %q: %w", a.cfg.Journal, err)
	}
	return s, nil
}

// terminal renders to stdout. The progress bar is drawn only when stderr is
// an interactive terminal.
func (a *app) terminal() *render.Terminal {
	opts := []render.Option{render.WithNoColor(a.cfg.NoColor)}
	if f, ok := a.errOut.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		opts = append(opts, render.WithProgress(f))
	}
	return render.NewTerminal(a.out, opts...)
}

// runSession drives one session from start (or attach) until it settles,
// then downloads reports and writes the transcript.
//
// The first interrupt asks the service to stop the scan and keeps polling
// until the stopped status arrives. A second interrupt abandons the session
// locally.
func (a *app) runSession(ctx context.Context, opts runOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tp, err := telemetry.Setup(ctx, telemetry.Options{
		Endpoint:       a.cfg.OTLPEndpoint,
		Insecure:       a.cfg.OTLPInsecure,
		ServiceVersion: version,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			a.logger.Warn("trace export failed", "error", err)
		}
	}()

	client, err := a.newClient(tp)
	if err != nil {
		return err
	}

	policy, err := session.ParsePollPolicy(a.cfg.PollPolicy)
	if err != nil {
		return err
	}
	ctrlOpts := []session.Option{
		session.WithInterval(a.cfg.Interval),
		session.WithPollPolicy(policy),
		session.WithLogger(a.logger),
	}

	renderers := session.MultiRenderer{a.terminal()}

	store, err := a.openJournal()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		renderers = append(renderers, journal.NewRecorder(store, a.cfg.Server, a.logger))
	}

	if a.cfg.MetricsAddr != "" {
		coll := metrics.New()
		if _, _, err := coll.Serve(ctx, a.cfg.MetricsAddr, a.logger); err != nil {
			return err
		}
		renderers = append(renderers, coll)
		ctrlOpts = append(ctrlOpts, session.WithPollObserver(coll.Observe))
	}

	var transcript *report.TranscriptRecorder
	if opts.transcript != "" {
		transcript = report.NewTranscriptRecorder(clock.RealClock{})
		renderers = append(renderers, transcript)
	}

	ctrl := session.New(client, renderers, ctrlOpts...)

	switch {
	case opts.start != nil:
		err = ctrl.Start(ctx, *opts.start)
	case opts.attach != nil:
		err = ctrl.Attach(*opts.attach)
	default:
		err = errors.New("nothing to run")
	}
	if err != nil {
		a.writeTranscript(ctx, transcript, opts)
		return reported(err)
	}

	final, err := a.wait(ctx, ctrl)
	a.writeTranscript(ctx, transcript, opts)
	if stats := client.Stats(); stats != nil {
		a.logger.Info("session finished",
			"session_id", final.SessionID,
			"status", final.Status,
			"requests", stats.TotalRequests,
			"failed_requests", stats.FailedRequests,
			"avg_duration", stats.AvgDuration,
		)
	}
	if err != nil {
		return err
	}

	switch {
	case final.Halted:
		return reported(fmt.Errorf("polling of session %s halted", final.SessionID))
	case final.Status == session.StatusFailed:
		return reported(fmt.Errorf("scan %s failed", final.SessionID))
	case final.Status == session.StatusCompleted && len(opts.reports) > 0:
		return a.saveReports(ctx, client, final, opts.reports, opts.outputDir)
	}
	return nil
}

// wait blocks until the session settles, handling interrupts on the way.
func (a *app) wait(ctx context.Context, ctrl *session.Controller) (session.ScanSession, error) {
	sigc := make(chan os.Signal, 2)
	a.notify(sigc)
	defer a.stop(sigc)

	interrupts := 0
	for {
		select {
		case <-ctrl.Done():
			return ctrl.Snapshot(), nil
		case <-ctx.Done():
			ctrl.Reset()
			return ctrl.Snapshot(), ctx.Err()
		case <-sigc:
			interrupts++
			if interrupts == 1 {
				fmt.Fprintln(a.errOut, "[!] Stop requested. Press Ctrl+C again to abandon the session.")
				go func() { _ = ctrl.Stop(ctx) }()
				continue
			}
			last := ctrl.Snapshot()
			ctrl.Reset()
			if last.SessionID != "" {
				fmt.Fprintf(a.errOut, "[!] Session %s abandoned; it may still be running. Resume with: shieldctl attach %s\n",
					last.SessionID, last.SessionID)
			}
			return last, reported(errAbandoned)
		}
	}
}

func (a *app) saveReports(ctx context.Context, client *service.Client, sess session.ScanSession, formats []string, dir string) error {
	arts, err := report.NewRetriever(client, a.logger).SaveAll(ctx, sess, formats, dir)
	if err != nil {
		return fmt.Errorf("failed to download report: %w", err)
	}
	for _, art := range arts {
		fmt.Fprintf(a.out, "[+] Report saved: %s (%s)\n", art.Path, humanize.Bytes(uint64(art.Size)))
	}
	return nil
}

// writeTranscript writes what the session rendered. Failures are logged:
// the session outcome matters more than its transcript.
func (a *app) writeTranscript(ctx context.Context, rec *report.TranscriptRecorder, opts runOptions) {
	if rec == nil {
		return
	}
	if err := writeTranscriptFile(context.WithoutCancel(ctx), rec.Transcript(), opts.transcriptFormat, opts.transcript); err != nil {
		a.logger.Error("failed to write transcript", "path", opts.transcript, "error", err)
		fmt.Fprintf(a.errOut, "[!] Failed to write transcript: %v\n", err)
		return
	}
	a.logger.Info("transcript written", "path", opts.transcript)
}

func writeTranscriptFile(ctx context.Context, t *report.Transcript, format, path string) error {
	reporter, err := report.New(format)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create transcript file %q: %w", path, err)
	}
	if err := reporter.Generate(ctx, t, f); err != nil {
		f.Close()
		return fmt.Errorf("failed to generate transcript: %w", err)
	}
	return f.Close()
}
