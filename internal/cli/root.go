package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/0x6d61/shieldctl/internal/config"
)

// Version information (set by build flags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// errReported marks an error whose message has already been shown to the
// user by the renderer.
var errReported = errors.New("already reported")

type reportedError struct{ err error }

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }
func (e *reportedError) Is(target error) bool {
	return target == errReported
}

func reported(err error) error {
	if err == nil {
		return nil
	}
	return &reportedError{err: err}
}

// Reported reports whether err has already been printed and only needs to
// turn into a non-zero exit status.
func Reported(err error) bool {
	return errors.Is(err, errReported)
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	out    io.Writer
	errOut io.Writer
	cfg    *config.Config
	logger *slog.Logger

	// notify subscribes to interrupts; tests replace it.
	notify func(c chan<- os.Signal)
	stop   func(c chan<- os.Signal)
}

func newApp(out, errOut io.Writer) *app {
	return &app{
		out:    out,
		errOut: errOut,
		logger: slog.New(slog.DiscardHandler),
		notify: func(c chan<- os.Signal) { signal.Notify(c, os.Interrupt, syscall.SIGTERM) },
		stop:   func(c chan<- os.Signal) { signal.Stop(c) },
	}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shieldctl",
		Short: "Drive remote security scans from the terminal",
		Long: `shieldctl - Drive remote security scans from the terminal

Starts nmap, nikto, wapiti and directory-discovery scans on a scan service,
streams their output with severity highlighting, and downloads the reports.

WARNING: Scan only systems you have explicit permission to test.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	cmd.SetOut(a.out)
	cmd.SetErr(a.errOut)

	cmd.PersistentFlags().String("config", "", "Config file (default $HOME/.shieldctl.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newVersionCmd(a),
		newScanCmd(a),
		newAttachCmd(a),
		newStopCmd(a),
		newReportCmd(a),
		newSessionsCmd(a),
	)
	return cmd
}

// load resolves the configuration and the logger for the invoked command.
func (a *app) load(cmd *cobra.Command) error {
	file, _ := cmd.Flags().GetString("config")
	explicit := file != ""
	if !explicit {
		file = config.DefaultFile()
	}

	cfg, err := config.Load(cmd.Flags(), file, explicit)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(a.errOut, cfg.Verbose)
	return nil
}

// newLogger maps the verbosity level onto slog levels: 0 errors only,
// 1 warnings, 2 info, 3 debug.
func newLogger(w io.Writer, verbose int) *slog.Logger {
	logLevel := slog.LevelError
	switch {
	case verbose >= 3:
		logLevel = slog.LevelDebug
	case verbose >= 2:
		logLevel = slog.LevelInfo
	case verbose >= 1:
		logLevel = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// Execute runs the command line.
func Execute() error {
	return newRootCmd(newApp(os.Stdout, os.Stderr)).Execute()
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "shieldctl %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
