package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/0x6d61/shieldctl/internal/report"
	"github.com/0x6d61/shieldctl/internal/session"
)

// scanTypes lists the scanners the service runs, with the options each
// accepts. The first option is the default.
var scanTypes = map[string][]string{
	"nmap":   {"open_ports", "version_detection"},
	"nikto":  nil,
	"wapiti": nil,
	"hidi":   nil,
}

func newScanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Start a scan and follow its output",
		Long: `Scan asks the scan service to launch a scan against the target and streams
its output until the scan completes, fails or is stopped.

Press Ctrl+C once to stop the scan on the service, twice to abandon it locally.`,
		Example: `  shieldctl scan --type nmap --option version_detection --target scanme.nmap.org
  shieldctl scan -t nikto -T http://testphp.vulnweb.com --report txt,html -o reports/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(a, cmd)
		},
	}

	cmd.Flags().StringP("type", "t", "", "Scan type (nmap, nikto, wapiti, hidi)")
	cmd.Flags().String("option", "", "Scan option (nmap: open_ports, version_detection)")
	cmd.Flags().StringP("target", "T", "", "Target URL or IP address")
	addOutputFlags(cmd)

	_ = cmd.RegisterFlagCompletionFunc("type", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"nmap", "nikto", "wapiti", "hidi"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = cmd.RegisterFlagCompletionFunc("option", func(cmd *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		t, _ := cmd.Flags().GetString("type")
		return scanTypes[t], cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

// addOutputFlags registers the flags shared by scan and attach.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("report", nil, "Download these report formats when the scan completes (txt, html, json)")
	cmd.Flags().StringP("output-dir", "o", ".", "Directory downloaded reports are written to")
	cmd.Flags().String("transcript", "", "Write the rendered session to this file")
	cmd.Flags().String("transcript-format", "text", "Transcript format (text, json, yaml)")
}

func runScan(a *app, cmd *cobra.Command) error {
	scanType, _ := cmd.Flags().GetString("type")
	option, _ := cmd.Flags().GetString("option")
	target, _ := cmd.Flags().GetString("target")

	scanType = strings.ToLower(strings.TrimSpace(scanType))
	option = strings.TrimSpace(option)
	if opts, known := scanTypes[scanType]; known {
		switch {
		case len(opts) > 0 && option == "":
			option = opts[0]
		case len(opts) == 0 && option != "":
			return fmt.Errorf("scan type %q takes no --option", scanType)
		}
	}

	ro, err := outputOptions(cmd)
	if err != nil {
		return err
	}
	ro.start = &session.StartInput{
		ScanType:   scanType,
		ScanOption: option,
		Target:     target,
	}
	return a.runSession(cmd.Context(), ro)
}

// outputOptions reads and checks the shared output flags.
func outputOptions(cmd *cobra.Command) (runOptions, error) {
	formats, _ := cmd.Flags().GetStringSlice("report")
	outputDir, _ := cmd.Flags().GetString("output-dir")
	transcript, _ := cmd.Flags().GetString("transcript")
	transcriptFormat, _ := cmd.Flags().GetString("transcript-format")

	var reports []string
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			f = report.DefaultFormat
		}
		if !report.ValidFormat(f) {
			return runOptions{}, fmt.Errorf("unsupported report format %q (want %s)", f, strings.Join(report.Formats, ", "))
		}
		if !slices.Contains(reports, f) {
			reports = append(reports, f)
		}
	}
	if transcript != "" {
		if _, err := report.New(transcriptFormat); err != nil {
			return runOptions{}, err
		}
	}

	return runOptions{
		reports:          reports,
		outputDir:        outputDir,
		transcript:       transcript,
		transcriptFormat: transcriptFormat,
	}, nil
}
