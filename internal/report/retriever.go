package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/0x6d61/shieldctl/internal/service"
	"github.com/0x6d61/shieldctl/internal/session"
)

// DefaultFormat is the report format requested when none is given.
const DefaultFormat = "txt"

// Formats lists the report formats the scan service produces.
var Formats = []string{"txt", "html", "json"}

var (
	// ErrReportUnavailable is returned for sessions that have not completed.
	ErrReportUnavailable = errors.New("report: scan has not completed")

	// ErrRetrievalInProgress is returned while the same report is already
	// being downloaded.
	ErrRetrievalInProgress = errors.New("report: retrieval already in progress")
)

// Fetcher opens a report artifact on the scan service.
type Fetcher interface {
	Report(ctx context.Context, id service.SessionID, format string) (*service.Report, error)
}

// Compile-time check that the HTTP client satisfies Fetcher.
var _ Fetcher = (*service.Client)(nil)

// Artifact describes a downloaded report.
type Artifact struct {
	SessionID   service.SessionID
	Format      string
	Filename    string
	ContentType string
	Path        string
	Size        int64
}

// Retriever downloads reports for completed sessions. It works out of band:
// it only reads the session it is given and never touches the controller.
type Retriever struct {
	fetcher Fetcher
	logger  *slog.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewRetriever creates a Retriever. A nil logger discards output.
func NewRetriever(f Fetcher, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Retriever{
		fetcher:  f,
		logger:   logger.With("component", "report"),
		inFlight: make(map[string]bool),
	}
}

// Fetch streams the report of sess in format to w.
func (r *Retriever) Fetch(ctx context.Context, sess session.ScanSession, format string, w io.Writer) (*Artifact, error) {
	format = normalizeFormat(format)
	if sess.Status != session.StatusCompleted || sess.SessionID == "" {
		return nil, ErrReportUnavailable
	}

	key := sess.SessionID.String() + "/" + format
	if !r.acquire(key) {
		return nil, ErrRetrievalInProgress
	}
	defer r.release(key)

	rep, err := r.fetcher.Report(ctx, sess.SessionID, format)
	if err != nil {
		return nil, fmt.Errorf("report: download %s report: %w", format, err)
	}
	defer rep.Body.Close()

	n, err := io.Copy(w, rep.Body)
	if err != nil {
		return nil, fmt.Errorf("report: read %s report: %w", format, err)
	}

	filename := rep.Filename
	if filename == "" {
		filename = fmt.Sprintf("%s_%s.%s", orDefault(sess.ScanType, "scan"), sess.SessionID, format)
	}
	return &Artifact{
		SessionID:   sess.SessionID,
		Format:      format,
		Filename:    filepath.Base(filename),
		ContentType: rep.ContentType,
		Size:        n,
	}, nil
}

// Save downloads the report of sess into dir, naming the file as the
// service suggests. A partial download never replaces an existing file.
func (r *Retriever) Save(ctx context.Context, sess session.ScanSession, format, dir string) (*Artifact, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".shieldctl-report-*")
	if err != nil {
		return nil, fmt.Errorf("report: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	art, err := r.Fetch(ctx, sess, format, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("report: close temp file: %w", cerr)
	}
	if err != nil {
		return nil, err
	}

	art.Path = filepath.Join(dir, art.Filename)
	if err := os.Rename(tmp.Name(), art.Path); err != nil {
		return nil, fmt.Errorf("report: move report into place: %w", err)
	}

	r.logger.Info("report saved",
		"session_id", art.SessionID,
		"format", art.Format,
		"path", art.Path,
		"size", humanize.Bytes(uint64(art.Size)),
	)
	return art, nil
}

// SaveAll downloads several formats concurrently, each format once. The
// first failure cancels the remaining downloads.
func (r *Retriever) SaveAll(ctx context.Context, sess session.ScanSession, formats []string, dir string) ([]*Artifact, error) {
	formats = uniqueFormats(formats)
	arts := make([]*Artifact, len(formats))
	g, ctx := errgroup.WithContext(ctx)
	for i, f := range formats {
		g.Go(func() error {
			art, err := r.Save(ctx, sess, f, dir)
			if err != nil {
				return err
			}
			arts[i] = art
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return arts, nil
}

func uniqueFormats(formats []string) []string {
	seen := make(map[string]bool, len(formats))
	out := make([]string, 0, len(formats))
	for _, f := range formats {
		f = normalizeFormat(f)
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// ValidFormat reports whether the service produces reports in format.
func ValidFormat(format string) bool {
	format = normalizeFormat(format)
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

func (r *Retriever) acquire(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight[key] {
		return false
	}
	r.inFlight[key] = true
	return true
}

func (r *Retriever) release(key string) {
	r.mu.Lock()
	delete(r.inFlight, key)
	r.mu.Unlock()
}

func normalizeFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		return DefaultFormat
	}
	return format
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
