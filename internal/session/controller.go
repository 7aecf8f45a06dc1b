// Package session drives a single remote scan: it starts the scan, polls its
// output on a fixed interval, renders what arrives and reacts to the
// terminal status the service reports.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"k8s.io/utils/clock"

	"github.com/0x6d61/shieldctl/internal/classify"
	"github.com/0x6d61/shieldctl/internal/progress"
	"github.com/0x6d61/shieldctl/internal/service"
)

// Service is the remote scan API the controller drives.
type Service interface {
	Start(ctx context.Context, req service.StartRequest) (*service.StartResponse, error)
	Poll(ctx context.Context, id service.SessionID, cursor int) (*service.PollResult, error)
	Stop(ctx context.Context, id service.SessionID) (*service.StopResponse, error)
}

// Compile-time check that the HTTP client satisfies Service.
var _ Service = (*service.Client)(nil)

// ScanSession is a point-in-time copy of the controller's session.
type ScanSession struct {
	SessionID  service.SessionID
	ScanType   string
	ScanOption string
	Target     string
	Status     Status

	// Cursor is the number of output lines consumed so far.
	Cursor int

	// Progress is a cosmetic estimate in [0, 100].
	Progress float64

	// Polling is true while a poll ticker is live.
	Polling bool

	// Halted is set when the service rejected a poll and polling stopped
	// without a terminal status.
	Halted bool
}

// StartInput describes the scan to launch.
type StartInput struct {
	ScanType   string `validate:"required"`
	ScanOption string
	Target     string `validate:"required"`
}

// AttachInput describes an already running remote scan to follow.
type AttachInput struct {
	SessionID  service.SessionID
	ScanType   string
	ScanOption string
	Target     string
	Cursor     int
	Progress   float64
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the clock that drives the poll ticker.
func WithClock(clk clock.WithTicker) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithInterval sets the poll interval. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithPollPolicy sets what a tick does while a poll is still in flight.
func WithPollPolicy(p PollPolicy) Option {
	return func(c *Controller) { c.policy = p }
}

// WithPollObserver registers a callback for every poll tick outcome.
func WithPollObserver(o PollObserver) Option {
	return func(c *Controller) { c.observer = o }
}

// WithLogger sets the logger for debug and failure output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller owns one scan session at a time. All state changes and all
// renderer calls happen under a single mutex, so renderers observe a total
// order. Remote calls run without the lock and are matched back to their
// session by generation.
type Controller struct {
	svc      Service
	renderer Renderer
	clock    clock.WithTicker
	interval time.Duration
	policy   PollPolicy
	observer PollObserver
	logger   *slog.Logger
	validate *validator.Validate

	mu       sync.Mutex
	sess     ScanSession
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	poller   *poller
	done     chan struct{}
	stopping bool
}

// New creates an idle controller. A nil renderer discards all events.
func New(svc Service, r Renderer, opts ...Option) *Controller {
	if r == nil {
		r = RendererFunc(func(Event) {})
	}
	c := &Controller{
		svc:      svc,
		renderer: r,
		clock:    clock.RealClock{},
		interval: DefaultInterval,
		policy:   PollSkip,
		logger:   slog.Default(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		sess:     ScanSession{Status: StatusIdle},
		ctx:      context.Background(),
		done:     make(chan struct{}),
	}
	close(c.done)
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "session")
	return c
}

// Snapshot returns a copy of the current session.
func (c *Controller) Snapshot() ScanSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Done returns a channel closed once the current session settles: it reached
// a terminal status, failed to start, halted or was reset. With no session
// the channel is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Wait blocks until the current session settles or ctx is done.
func (c *Controller) Wait(ctx context.Context) (ScanSession, error) {
	select {
	case <-c.Done():
		return c.Snapshot(), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

// Start validates in, tears down any previous session and asks the service
// to launch a new scan. On success the session is running and polled until
// the service reports a terminal status.
//
// A start that is overtaken by a newer Start, Attach or Reset returns
// ErrStaleResponse and renders nothing.
func (c *Controller) Start(ctx context.Context, in StartInput) error {
	in.ScanType = strings.TrimSpace(in.ScanType)
	in.ScanOption = strings.TrimSpace(in.ScanOption)
	in.Target = strings.TrimSpace(in.Target)

	if err := c.validateStart(in); err != nil {
		c.mu.Lock()
		c.emitMessage(TreatmentError, err.Error(), err)
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.resetLocked()
	sessCtx, gen := c.beginLocked()
	c.sess.ScanType = in.ScanType
	c.sess.ScanOption = in.ScanOption
	c.sess.Target = in.Target
	c.setStatusLocked(StatusStarting)
	c.emitMessage(TreatmentInfo, "Initializing scan...", nil)
	c.mu.Unlock()

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(sessCtx, cancel)()

	resp, err := c.svc.Start(reqCtx, service.StartRequest{
		ScanType:   in.ScanType,
		Target:     in.Target,
		ScanOption: in.ScanOption,
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		c.logger.Debug("discarding stale start response", "target", in.Target, "error", err)
		return ErrStaleResponse
	}
	if err != nil {
		c.logger.Warn("scan start failed", "target", in.Target, "error", err)
		c.emitMessage(TreatmentError, describe("Failed to start scan", err), err)
		c.resetLocked()
		return err
	}

	c.sess.SessionID = resp.SessionID
	c.sess.Cursor = 0
	c.sess.Progress = 0
	c.setStatusLocked(StatusRunning)
	if resp.Message != "" {
		c.emitMessage(TreatmentSuccess, resp.Message, nil)
	}
	c.startPollerLocked(sessCtx, gen)

	c.logger.Info("scan started",
		"session_id", resp.SessionID,
		"scan_type", in.ScanType,
		"target", in.Target,
	)
	return nil
}

// Attach follows a scan that is already running on the service, resuming
// from in.Cursor. No start request is sent.
func (c *Controller) Attach(in AttachInput) error {
	if strings.TrimSpace(in.SessionID.String()) == "" {
		err := newValidationError("SessionID", "A session id is required to attach")
		c.mu.Lock()
		c.emitMessage(TreatmentError, err.Error(), err)
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()
	sessCtx, gen := c.beginLocked()
	c.sess.SessionID = in.SessionID
	c.sess.ScanType = in.ScanType
	c.sess.ScanOption = in.ScanOption
	c.sess.Target = in.Target
	c.setStatusLocked(StatusStarting)

	c.sess.Cursor = max(in.Cursor, 0)
	c.sess.Progress = min(progress.Clamp(in.Progress), progress.Ceiling)
	c.setStatusLocked(StatusRunning)
	c.emitMessage(TreatmentInfo, fmt.Sprintf("Attached to scan %s at line %d", in.SessionID, c.sess.Cursor), nil)
	c.startPollerLocked(sessCtx, gen)

	c.logger.Info("attached to scan", "session_id", in.SessionID, "cursor", c.sess.Cursor)
	return nil
}

// Stop asks the service to cancel the running scan. It does nothing unless
// a session is running and still polled, and never changes the status itself: the stopped
// status arrives through a later poll. Calling it while a stop request is
// already in flight is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.sess.Status != StatusRunning || !c.sess.Polling || c.sess.SessionID == "" || c.stopping {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	id, gen, sessCtx := c.sess.SessionID, c.gen, c.ctx
	c.mu.Unlock()

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(sessCtx, cancel)()

	_, err := c.svc.Stop(reqCtx, id)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		c.logger.Debug("discarding stale stop response", "session_id", id, "error", err)
		return ErrStaleResponse
	}
	c.stopping = false
	if err != nil {
		c.logger.Warn("scan stop failed", "session_id", id, "error", err)
		c.emitMessage(TreatmentError, describe("Failed to stop scan", err), err)
		return err
	}
	// The stopped status may already have arrived through a poll.
	if c.sess.Status == StatusRunning && c.sess.Polling {
		c.emitMessage(TreatmentInfo, "Stopping scan...", nil)
	}
	return nil
}

// Reset abandons the current session locally. The poll ticker has stopped
// by the time Reset returns, and any response still in flight is discarded.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Controller) validateStart(in StartInput) error {
	err := c.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return newValidationError("", "invalid scan request: %v", err)
	}
	// Target is reported first, as it is the field users most often leave empty.
	for _, fe := range verrs {
		if fe.Field() == "Target" {
			return newValidationError("Target", "Please enter a target URL or IP address")
		}
	}
	return newValidationError(verrs[0].Field(), "Please select a scan type")
}

// pollOnce runs on its own goroutine for every dispatched tick.
func (c *Controller) pollOnce(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.sess.Status != StatusRunning || !c.sess.Polling {
		c.mu.Unlock()
		c.observe(PollStale)
		return
	}
	id, cursor := c.sess.SessionID, c.sess.Cursor
	c.mu.Unlock()

	res, err := c.svc.Poll(ctx, id, cursor)
	c.observe(c.applyPoll(gen, cursor, res, err))
}

func (c *Controller) applyPoll(gen uint64, from int, res *service.PollResult, err error) PollOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.sess.Status != StatusRunning || !c.sess.Polling {
		c.logger.Debug("discarding stale poll result", "cursor", from, "error", err)
		return PollStale
	}

	if err != nil {
		var svcErr *service.ServiceError
		if errors.As(err, &svcErr) {
			c.logger.Warn("poll rejected, polling halted", "session_id", c.sess.SessionID, "error", err)
			c.stopPollerLocked()
			c.sess.Halted = true
			c.emitMessage(TreatmentError, svcErr.Message, err)
			c.settleLocked()
			return PollServiceError
		}
		c.logger.Debug("poll failed, retrying on next tick", "session_id", c.sess.SessionID, "error", err)
		c.emitMessage(TreatmentError, describe("Error polling for updates", err), err)
		return PollTransportError
	}

	c.mergeLocked(from, res)

	if st := RemoteStatus(res.Status); st != StatusRunning {
		if res.Status != string(st) {
			c.logger.Warn("unknown scan status treated as failure", "status", res.Status)
		}
		c.finishLocked(st)
	}
	return PollOK
}

// mergeLocked renders the lines of res not yet consumed. A result issued
// from an older cursor may repeat lines an overlapping poll already
// delivered; those are dropped so the rendered output never duplicates.
func (c *Controller) mergeLocked(from int, res *service.PollResult) {
	lines := res.NewLines
	if skip := c.sess.Cursor - from; skip > 0 {
		lines = lines[min(skip, len(lines)):]
	}

	for _, cl := range classify.Lines(lines) {
		c.emit(Event{Kind: EventLine, Line: cl})
	}
	if res.LineCount > c.sess.Cursor {
		c.sess.Cursor = res.LineCount
	}
	if len(lines) > 0 {
		c.sess.Progress = progress.Next(c.sess.Progress)
		c.emit(Event{Kind: EventProgress})
	}
}

func (c *Controller) finishLocked(st Status) {
	if !c.setStatusLocked(st) {
		return
	}
	c.stopPollerLocked()
	c.sess.Progress = progress.Complete
	c.emit(Event{Kind: EventProgress})

	text, treatment, _ := TerminalMessage(st)
	c.emitMessage(treatment, text, nil)
	if st == StatusCompleted {
		c.emit(Event{Kind: EventReportReady})
	}
	c.settleLocked()

	c.logger.Info("scan finished", "session_id", c.sess.SessionID, "status", st, "lines", c.sess.Cursor)
}

func (c *Controller) beginLocked() (context.Context, uint64) {
	c.gen++
	ctx, cancel := context.WithCancel(context.Background())
	c.ctx, c.cancel = ctx, cancel
	c.done = make(chan struct{})
	return ctx, c.gen
}

func (c *Controller) resetLocked() {
	c.stopPollerLocked()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.ctx = context.Background()
	c.gen++
	c.stopping = false
	c.settleLocked()

	prev := c.sess.Status
	c.sess = ScanSession{Status: StatusIdle}
	if prev != StatusIdle {
		c.emit(Event{Kind: EventStatus, From: prev})
	}
}

func (c *Controller) startPollerLocked(ctx context.Context, gen uint64) {
	c.poller = newPoller(c.clock, c.interval, c.policy, c.observe, func(pctx context.Context) {
		c.pollOnce(pctx, gen)
	})
	c.poller.start(ctx)
	c.sess.Polling = true
}

// stopPollerLocked may run on a poll goroutine; the poller never takes the
// controller lock, so waiting for its loop here cannot deadlock.
func (c *Controller) stopPollerLocked() {
	if c.poller == nil {
		return
	}
	c.poller.stop()
	c.poller = nil
	c.sess.Polling = false
}

func (c *Controller) settleLocked() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *Controller) setStatusLocked(to Status) bool {
	from := c.sess.Status
	if err := from.ValidateTransition(to); err != nil {
		c.logger.Error("refusing status change", "error", err)
		return false
	}
	c.sess.Status = to
	c.emit(Event{Kind: EventStatus, From: from})
	return true
}

func (c *Controller) emit(e Event) {
	e.Session = c.sess
	c.renderer.Render(e)
}

func (c *Controller) emitMessage(t Treatment, msg string, err error) {
	c.emit(Event{Kind: EventMessage, Treatment: t, Message: msg, Err: err})
}

func (c *Controller) observe(o PollOutcome) {
	if o == PollSkipped {
		c.logger.Debug("poll tick skipped, previous poll still in flight")
	}
	if c.observer != nil {
		c.observer(o)
	}
}

// describe turns a remote call failure into a user-facing message. Service
// errors carry their own message; transport errors are prefixed with what
// was attempted.
func describe(what string, err error) string {
	var svcErr *service.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Message
	}
	var trErr *service.TransportError
	if errors.As(err, &trErr) {
		return fmt.Sprintf("%s: %v", what, trErr.Err)
	}
	return fmt.Sprintf("%s: %v", what, err)
}
