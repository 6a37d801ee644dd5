package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"contentflow/internal/platform/metrics"

	"github.com/google/uuid"
)

// DefaultStallTimeout is how long a session may go without progress before
// it is failed with a timeout.
const DefaultStallTimeout = 2 * time.Minute

// ErrCoordinatorClosed is returned by Submit after Shutdown has started.
var ErrCoordinatorClosed = errors.New("upload coordinator is shut down")

// Config holds the coordinator's tunables.
type Config struct {
	Kinds        KindTable
	SpoolDir     string
	StallTimeout time.Duration
}

// Deps are the coordinator's collaborators. Processor, Metrics and Logger
// are optional.
type Deps struct {
	Store     SessionStore
	Storage   Storage
	Sink      ItemSink
	Processor *Processor
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Coordinator drives upload sessions from validation to completion.
//
// Submit validates synchronously and spools the body to disk; the transfer
// to storage, processing and the final append to the ordered collection run
// in a background task per session. Every step is written to the session
// store, which is the only channel through which clients observe progress.
type Coordinator struct {
	store   SessionStore
	storage Storage
	sink    ItemSink
	proc    *Processor
	metrics *metrics.Metrics
	log     *slog.Logger

	kinds    KindTable
	spoolDir string
	stall    time.Duration

	now   func() time.Time
	newID func() SessionID

	base context.Context
	stop context.CancelCauseFunc

	mu     sync.Mutex
	tasks  map[SessionID]*task
	closed bool
	wg     sync.WaitGroup
}

// task is the handle on one running background task.
type task struct {
	cancel   context.CancelCauseFunc
	watchdog *time.Timer
	stall    time.Duration

	// mu orders Cancel against the final commit: once committing is set the
	// item has been handed to the sink and cancelling is no longer possible.
	mu         sync.Mutex
	committing bool
}

func (t *task) touch() {
	t.watchdog.Reset(t.stall)
}

// NewCoordinator wires a coordinator. Store, Storage and Sink are required.
func NewCoordinator(d Deps, cfg Config) (*Coordinator, error) {
	if d.Store == nil || d.Storage == nil || d.Sink == nil {
		return nil, errors.New("upload coordinator needs a session store, storage and item sink")
	}
	if d.Processor == nil {
		d.Processor = NewProcessor()
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Kinds == nil {
		cfg.Kinds = DefaultKinds()
	}
	for _, k := range cfg.Kinds {
		if _, err := d.Processor.Resolve(k); err != nil {
			return nil, err
		}
	}
	if cfg.SpoolDir == "" {
		cfg.SpoolDir = os.TempDir()
	}
	if err := os.MkdirAll(cfg.SpoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = DefaultStallTimeout
	}

	base, stop := context.WithCancelCause(context.Background())
	return &Coordinator{
		store:    d.Store,
		storage:  d.Storage,
		sink:     d.Sink,
		proc:     d.Processor,
		metrics:  d.Metrics,
		log:      d.Logger,
		kinds:    cfg.Kinds,
		spoolDir: cfg.SpoolDir,
		stall:    cfg.StallTimeout,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() SessionID { return SessionID(uuid.NewString()) },
		base:     base,
		stop:     stop,
		tasks:    make(map[SessionID]*task),
	}, nil
}

// Submit registers a new session and starts it. Validation failures are
// returned immediately together with the session id; the session is then
// already in the error stage. Anything that fails later is only visible
// through GetProgress.
func (c *Coordinator) Submit(ctx context.Context, req Request) (SessionID, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return "", ErrCoordinatorClosed
	}

	now := c.now()
	sess := Session{
		ID:         c.newID(),
		Kind:       req.Kind,
		ScopeID:    req.ScopeID,
		FileName:   req.FileName,
		Stage:      StageValidating,
		Message:    "validating",
		TotalBytes: req.Size,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.store.Put(ctx, sess); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	c.metrics.IncUploadsSubmitted()

	log := c.log.With(slog.String("session_id", string(sess.ID)), slog.String("kind", string(req.Kind)))

	kind, verr := c.validate(req)
	if verr != nil {
		c.reject(ctx, sess.ID, verr, log)
		return sess.ID, verr
	}

	spool, size, err := c.spool(ctx, req.Body, kind)
	if err != nil {
		var uerr *Error
		if !errors.As(err, &uerr) {
			uerr = newError(CodeTransfer, err.Error())
		}
		c.reject(ctx, sess.ID, uerr, log)
		return sess.ID, uerr
	}
	if req.Size > 0 && size != req.Size {
		os.Remove(spool)
		verr := newError(CodeValidation, fmt.Sprintf("declared size %d does not match received %d bytes", req.Size, size))
		c.reject(ctx, sess.ID, verr, log)
		return sess.ID, verr
	}

	sess, err = c.store.Update(ctx, sess.ID, func(s *Session) error {
		s.TotalBytes = size
		s.Message = "queued"
		s.UpdatedAt = c.now()
		return nil
	})
	if err != nil {
		os.Remove(spool)
		return "", fmt.Errorf("record upload size: %w", err)
	}

	if err := c.start(sess, kind, req.Title, spool); err != nil {
		os.Remove(spool)
		return "", err
	}
	log.Info("upload accepted", slog.String("file", req.FileName), slog.Int64("bytes", size))
	return sess.ID, nil
}

func (c *Coordinator) validate(req Request) (Kind, *Error) {
	kind, ok := c.kinds.Lookup(req.Kind)
	switch {
	case !ok:
		return Kind{}, newError(CodeValidation, fmt.Sprintf("unknown content kind %q", req.Kind))
	case strings.TrimSpace(req.ScopeID) == "":
		return Kind{}, newError(CodeValidation, "scope id is required")
	case !validScopeID(req.ScopeID):
		return Kind{}, newError(CodeValidation, fmt.Sprintf("scope id %q must not contain path separators or \"..\"", req.ScopeID))
	case strings.TrimSpace(req.FileName) == "":
		return Kind{}, newError(CodeValidation, "file name is required")
	case !kind.Allows(req.FileName):
		return Kind{}, newError(CodeValidation, fmt.Sprintf("file type %q is not allowed for %s; allowed: %s",
			filepath.Ext(req.FileName), kind.Name, strings.Join(kind.Extensions, ", ")))
	case req.Size > kind.MaxBytes:
		return Kind{}, tooLarge(kind)
	case req.Body == nil:
		return Kind{}, newError(CodeValidation, "file content is required")
	}
	return kind, nil
}

// validScopeID reports whether id can be used as a single object key segment.
func validScopeID(id string) bool {
	return !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}

func tooLarge(k Kind) *Error {
	limit := fmt.Sprintf("%d bytes", k.MaxBytes)
	if k.MaxBytes%mib == 0 {
		limit = fmt.Sprintf("%d MiB", k.MaxBytes/mib)
	}
	return newError(CodeValidation, fmt.Sprintf("file exceeds the %s limit for %s", limit, k.Name))
}

// spool copies body to a temp file, reading at most one byte past the
// kind's ceiling so oversized bodies are caught without buffering them.
func (c *Coordinator) spool(ctx context.Context, body io.Reader, k Kind) (string, int64, error) {
	f, err := os.CreateTemp(c.spoolDir, "upload-*.part")
	if err != nil {
		return "", 0, fmt.Errorf("create spool file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(&ctxReader{ctx: ctx, r: body}, k.MaxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	switch {
	case err != nil:
		os.Remove(f.Name())
		return "", 0, fmt.Errorf("read upload body: %w", err)
	case n > k.MaxBytes:
		os.Remove(f.Name())
		return "", 0, tooLarge(k)
	case n == 0:
		os.Remove(f.Name())
		return "", 0, newError(CodeValidation, "file is empty")
	}
	return f.Name(), n, nil
}

// reject ends a session during Submit.
func (c *Coordinator) reject(ctx context.Context, id SessionID, e *Error, log *slog.Logger) {
	c.metrics.IncUploadsRejected()
	if _, err := c.store.Update(context.WithoutCancel(ctx), id, failWith(e, c.now())); err != nil {
		log.Error("record rejection", slog.String("error", err.Error()))
	}
	log.Warn("upload rejected", slog.String("code", string(e.Code)), slog.String("reason", e.Message))
}

func failWith(e *Error, at time.Time) func(s *Session) error {
	return func(s *Session) error {
		s.Stage = StageError
		s.Error = e
		s.Message = e.Message
		s.UpdatedAt = at
		return nil
	}
}

func (c *Coordinator) start(sess Session, kind Kind, title, spool string) error {
	steps, err := c.proc.Resolve(kind)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCoordinatorClosed
	}

	ctx, cancel := context.WithCancelCause(c.base)
	t := &task{cancel: cancel, stall: c.stall}
	t.watchdog = time.AfterFunc(c.stall, func() { cancel(ErrTimeout) })
	c.tasks[sess.ID] = t

	c.wg.Add(1)
	go c.run(ctx, t, job{session: sess, kind: kind, title: title, spool: spool, steps: steps})
	return nil
}

type job struct {
	session Session
	kind    Kind
	title   string
	spool   string
	steps   []Step
}

// run is the background task of one session.
func (c *Coordinator) run(ctx context.Context, t *task, j job) {
	id := j.session.ID
	log := c.log.With(slog.String("session_id", string(id)), slog.String("kind", string(j.kind.Name)))
	defer func() {
		t.watchdog.Stop()
		t.cancel(nil)
		os.Remove(j.spool)
		c.mu.Lock()
		delete(c.tasks, id)
		c.mu.Unlock()
		c.wg.Done()
	}()

	// Store writes outlive task cancellation so the terminal state lands.
	wctx := context.WithoutCancel(ctx)

	if !c.advance(wctx, t, id, log, func(s *Session) {
		s.Stage = StageUploading
		s.Message = "uploading"
	}) {
		return
	}

	location, err := c.transfer(ctx, wctx, t, j, log)
	if err != nil {
		c.fail(ctx, wctx, id, err, CodeTransfer, log)
		return
	}

	if !c.advance(wctx, t, id, log, func(s *Session) {
		s.Stage = StageProcessing
		s.BytesUploaded = j.session.TotalBytes
		s.ProgressPercent = uploadBand
		s.Message = "processing"
	}) {
		return
	}

	asset := &Asset{
		Kind:     j.kind,
		FileName: j.session.FileName,
		Path:     j.spool,
		Size:     j.session.TotalBytes,
		Metadata: map[string]string{},
	}
	for i, step := range j.steps {
		if ctx.Err() != nil {
			c.fail(ctx, wctx, id, ctx.Err(), CodeProcessing, log)
			return
		}
		if err := step.Run(ctx, asset); err != nil {
			c.fail(ctx, wctx, id, fmt.Errorf("%s: %w", step.Name, err), CodeProcessing, log)
			return
		}
		pct := uploadBand + (i+1)*(processingBand-uploadBand)/len(j.steps)
		name := step.Name
		if !c.advance(wctx, t, id, log, func(s *Session) {
			s.ProgressPercent = pct
			s.Message = "processed " + name
		}) {
			return
		}
	}

	t.mu.Lock()
	if ctx.Err() != nil {
		t.mu.Unlock()
		c.fail(ctx, wctx, id, ctx.Err(), CodeProcessing, log)
		return
	}
	t.committing = true
	t.watchdog.Stop()
	t.mu.Unlock()

	itemID, err := c.sink.Append(wctx, c.produce(j, location, asset.Metadata))
	if err != nil {
		c.fail(ctx, wctx, id, fmt.Errorf("append item: %w", err), CodeProcessing, log)
		return
	}

	_, err = c.store.Update(wctx, id, func(s *Session) error {
		s.Stage = StageCompleted
		s.ProgressPercent = 100
		s.ResultRef = itemID
		s.Message = "completed"
		s.UpdatedAt = c.now()
		return nil
	})
	if err != nil {
		log.Error("record completion", slog.String("item_id", itemID), slog.String("error", err.Error()))
		return
	}
	c.metrics.IncUploadsCompleted()
	log.Info("upload completed", slog.String("item_id", itemID), slog.String("location", location))
}

// transfer streams the spool to storage, reporting progress in the
// uploading band as bytes move.
func (c *Coordinator) transfer(ctx, wctx context.Context, t *task, j job, log *slog.Logger) (string, error) {
	f, err := os.Open(j.spool)
	if err != nil {
		return "", err
	}
	defer f.Close()

	total := j.session.TotalBytes
	last := 0
	pr := &progressReader{ctx: ctx, r: f, onRead: func(n int64) {
		t.touch()
		pct := int(n * uploadBand / total)
		if pct <= last {
			return
		}
		last = pct
		c.advance(wctx, t, j.session.ID, log, func(s *Session) {
			s.BytesUploaded = n
			s.ProgressPercent = pct
		})
	}}

	location, err := c.storage.Store(ctx, objectKey(j.session), pr, total)
	if err != nil {
		if ctx.Err() != nil {
			return "", context.Cause(ctx)
		}
		return "", err
	}
	return location, nil
}

// advance writes a non-terminal update and feeds the watchdog. It reports
// false when the task should stop because the session can no longer move.
func (c *Coordinator) advance(ctx context.Context, t *task, id SessionID, log *slog.Logger, fn func(s *Session)) bool {
	_, err := c.store.Update(ctx, id, func(s *Session) error {
		fn(s)
		s.UpdatedAt = c.now()
		return nil
	})
	switch {
	case err == nil:
		t.touch()
		return true
	case errors.Is(err, ErrSessionClosed), errors.Is(err, ErrSessionNotFound):
		return false
	default:
		log.Error("record progress", slog.String("error", err.Error()))
		return false
	}
}

// fail records the terminal error of a task. When the task context is done
// its cause decides the code: a stall becomes a timeout, a shutdown a
// cancellation. A client cancel has already written the session.
func (c *Coordinator) fail(ctx, wctx context.Context, id SessionID, cause error, code Code, log *slog.Logger) {
	e := newError(code, cause.Error())
	if ctx.Err() != nil {
		switch cc := context.Cause(ctx); {
		case errors.Is(cc, ErrTimeout):
			e = newError(CodeTimeout, fmt.Sprintf("no progress for %s", c.stall))
		case errors.Is(cc, ErrCancelled):
			return
		case errors.Is(cc, errShutdown):
			e = newError(CodeCancelled, "server shutting down")
		}
	}

	if _, err := c.store.Update(wctx, id, failWith(e, c.now())); err != nil {
		if !errors.Is(err, ErrSessionClosed) {
			log.Error("record failure", slog.String("error", err.Error()))
		}
		return
	}
	c.metrics.IncUploadsFailed(string(e.Code))
	log.Warn("upload failed", slog.String("code", string(e.Code)), slog.String("reason", e.Message))
}

func (c *Coordinator) produce(j job, location string, meta map[string]string) Produced {
	title := strings.TrimSpace(j.title)
	if title == "" {
		title = strings.TrimSuffix(j.session.FileName, filepath.Ext(j.session.FileName))
	}
	meta["session_id"] = string(j.session.ID)
	meta["file_name"] = j.session.FileName
	meta["size"] = strconv.FormatInt(j.session.TotalBytes, 10)
	return Produced{
		Resource: j.kind.Resource,
		ScopeID:  j.session.ScopeID,
		Title:    title,
		Location: location,
		Metadata: meta,
	}
}

// GetProgress returns the current snapshot of a session.
func (c *Coordinator) GetProgress(ctx context.Context, id SessionID) (Session, error) {
	return c.store.Get(ctx, id)
}

// Cancel ends a running session with error/cancelled and stops its task at
// the next read or step boundary. Finished sessions yield ErrSessionClosed.
func (c *Coordinator) Cancel(ctx context.Context, id SessionID) error {
	c.mu.Lock()
	t := c.tasks[id]
	c.mu.Unlock()

	if t != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.committing {
			return ErrSessionClosed
		}
	}

	e := newError(CodeCancelled, "cancelled by client")
	if _, err := c.store.Update(ctx, id, failWith(e, c.now())); err != nil {
		return err
	}
	if t != nil {
		t.cancel(ErrCancelled)
	}
	c.metrics.IncUploadsFailed(string(CodeCancelled))
	c.log.Info("upload cancelled", slog.String("session_id", string(id)))
	return nil
}

// Active returns the number of running background tasks.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

// Shutdown stops accepting uploads, cancels running tasks and waits for
// them to record their final state or for ctx to expire.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.stop(errShutdown)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// progressReader counts bytes and fails once ctx is done.
type progressReader struct {
	ctx    context.Context
	r      io.Reader
	n      int64
	onRead func(n int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, context.Cause(p.ctx)
	}
	n, err := p.r.Read(b)
	if n > 0 {
		p.n += int64(n)
		p.onRead(p.n)
	}
	return n, err
}
