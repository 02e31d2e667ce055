package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentworkforce/ledgerrelay/internal/events"
	"github.com/agentworkforce/ledgerrelay/internal/idgen"
	"github.com/agentworkforce/ledgerrelay/internal/ledger"
	"github.com/agentworkforce/ledgerrelay/internal/notify"
	"github.com/agentworkforce/ledgerrelay/internal/snapshot"
)

const DefaultFetchTimeout = 30 * time.Second

// Source yields the current ledger rows in sheet order.
type Source interface {
	Fetch(ctx context.Context) ([]ledger.Row, error)
}

type MessageRenderer interface {
	NewRow(row ledger.Row) notify.Message
}

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	Source       Source
	Store        snapshot.Store
	Notifier     notify.Notifier
	Renderer     MessageRenderer
	Publisher    events.Publisher
	Logger       Logger
	FetchTimeout time.Duration
	Now          func() time.Time
}

// Result summarizes one RunOnce pass.
type Result struct {
	PassID       string        `json:"passId"`
	StartedAt    time.Time     `json:"startedAt"`
	Duration     time.Duration `json:"durationNs"`
	Bootstrap    bool          `json:"bootstrap"`
	Fetched      int           `json:"fetched"`
	Inserted     int           `json:"inserted"`
	Deleted      int           `json:"deleted"`
	Unchanged    int           `json:"unchanged"`
	Duplicates   int           `json:"duplicates"`
	SendFailures int           `json:"sendFailures"`
	Saved        bool          `json:"saved"`
}

type RefreshResult struct {
	PassID  string `json:"passId"`
	Edited  int    `json:"edited"`
	Missing int    `json:"missing"`
	Failed  int    `json:"failed"`
	Saved   bool   `json:"saved"`
}

// Status is a copy of the engine's observable state.
type Status struct {
	Loaded       bool      `json:"loaded"`
	Bootstrapped bool      `json:"bootstrapped"`
	Entries      int       `json:"entries"`
	Undelivered  int       `json:"undelivered"`
	UpdatedAt    time.Time `json:"updatedAt,omitzero"`
	LastRunAt    time.Time `json:"lastRunAt,omitzero"`
	LastResult   *Result   `json:"lastResult,omitempty"`
	LastError    string    `json:"lastError,omitempty"`
}

// Engine owns the snapshot for the lifetime of the process. Passes are
// serialized; overlapping calls fail fast with ErrPassInFlight.
type Engine struct {
	source       Source
	store        snapshot.Store
	notifier     notify.Notifier
	renderer     MessageRenderer
	publisher    events.Publisher
	logger       Logger
	fetchTimeout time.Duration
	now          func() time.Time

	pass sync.Mutex

	mu         sync.RWMutex
	state      snapshot.State
	loaded     bool
	dirty      bool
	lastRunAt  time.Time
	lastResult *Result
	lastErr    error
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Source == nil || opts.Store == nil || opts.Notifier == nil || opts.Renderer == nil {
		return nil, fmt.Errorf("%w: source, store, notifier and renderer are required", ErrInvalidInput)
	}
	e := &Engine{
		source:       opts.Source,
		store:        opts.Store,
		notifier:     opts.Notifier,
		renderer:     opts.Renderer,
		publisher:    opts.Publisher,
		logger:       opts.Logger,
		fetchTimeout: opts.FetchTimeout,
		now:          opts.Now,
		state:        snapshot.NewState(),
	}
	if e.publisher == nil {
		e.publisher = &events.NoopPublisher{}
	}
	if e.fetchTimeout <= 0 {
		e.fetchTimeout = DefaultFetchTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// RunOnce performs one fetch, diff, notify and persist pass.
func (e *Engine) RunOnce(ctx context.Context) (Result, error) {
	if !e.pass.TryLock() {
		return Result{}, ErrPassInFlight
	}
	defer e.pass.Unlock()

	started := e.now()
	result := Result{PassID: idgen.Pass(), StartedAt: started}
	err := e.runPass(ctx, &result)
	result.Duration = e.now().Sub(started)
	e.record(result, err)
	return result, err
}

func (e *Engine) runPass(ctx context.Context, result *Result) error {
	prev, err := e.ensureLoaded(ctx)
	if err != nil {
		e.logf("pass %s: %v", result.PassID, err)
		return err
	}

	rows, err := e.fetch(ctx)
	if err != nil {
		e.logf("pass %s: %v", result.PassID, err)
		return err
	}
	result.Fetched = len(rows)

	next, plan := Reconcile(prev, rows)
	result.Bootstrap = plan.Bootstrap
	result.Unchanged = plan.Unchanged
	result.Duplicates = plan.Duplicates
	if plan.Duplicates > 0 {
		e.logf("pass %s: %d duplicate rows collapsed", result.PassID, plan.Duplicates)
	}
	if plan.Bootstrap {
		e.logf("pass %s: bootstrap absorbed %d rows without notifying", result.PassID, plan.Absorbed)
	}

	for _, ins := range plan.Inserts {
		entry := next.Entries[ins.ID]
		handle, sendErr := e.notifier.CreateMessage(ctx, e.renderer.NewRow(ins.Row))
		if sendErr != nil {
			result.SendFailures++
			e.logf("pass %s: notify row %s (%s %q) failed: %v", result.PassID, shortID(ins.ID), ins.Row.Primary, ins.Row.Description, sendErr)
		} else {
			entry.Handle = handle
			e.logf("pass %s: notified row %s as message %s", result.PassID, shortID(ins.ID), handle)
		}
		next.Entries[ins.ID] = entry
		result.Inserted++
		e.publish(ctx, events.TopicRowInserted, events.RowInserted{
			PassID:    result.PassID,
			Identity:  ins.ID,
			Row:       ins.Row,
			Handle:    entry.Handle,
			Delivered: sendErr == nil,
		})
	}
	for _, del := range plan.Deletes {
		result.Deleted++
		e.logf("pass %s: row %s left the ledger", result.PassID, shortID(del.ID))
		e.publish(ctx, events.TopicRowDeleted, events.RowDeleted{
			PassID:   result.PassID,
			Identity: del.ID,
			Row:      del.Entry.Row,
			Handle:   del.Entry.Handle,
		})
	}

	var saveErr error
	if changed := plan.Changed(); changed || e.unsaved() {
		if changed {
			next.UpdatedAt = e.now()
		}
		saveErr = e.commit(ctx, next)
		result.Saved = saveErr == nil
		if saveErr != nil {
			e.logf("pass %s: %v", result.PassID, saveErr)
		}
	}

	e.logf("pass %s: fetched=%d inserted=%d deleted=%d unchanged=%d send_failures=%d",
		result.PassID, result.Fetched, result.Inserted, result.Deleted, result.Unchanged, result.SendFailures)
	e.publish(ctx, events.TopicPassCompleted, events.PassCompleted{
		PassID:       result.PassID,
		Bootstrap:    result.Bootstrap,
		Fetched:      result.Fetched,
		Inserted:     result.Inserted,
		Deleted:      result.Deleted,
		Unchanged:    result.Unchanged,
		SendFailures: result.SendFailures,
		Saved:        result.Saved,
		Duration:     e.now().Sub(result.StartedAt),
	})
	return saveErr
}

// Refresh re-renders every delivered message in place. Entries whose
// message was deleted from the channel lose their handle.
func (e *Engine) Refresh(ctx context.Context) (RefreshResult, error) {
	if !e.pass.TryLock() {
		return RefreshResult{}, ErrPassInFlight
	}
	defer e.pass.Unlock()

	result := RefreshResult{PassID: idgen.Pass()}
	prev, err := e.ensureLoaded(ctx)
	if err != nil {
		e.logf("refresh %s: %v", result.PassID, err)
		return result, err
	}

	next := prev.Clone()
	ids := make([]string, 0, len(next.Entries))
	for id, entry := range next.Entries {
		if entry.Handle != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		entry := next.Entries[id]
		err := e.notifier.EditMessage(ctx, entry.Handle, e.renderer.NewRow(entry.Row))
		switch {
		case err == nil:
			result.Edited++
			e.publish(ctx, events.TopicMessageRefreshed, events.MessageRefreshed{PassID: result.PassID, Identity: id, Handle: entry.Handle})
		case errors.Is(err, notify.ErrNotFound):
			result.Missing++
			e.logf("refresh %s: message %s for row %s is gone", result.PassID, entry.Handle, shortID(id))
			e.publish(ctx, events.TopicMessageRefreshed, events.MessageRefreshed{PassID: result.PassID, Identity: id, Handle: entry.Handle, Missing: true})
			entry.Handle = ""
			next.Entries[id] = entry
		default:
			result.Failed++
			e.logf("refresh %s: edit message %s failed: %v", result.PassID, entry.Handle, err)
		}
	}

	e.logf("refresh %s: edited=%d missing=%d failed=%d", result.PassID, result.Edited, result.Missing, result.Failed)
	if result.Missing == 0 {
		return result, nil
	}
	next.UpdatedAt = e.now()
	if err := e.commit(ctx, next); err != nil {
		e.logf("refresh %s: %v", result.PassID, err)
		return result, err
	}
	result.Saved = true
	return result, nil
}

// Listing fetches the current rows without touching the snapshot.
func (e *Engine) Listing(ctx context.Context) ([]ledger.Row, error) {
	return e.fetch(ctx)
}

// Snapshot returns a copy of the in-memory state, loading it if needed.
func (e *Engine) Snapshot(ctx context.Context) (snapshot.State, error) {
	state, err := e.ensureLoaded(ctx)
	if err != nil {
		return snapshot.NewState(), err
	}
	return state.Clone(), nil
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	status := Status{
		Loaded:       e.loaded,
		Bootstrapped: e.state.Bootstrapped,
		Entries:      len(e.state.Entries),
		UpdatedAt:    e.state.UpdatedAt,
		LastRunAt:    e.lastRunAt,
	}
	for _, entry := range e.state.Entries {
		if entry.Handle == "" {
			status.Undelivered++
		}
	}
	if e.lastResult != nil {
		last := *e.lastResult
		status.LastResult = &last
	}
	if e.lastErr != nil {
		status.LastError = e.lastErr.Error()
	}
	return status
}

func (e *Engine) fetch(ctx context.Context) ([]ledger.Row, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()
	rows, err := e.source.Fetch(fetchCtx)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	if len(rows) == 0 {
		return nil, &FetchError{Err: ErrNoRows}
	}
	return rows, nil
}

// ensureLoaded reads the store once. A malformed document starts the
// engine empty; any other failure is retried on the next call.
func (e *Engine) ensureLoaded(ctx context.Context) (snapshot.State, error) {
	e.mu.RLock()
	if e.loaded {
		state := e.state
		e.mu.RUnlock()
		return state, nil
	}
	e.mu.RUnlock()

	state, err := e.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, snapshot.ErrMalformedState) {
			return snapshot.NewState(), &StorageError{Op: "load", Err: err}
		}
		e.logf("snapshot unreadable, starting empty: %v", err)
		state = snapshot.NewState()
	}
	if state.Entries == nil {
		state.Entries = map[string]snapshot.Entry{}
	}
	e.mu.Lock()
	if e.loaded {
		state = e.state
		e.mu.Unlock()
		return state, nil
	}
	e.state = state
	e.loaded = true
	e.mu.Unlock()
	e.logf("snapshot loaded: bootstrapped=%t entries=%d", state.Bootstrapped, len(state.Entries))
	return state, nil
}

// commit installs next in memory before persisting it. The in-memory
// state stays authoritative when the save fails and is written again by
// the next pass, changed or not.
func (e *Engine) commit(ctx context.Context, next snapshot.State) error {
	e.mu.Lock()
	e.state = next
	e.mu.Unlock()
	err := e.store.Save(ctx, next)
	e.mu.Lock()
	e.dirty = err != nil
	e.mu.Unlock()
	if err != nil {
		return &StorageError{Op: "save", Err: err}
	}
	return nil
}

func (e *Engine) unsaved() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dirty
}

func (e *Engine) record(result Result, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastRunAt = result.StartedAt
	e.lastResult = &result
	e.lastErr = err
}

func (e *Engine) publish(ctx context.Context, topic string, event any) {
	if err := e.publisher.Publish(ctx, topic, event); err != nil {
		e.logf("publish %s failed: %v", topic, err)
	}
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Printf(format, args...)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
