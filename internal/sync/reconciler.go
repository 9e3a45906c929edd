// Package sync reconciles the local store with the remote API: it pushes the
// pending sync queue and pulls the server's decks and cards.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/cardify/internal/domain"
	"github.com/conorfennell/cardify/internal/remote"
	"github.com/conorfennell/cardify/internal/storage"
)

// Reasons a cycle did not run.
const (
	SkipOffline       = "offline"
	SkipNoCredential  = "no credential"
	SkipAuthSuspended = "credential rejected"
)

// Config tunes the reconciler.
type Config struct {
	Interval         time.Duration // time between background cycles
	MaxRetries       int           // failed cycles before an entry is dead-lettered
	AttemptsPerCycle int           // tries of a transient failure within one cycle
	Parallelism      int           // concurrent remote calls per table
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	OwnerScope       string // passed to ListEntities on pull
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Interval:         5 * time.Minute,
		MaxRetries:       3,
		AttemptsPerCycle: 3,
		Parallelism:      4,
		BackoffBase:      500 * time.Millisecond,
		BackoffMax:       10 * time.Second,
	}
}

// Report summarises one cycle.
type Report struct {
	Skipped      string `json:"skipped,omitempty"`
	Pushed       int    `json:"pushed"`
	Superseded   int    `json:"superseded"` // acked, but a newer edit is still pending
	Deferred     int    `json:"deferred"`   // card creates waiting on their deck
	Failed       int    `json:"failed"`
	DeadLettered int    `json:"deadLettered"`
	Pulled       int    `json:"pulled"`
	Removed      int    `json:"removed"`
	AuthFailed   bool   `json:"authFailed"`
}

// DeadLetterFunc is told about every entry the reconciler gives up on.
type DeadLetterFunc func(entry domain.SyncQueueEntry, cause error)

// Reconciler drains the sync queue. It is the only component that calls the
// remote gateway.
type Reconciler struct {
	store   *storage.Store
	gateway remote.Gateway
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	trigger chan struct{}
	cycleMu gosync.Mutex

	mu           gosync.Mutex
	online       bool
	failedToken  string
	onDeadLetter DeadLetterFunc
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a reconciler. It starts online.
func New(store *storage.Store, gateway remote.Gateway, cfg Config, opts ...Option) *Reconciler {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.AttemptsPerCycle < 1 {
		cfg.AttemptsPerCycle = 1
	}
	r := &Reconciler{
		store:   store,
		gateway: gateway,
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
		trigger: make(chan struct{}, 1),
		online:  true,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "sync")
	return r
}

// OnDeadLetter registers fn to be called when an entry is dead-lettered.
func (r *Reconciler) OnDeadLetter(fn DeadLetterFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDeadLetter = fn
}

// Trigger asks the background loop for a cycle outside its schedule. It never blocks.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// SetOnline records the connectivity state. Coming back online triggers a cycle.
func (r *Reconciler) SetOnline(online bool) {
	r.mu.Lock()
	was := r.online
	r.online = online
	r.mu.Unlock()
	if online && !was {
		r.logger.Info("connectivity regained")
		r.Trigger()
	}
}

// Online reports the last connectivity state given to SetOnline.
func (r *Reconciler) Online() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

// Suspended reports whether syncing is paused because the current
// credential was rejected.
func (r *Reconciler) Suspended(ctx context.Context) bool {
	token, err := r.store.AuthToken(ctx)
	if err != nil || token == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return token == r.failedToken
}

// Run performs a cycle immediately and then on every tick, trigger or
// reconnect until ctx is cancelled. Cycle errors are logged, never returned.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("sync loop started", "interval", r.cfg.Interval)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.runLogged(ctx)
		select {
		case <-ctx.Done():
			r.logger.Info("sync loop stopped")
			return
		case <-ticker.C:
		case <-r.trigger:
		}
	}
}

func (r *Reconciler) runLogged(ctx context.Context) {
	rep, err := r.RunCycle(ctx)
	switch {
	case err != nil && ctx.Err() == nil:
		r.logger.Error("sync cycle failed", "error", err, "report", rep)
	case rep.Skipped != "":
		r.logger.Debug("sync cycle skipped", "reason", rep.Skipped)
	default:
		r.logger.Info("sync cycle complete",
			"pushed", rep.Pushed, "deferred", rep.Deferred, "failed", rep.Failed,
			"dead_lettered", rep.DeadLettered, "pulled", rep.Pulled, "removed", rep.Removed)
	}
}

// errAuthAbort stops the remaining pushes of a cycle.
var errAuthAbort = errors.New("credential rejected")

// RunCycle pushes every pending entry and then pulls remote state. Only one
// cycle runs at a time.
func (r *Reconciler) RunCycle(ctx context.Context) (Report, error) {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	var rep Report
	if !r.Online() {
		rep.Skipped = SkipOffline
		return rep, nil
	}
	token, err := r.store.AuthToken(ctx)
	if err != nil {
		return rep, err
	}
	if token == "" {
		rep.Skipped = SkipNoCredential
		return rep, nil
	}
	r.mu.Lock()
	suspended := token == r.failedToken
	r.mu.Unlock()
	if suspended {
		rep.Skipped = SkipAuthSuspended
		return rep, nil
	}

	c := &cycle{r: r, rep: &rep}
	for _, table := range domain.SyncTables {
		if err := c.push(ctx, table); err != nil {
			if errors.Is(err, errAuthAbort) {
				r.mu.Lock()
				r.failedToken = token
				r.mu.Unlock()
				rep.AuthFailed = true
				r.logger.Warn("sync suspended until the credential changes", "error", c.authErr)
				return rep, fmt.Errorf("sync suspended: %w", c.authErr)
			}
			return rep, err
		}
	}

	if err := c.pull(ctx); err != nil {
		if remote.Classify(err) == remote.ClassAuth {
			r.mu.Lock()
			r.failedToken = token
			r.mu.Unlock()
			rep.AuthFailed = true
			return rep, fmt.Errorf("sync suspended: %w", err)
		}
		return rep, fmt.Errorf("pull: %w", err)
	}

	if err := r.store.SetLastSync(ctx, r.now()); err != nil {
		return rep, err
	}
	return rep, nil
}

// cycle holds the state of one RunCycle call.
type cycle struct {
	r       *Reconciler
	mu      gosync.Mutex
	rep     *Report
	authErr error
}

func (c *cycle) count(fn func(*Report)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.rep)
}

// push sends the pending entries of one table. The queue holds at most one
// pending entry per entity, so entries can be sent concurrently without
// reordering mutations of the same entity.
func (c *cycle) push(ctx context.Context, table domain.Table) error {
	entries, err := c.r.store.DrainPendingSync(ctx, table)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	var waitingDecks map[string]bool
	if table == domain.TableCards {
		if waitingDecks, err = c.pendingDeckCreates(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.r.cfg.Parallelism)
	for _, e := range entries {
		if e.Operation == domain.OpCreate && waitingDecks[deckOf(e)] {
			c.count(func(r *Report) { r.Deferred++ })
			continue
		}
		g.Go(func() error { return c.pushEntry(gctx, e) })
	}
	return g.Wait()
}

// pendingDeckCreates returns the decks that do not exist remotely yet.
func (c *cycle) pendingDeckCreates(ctx context.Context) (map[string]bool, error) {
	decks, err := c.r.store.DrainPendingSync(ctx, domain.TableDecks)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, e := range decks {
		if e.Operation == domain.OpCreate {
			out[e.EntityID] = true
		}
	}
	return out, nil
}

func deckOf(e domain.SyncQueueEntry) string {
	var ref struct {
		DeckID string `json:"deckId"`
	}
	if err := json.Unmarshal(e.Payload, &ref); err != nil {
		return ""
	}
	return ref.DeckID
}

func (c *cycle) pushEntry(ctx context.Context, e domain.SyncQueueEntry) error {
	log := c.r.logger.With("entity", e.Key(), "operation", e.Operation, "revision", e.Revision)

	err := retry.Do(ctx, c.r.backoff(), func(ctx context.Context) error {
		err := c.r.send(ctx, e)
		if remote.Classify(err) == remote.ClassTransient && ctx.Err() == nil {
			return retry.RetryableError(err)
		}
		return err
	})
	if ctx.Err() != nil {
		// Cancelled mid-flight; the entry stays pending for the next cycle.
		return ctx.Err()
	}

	switch remote.Classify(err) {
	case remote.ClassNone:
		removed, err := c.r.store.MarkSynced(ctx, e)
		if err != nil {
			return err
		}
		c.count(func(r *Report) {
			r.Pushed++
			if !removed {
				r.Superseded++
			}
		})
		log.Debug("entry synced", "superseded", !removed)
		return nil

	case remote.ClassAuth:
		c.mu.Lock()
		if c.authErr == nil {
			c.authErr = err
		}
		c.mu.Unlock()
		return errAuthAbort

	case remote.ClassPermanent:
		log.Warn("remote rejected entry", "error", err)
		return c.deadLetter(ctx, e, err)

	default:
		n, serr := c.r.store.RecordFailure(ctx, e, err.Error())
		if storage.IsNotFound(serr) {
			return nil
		}
		if serr != nil {
			return serr
		}
		c.count(func(r *Report) { r.Failed++ })
		log.Warn("entry failed", "error", err, "retry_count", n)
		if n > c.r.cfg.MaxRetries {
			e.RetryCount = n
			return c.deadLetter(ctx, e, err)
		}
		return nil
	}
}

func (c *cycle) deadLetter(ctx context.Context, e domain.SyncQueueEntry, cause error) error {
	moved, err := c.r.store.DeadLetter(ctx, e, cause.Error())
	if err != nil {
		return err
	}
	if !moved {
		// A newer edit was coalesced in while this one was on the wire.
		return nil
	}
	c.count(func(r *Report) { r.DeadLettered++ })
	c.r.logger.Error("entry dead-lettered", "entity", e.Key(), "operation", e.Operation, "error", cause)

	c.r.mu.Lock()
	fn := c.r.onDeadLetter
	c.r.mu.Unlock()
	if fn != nil {
		e.Status = domain.StatusDeadLettered
		e.LastError = cause.Error()
		fn(e, cause)
	}
	return nil
}

// send issues the remote call for e. Replays are tolerated: a delete of an
// entity that is already gone and a create of one that already exists both
// count as success.
func (r *Reconciler) send(ctx context.Context, e domain.SyncQueueEntry) error {
	switch e.Operation {
	case domain.OpCreate:
		err := r.gateway.CreateEntity(ctx, e.EntityTable, e.Payload)
		if remote.StatusCode(err) == 409 {
			return r.gateway.UpdateEntity(ctx, e.EntityTable, e.EntityID, e.Payload)
		}
		return err
	case domain.OpUpdate:
		return r.gateway.UpdateEntity(ctx, e.EntityTable, e.EntityID, e.Payload)
	case domain.OpDelete:
		err := r.gateway.DeleteEntity(ctx, e.EntityTable, e.EntityID)
		if remote.StatusCode(err) == 404 && remote.Classify(err) == remote.ClassPermanent {
			return nil
		}
		return err
	}
	return &remote.PermanentError{Err: fmt.Errorf("unknown operation %q", e.Operation)}
}

func (r *Reconciler) backoff() retry.Backoff {
	b := retry.NewExponential(r.cfg.BackoffBase)
	if r.cfg.BackoffMax > 0 {
		b = retry.WithCappedDuration(r.cfg.BackoffMax, b)
	}
	return retry.WithMaxRetries(uint64(r.cfg.AttemptsPerCycle-1), b)
}
