// CLAUDE:SUMMARY Main Service orchestrator: adapter registry wiring, per-handle poll serialization, decision application, lifecycle and background loops.
// Package postwatch tracks the latest post of social accounts by polling
// several unreliable sources, reconciling their answers and notifying
// subscribers once per genuinely new post.
//
//	svc, err := postwatch.New(db, &postwatch.Config{}, logger,
//		postwatch.WithSender(dispatcher))
//	svc.Start(ctx)
//	defer svc.Close()
//	out, err := svc.TrackAccount(ctx, "golang")
package postwatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/postwatch/horosafe"
	"github.com/hazyhaar/postwatch/idgen"
	"github.com/hazyhaar/postwatch/postwatch/internal/browser"
	"github.com/hazyhaar/postwatch/postwatch/internal/reconcile"
	"github.com/hazyhaar/postwatch/postwatch/internal/scheduler"
	"github.com/hazyhaar/postwatch/postwatch/internal/source"
	"github.com/hazyhaar/postwatch/postwatch/internal/store"
)

// Service is the postwatch orchestrator.
type Service struct {
	store      *store.Store
	registry   *source.Registry
	reconciler *reconcile.Reconciler
	scheduler  *scheduler.Scheduler
	logger     *slog.Logger
	config     *Config

	// Built-in adapter state, nil when adapters are injected.
	mirror  *source.Mirror
	proxies *source.ProxyPool
	chrome  *browser.Manager

	notifier Notifier
	fanout   *broadcaster // nil with a custom Notifier
	sender   Sender

	adapters     []source.Adapter
	urlValidator func(string) error
	now          func() time.Time
	newID        func() string

	locks sync.Map // handle -> *sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithAdapters replaces the built-in adapters. Used in tests and by
// embedders with their own sources.
func WithAdapters(adapters ...Adapter) ServiceOption {
	return func(svc *Service) { svc.adapters = adapters }
}

// WithNotifier replaces the default subscriber broadcaster.
func WithNotifier(n Notifier) ServiceOption {
	return func(svc *Service) { svc.notifier = n }
}

// WithSender sets the delivery backend of the default broadcaster.
func WithSender(s Sender) ServiceOption {
	return func(svc *Service) { svc.sender = s }
}

// WithURLValidator overrides mirror URL validation (default: horosafe.ValidateURL).
// Use in tests with httptest servers that listen on loopback addresses.
func WithURLValidator(fn func(string) error) ServiceOption {
	return func(svc *Service) { svc.urlValidator = fn }
}

// WithNow sets the service clock.
func WithNow(now func() time.Time) ServiceOption {
	return func(svc *Service) { svc.now = now }
}

// New creates a postwatch Service on db. The schema is applied.
func New(db *sql.DB, cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if err := store.ApplySchema(db); err != nil {
		return nil, fmt.Errorf("postwatch: schema: %w", err)
	}

	svc := &Service{
		store:        store.NewStore(db),
		logger:       logger,
		config:       cfg,
		urlValidator: horosafe.ValidateURL,
		now:          time.Now,
		newID:        idgen.New,
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.store.Now = svc.now

	if err := svc.buildRegistry(); err != nil {
		return nil, err
	}

	rcfg := cfg.Reconcile
	if rcfg.Logger == nil {
		rcfg.Logger = logger
	}
	svc.reconciler = reconcile.New(rcfg)

	if svc.notifier == nil {
		svc.fanout = newBroadcaster(svc.sender, svc.store.ListSubscribers, cfg.NotifyQueue, cfg.NotifyPause, logger)
		svc.notifier = svc.fanout
	}

	scfg := cfg.Scheduler
	if scfg.Now == nil {
		scfg.Now = svc.now
	}
	after := scfg.AfterCycle
	scfg.AfterCycle = func(ctx context.Context) {
		svc.pruneLog(ctx)
		if after != nil {
			after(ctx)
		}
	}
	list := func(ctx context.Context) ([]*store.Account, error) {
		return svc.store.ListAccounts(ctx)
	}
	loadPlan := func(ctx context.Context) (scheduler.Plan, error) {
		st, err := svc.Settings(ctx)
		if err != nil {
			return scheduler.Plan{}, err
		}
		return plan(st), nil
	}
	poll := func(ctx context.Context, handle string) error {
		_, err := svc.PollAccount(ctx, handle)
		return err
	}
	svc.scheduler = scheduler.New(list, loadPlan, poll, scfg, logger)

	return svc, nil
}

// buildRegistry registers the built-in adapters from config and the saved
// settings, unless adapters were injected.
func (svc *Service) buildRegistry() error {
	if svc.adapters != nil {
		svc.registry = source.NewRegistry(svc.logger, svc.adapters...)
		return nil
	}

	st, err := svc.Settings(context.Background())
	if err != nil {
		return err
	}
	svc.proxies, err = source.NewProxyPool(st.Proxies)
	if err != nil {
		return fmt.Errorf("postwatch: proxies: %w", err)
	}

	cfg := svc.config
	svc.registry = source.NewRegistry(svc.logger)

	if cfg.API.BearerToken != "" {
		acfg := cfg.API
		if acfg.Logger == nil {
			acfg.Logger = svc.logger
		}
		svc.registry.Register(source.NewAPI(acfg))
	}
	if cfg.Actor.Token != "" {
		acfg := cfg.Actor
		if acfg.Logger == nil {
			acfg.Logger = svc.logger
		}
		svc.registry.Register(source.NewActor(acfg))
	}

	mcfg := cfg.Mirror
	if len(st.MirrorInstances) > 0 {
		mcfg.Instances = st.MirrorInstances
	}
	if mcfg.Transport == nil {
		mcfg.Transport = svc.proxies
	}
	if mcfg.Logger == nil {
		mcfg.Logger = svc.logger
	}
	svc.mirror = source.NewMirror(mcfg)
	svc.registry.Register(svc.mirror)

	bcfg := cfg.Browser
	if bcfg.Renderer == nil && cfg.EnableBrowser {
		ccfg := cfg.Chrome
		if ccfg.Logger == nil {
			ccfg.Logger = svc.logger
		}
		svc.chrome = browser.NewManager(ccfg)
		bcfg.Renderer = svc.chrome
	}
	if bcfg.Renderer != nil {
		if bcfg.Logger == nil {
			bcfg.Logger = svc.logger
		}
		svc.registry.Register(source.NewBrowser(bcfg))
	}

	svc.logger.Info("postwatch: adapters ready", "sources", svc.registry.Names())
	return nil
}

// Start launches the scheduler, the notification worker and the mirror
// prober. Non-blocking.
func (svc *Service) Start(ctx context.Context) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.cancel != nil {
		return
	}
	ctx, svc.cancel = context.WithCancel(ctx)

	svc.goLoop(func() { svc.scheduler.Run(ctx) })
	if svc.fanout != nil {
		svc.goLoop(func() { svc.fanout.run(ctx) })
	}
	if svc.mirror != nil {
		svc.goLoop(func() { svc.probeLoop(ctx) })
	}
	svc.logger.Info("postwatch: started")
}

func (svc *Service) goLoop(fn func()) {
	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()
		fn()
	}()
}

// Close stops background loops, waits for them, delivers notifications
// still queued (bounded by Config.NotifyDrainTimeout) and releases the owned
// browser.
func (svc *Service) Close() error {
	svc.mu.Lock()
	cancel := svc.cancel
	svc.cancel = nil
	svc.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	svc.wg.Wait()

	if svc.fanout != nil {
		ctx, cancel := context.WithTimeout(context.Background(), svc.config.NotifyDrainTimeout)
		svc.fanout.drain(ctx)
		cancel()
	}

	var err error
	if svc.chrome != nil {
		err = svc.chrome.Close()
	}
	svc.logger.Info("postwatch: closed")
	return err
}

func (svc *Service) probeLoop(ctx context.Context) {
	t := time.NewTicker(svc.config.ProbeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			statuses := svc.mirror.Probe(ctx)
			healthy := 0
			for _, s := range statuses {
				if s.Healthy {
					healthy++
				}
			}
			svc.logger.Info("postwatch: mirrors probed", "healthy", healthy, "total", len(statuses))
		}
	}
}

func (svc *Service) pruneLog(ctx context.Context) {
	cutoff := svc.now().Add(-svc.config.PollLogRetention).UnixMilli()
	n, err := svc.store.PrunePollLog(ctx, cutoff)
	if err != nil {
		svc.logger.Warn("postwatch: prune poll log", "error", err)
		return
	}
	if n > 0 {
		svc.logger.Debug("postwatch: poll log pruned", "rows", n)
	}
}

// lock serializes polls and mutations of one handle.
func (svc *Service) lock(key string) func() {
	v, _ := svc.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// --- Core operations ---

// PollAccount polls one tracked account, applies the decision and, on a new
// post, enqueues a notification. Source failures are reported through the
// Failure outcome; the error is reserved for invalid or untracked handles,
// disabled polling, store failures and caller cancellation.
func (svc *Service) PollAccount(ctx context.Context, handle string) (*PollOutcome, error) {
	key, _, err := normalizeHandle(handle)
	if err != nil {
		return nil, err
	}
	unlock := svc.lock(key)
	defer unlock()

	a, err := svc.store.GetAccount(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("postwatch: load %s: %w", key, err)
	}
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotTracked, key)
	}
	if a.PollingDisabled() {
		return nil, fmt.Errorf("%w: %s", ErrPollingDisabled, key)
	}

	out, entry, err := svc.poll(ctx, a)
	if err != nil {
		return nil, err
	}
	if err := svc.store.SavePoll(ctx, a, entry); err != nil {
		return nil, fmt.Errorf("postwatch: save %s: %w", key, err)
	}
	svc.finish(a, out)
	return out, nil
}

// TrackAccount starts tracking handle. The account is stored only when the
// first lookup finds a post, which becomes the baseline; no notification
// is sent for it.
func (svc *Service) TrackAccount(ctx context.Context, handle string) (*PollOutcome, error) {
	key, display, err := normalizeHandle(handle)
	if err != nil {
		return nil, err
	}
	unlock := svc.lock(key)
	defer unlock()

	existing, err := svc.store.GetAccount(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("postwatch: load %s: %w", key, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyTracked, key)
	}

	a := &store.Account{
		Handle:           key,
		DisplayHandle:    display,
		FirstObservation: true,
		Priority:         scheduler.MaxPriority,
		SuccessRate:      100,
	}
	out, entry, err := svc.poll(ctx, a)
	if err != nil {
		return nil, err
	}
	if out.Outcome == Failure {
		svc.logger.Info("postwatch: track lookup failed", "handle", key, "consulted", out.Consulted)
		return out, nil
	}

	if err := svc.store.InsertAccount(ctx, a); err != nil {
		if errors.Is(err, store.ErrAccountExists) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyTracked, key)
		}
		return nil, fmt.Errorf("postwatch: insert %s: %w", key, err)
	}
	if err := svc.store.SavePoll(ctx, a, entry); err != nil {
		return nil, fmt.Errorf("postwatch: save %s: %w", key, err)
	}
	svc.logger.Info("postwatch: tracking", "handle", key, "baseline", a.LastPostID, "source", a.LastSource)
	return out, nil
}

// poll reconciles the sources for a and applies the decision to a in
// memory. The caller persists a and the returned log entry.
func (svc *Service) poll(ctx context.Context, a *store.Account) (*PollOutcome, *store.PollLogEntry, error) {
	order := a.PreferredSources
	if order == nil {
		st, err := svc.Settings(ctx)
		if err != nil {
			return nil, nil, err
		}
		order = st.SourceOrder
	}
	adapters := svc.registry.Resolve(order)

	start := svc.now()
	d := svc.reconciler.Reconcile(ctx, a.Handle, reconcile.Fingerprint{
		LastPostID:       a.LastPostID,
		FirstObservation: a.FirstObservation,
	}, adapters)
	if d.Outcome == Failure && ctx.Err() != nil {
		return nil, nil, fmt.Errorf("postwatch: poll %s: %w", a.Handle, ctx.Err())
	}
	now := svc.now()

	out := &PollOutcome{
		Handle:         a.Handle,
		Outcome:        d.Outcome,
		PreviousPostID: a.LastPostID,
		Consulted:      d.Consulted,
		ShortCircuited: d.ShortCircuited,
		Stale:          d.Stale,
		Ambiguous:      d.Ambiguous,
		Rejected:       len(d.Rejected),
		Faults:         d.Faults,
		DurationMs:     now.Sub(start).Milliseconds(),
	}
	if out.Consulted == nil {
		out.Consulted = []string{}
	}
	apply(a, &d)
	a.LastCheckedAt = now.UnixMilli()
	a.UpdatedAt = now.UnixMilli()

	if d.Winner != nil {
		out.PostID = d.Winner.PostID
		out.Source = d.Winner.Source
	}
	if d.Outcome != Failure {
		c := a.LastContent
		out.Content = &c
	}

	entry := &store.PollLogEntry{
		ID:         svc.newID(),
		Handle:     a.Handle,
		Outcome:    string(d.Outcome),
		Source:     out.Source,
		PostID:     out.PostID,
		Consulted:  out.Consulted,
		Stale:      d.Stale,
		Ambiguous:  d.Ambiguous,
		DurationMs: out.DurationMs,
		PolledAt:   now.UnixMilli(),
	}
	return out, entry, nil
}

// apply folds a decision into the account record and its health.
func apply(a *store.Account, d *reconcile.Decision) {
	switch d.Outcome {
	case Failure:
		scheduler.RecordFailure(a)
		return
	case BaselineSet, NewPost:
		w := d.Winner
		a.LastPostID = w.PostID
		a.LastContent = winnerContent(w)
		a.LastSource = w.Source
		a.FirstObservation = false
	case NoChange:
		if !d.Stale && !d.Ambiguous && d.Winner != nil && !d.Winner.NotNewer && d.Winner.PostID == a.LastPostID {
			a.LastContent = winnerContent(d.Winner).Merge(a.LastContent)
		}
	}
	scheduler.RecordSuccess(a)
}

func winnerContent(w *source.Result) Content {
	c := w.Content
	if c.Source == "" {
		c.Source = w.Source
	}
	return c
}

// finish runs post-commit side effects.
func (svc *Service) finish(a *store.Account, out *PollOutcome) {
	switch out.Outcome {
	case NewPost:
		out.Notified = svc.notifier.Notify(a.DisplayHandle, a.LastContent)
		svc.logger.Info("postwatch: new post", "handle", a.Handle, "post_id", out.PostID,
			"previous", out.PreviousPostID, "source", out.Source, "notified", out.Notified)
	case Failure:
		svc.logger.Info("postwatch: poll failed", "handle", a.Handle,
			"consecutive_failures", a.ConsecutiveFailures, "priority", a.Priority)
	case BaselineSet:
		svc.logger.Info("postwatch: baseline set", "handle", a.Handle, "post_id", out.PostID, "source", out.Source)
	}
}

// --- Lifecycle operations ---

// UntrackAccount stops tracking handle and purges adapter caches for it.
func (svc *Service) UntrackAccount(ctx context.Context, handle string) error {
	key, _, err := normalizeHandle(handle)
	if err != nil {
		return err
	}
	unlock := svc.lock(key)
	defer unlock()

	if err := svc.store.DeleteAccount(ctx, key); err != nil {
		return svc.mapNotFound(key, err)
	}
	svc.registry.Forget(key)
	svc.logger.Info("postwatch: untracked", "handle", key)
	return nil
}

// ResetAccount returns handle to first observation. The stored id stays as
// a provisional baseline and adapter caches are purged.
func (svc *Service) ResetAccount(ctx context.Context, handle string) error {
	key, _, err := normalizeHandle(handle)
	if err != nil {
		return err
	}
	unlock := svc.lock(key)
	defer unlock()

	if err := svc.store.ResetAccount(ctx, key); err != nil {
		return svc.mapNotFound(key, err)
	}
	svc.registry.Forget(key)
	svc.logger.Info("postwatch: reset", "handle", key)
	return nil
}

// GetAccount returns the tracked account for handle.
func (svc *Service) GetAccount(ctx context.Context, handle string) (*Account, error) {
	key, _, err := normalizeHandle(handle)
	if err != nil {
		return nil, err
	}
	a, err := svc.store.GetAccount(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("postwatch: load %s: %w", key, err)
	}
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotTracked, key)
	}
	return a, nil
}

// ListAccounts returns every tracked account ordered by handle.
func (svc *Service) ListAccounts(ctx context.Context) ([]*Account, error) {
	accounts, err := svc.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("postwatch: list: %w", err)
	}
	return accounts, nil
}

// SetPreferredSources overrides the adapter order for handle. nil restores
// the global order; an empty slice disables polling.
func (svc *Service) SetPreferredSources(ctx context.Context, handle string, sources []string) error {
	key, _, err := normalizeHandle(handle)
	if err != nil {
		return err
	}
	for _, n := range sources {
		if _, ok := svc.registry.Get(n); !ok {
			return fmt.Errorf("%w: %q (available: %v)", ErrUnknownSource, n, svc.registry.Names())
		}
	}
	unlock := svc.lock(key)
	defer unlock()
	if err := svc.store.SetPreferredSources(ctx, key, sources); err != nil {
		return svc.mapNotFound(key, err)
	}
	return nil
}

// Sources returns the registered adapter names.
func (svc *Service) Sources() []string {
	return svc.registry.Names()
}

// Settings returns the saved settings, or the defaults when none were saved.
func (svc *Service) Settings(ctx context.Context) (*Settings, error) {
	st, err := svc.store.LoadSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("postwatch: settings: %w", err)
	}
	if st == nil {
		return DefaultSettings(), nil
	}
	return st, nil
}

// UpdateSettings validates and saves st, then applies the mirror list and
// proxies to the running adapters. Scheduler fields apply from the next
// cycle.
func (svc *Service) UpdateSettings(ctx context.Context, st *Settings) error {
	if st == nil {
		return fmt.Errorf("%w: nil settings", ErrInvalidSettings)
	}
	if st.Proxies == nil {
		st.Proxies = []string{}
	}
	if err := validateSettings(st, svc.urlValidator); err != nil {
		return err
	}
	if err := svc.store.SaveSettings(ctx, st); err != nil {
		return fmt.Errorf("postwatch: save settings: %w", err)
	}
	if svc.mirror != nil && len(st.MirrorInstances) > 0 {
		svc.mirror.SetInstances(st.MirrorInstances)
	}
	if svc.proxies != nil {
		if err := svc.proxies.Update(st.Proxies); err != nil {
			return fmt.Errorf("postwatch: apply proxies: %w", err)
		}
	}
	svc.logger.Info("postwatch: settings updated", "interval_sec", st.CheckIntervalSec,
		"sources", st.SourceOrder, "mirrors", len(st.MirrorInstances), "proxies", len(st.Proxies))
	return nil
}

// Subscribe adds a notification target on a named channel.
func (svc *Service) Subscribe(ctx context.Context, channel, recipientID string) error {
	if channel == "" {
		return fmt.Errorf("%w: channel is required", ErrInvalidInput)
	}
	return svc.store.AddSubscriber(ctx, channel, recipientID)
}

// Unsubscribe removes a notification target.
func (svc *Service) Unsubscribe(ctx context.Context, channel, recipientID string) error {
	err := svc.store.RemoveSubscriber(ctx, channel, recipientID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: no subscriber %s/%s", ErrInvalidInput, channel, recipientID)
	}
	return err
}

// Subscribers lists notification targets.
func (svc *Service) Subscribers(ctx context.Context) ([]*Subscriber, error) {
	return svc.store.ListSubscribers(ctx)
}

// RecentPolls returns the latest poll-log rows for handle, newest first.
func (svc *Service) RecentPolls(ctx context.Context, handle string, limit int) ([]*PollLogEntry, error) {
	key, _, err := normalizeHandle(handle)
	if err != nil {
		return nil, err
	}
	return svc.store.RecentPolls(ctx, key, limit)
}

// ProbeMirrors checks every mirror now and returns their health.
func (svc *Service) ProbeMirrors(ctx context.Context) ([]MirrorStatus, error) {
	m, err := svc.mirrorAdapter()
	if err != nil {
		return nil, err
	}
	return m.Probe(ctx), nil
}

// MirrorStatus returns the mirror health counters without probing.
func (svc *Service) MirrorStatus() ([]MirrorStatus, error) {
	m, err := svc.mirrorAdapter()
	if err != nil {
		return nil, err
	}
	return m.Status(), nil
}

func (svc *Service) mirrorAdapter() (*source.Mirror, error) {
	if svc.mirror != nil {
		return svc.mirror, nil
	}
	if a, ok := svc.registry.Get(SourceMirror); ok {
		if m, ok := a.(*source.Mirror); ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s not registered", ErrUnknownSource, SourceMirror)
}

// ImportLegacy migrates a legacy accounts file and, optionally, a legacy
// subscribers file whose chat ids are attached to channel.
func (svc *Service) ImportLegacy(ctx context.Context, accounts, subscribers []byte, channel string, overwrite bool) (*ImportReport, error) {
	report := &ImportReport{}
	if len(accounts) > 0 {
		parsed, err := store.ParseLegacyAccounts(accounts, svc.now())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		report.Imported, report.Skipped, err = svc.store.ImportAccounts(ctx, parsed, overwrite)
		if err != nil {
			return report, fmt.Errorf("postwatch: import accounts: %w", err)
		}
	}
	if len(subscribers) > 0 {
		if channel == "" {
			return report, fmt.Errorf("%w: channel is required for subscribers", ErrInvalidInput)
		}
		ids, err := store.ParseLegacySubscribers(subscribers)
		if err != nil {
			return report, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		for _, id := range ids {
			if err := svc.store.AddSubscriber(ctx, channel, id); err != nil {
				return report, err
			}
			report.Subscribers++
		}
	}
	svc.logger.Info("postwatch: legacy import", "imported", report.Imported,
		"skipped", report.Skipped, "subscribers", report.Subscribers)
	return report, nil
}

func (svc *Service) mapNotFound(key string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotTracked, key)
	}
	return fmt.Errorf("postwatch: %s: %w", key, err)
}
