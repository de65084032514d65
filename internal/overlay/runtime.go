package overlay

import (
	"context"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eugenenazirov/donation-overlay/internal/clock"
	"github.com/eugenenazirov/donation-overlay/internal/donation"
	"github.com/eugenenazirov/donation-overlay/internal/feed"
	"github.com/eugenenazirov/donation-overlay/internal/progress"
	"github.com/eugenenazirov/donation-overlay/internal/widget"
)

// FeedAdapter is the part of feed.Adapter the runtime drives.
type FeedAdapter interface {
	Start(ctx context.Context) error
	Stop()
	Mode() feed.Mode
	Status() feed.Status
	TestDonation() (donation.Donation, error)
}

// AdapterFactory builds the feed adapter for a session.
type AdapterFactory func(settings widget.FeedSettings, callbacks feed.Callbacks, opts ...feed.Option) FeedAdapter

// Snapshot is the published view of the running session.
type Snapshot struct {
	Config          widget.Config
	State           progress.State
	Mode            feed.Mode
	Status          feed.Status
	ConnectionError error
}

// Runtime serializes every overlay mutation on one goroutine.
type Runtime struct {
	defaults   widget.Config
	feed       widget.FeedSettings
	reconciler *progress.Reconciler
	logger     *zap.Logger
	clock      clock.Clock
	newAdapter AdapterFactory
	feedOpts   []feed.Option

	ctx       context.Context
	cancel    context.CancelFunc
	queue     *opQueue
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the loop goroutine.
	loaded     bool
	cfg        widget.Config
	state      progress.State
	session    uint64
	adapter    FeedAdapter
	resetTimer clock.Timer
	connErr    error

	subMu     sync.Mutex
	subs      map[uuid.UUID]chan Snapshot
	latest    Snapshot
	published bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// WithClock overrides the scheduler used for notification resets and passed
// on to the feed adapter.
func WithClock(c clock.Clock) Option {
	return func(r *Runtime) {
		r.clock = c
	}
}

// WithAdapterFactory overrides how feed adapters are built.
func WithAdapterFactory(factory AdapterFactory) Option {
	return func(r *Runtime) {
		r.newAdapter = factory
	}
}

// WithFeedOptions appends options applied to every feed adapter.
func WithFeedOptions(opts ...feed.Option) Option {
	return func(r *Runtime) {
		r.feedOpts = append(r.feedOpts, opts...)
	}
}

// New starts a runtime. defaults are the configuration the page query is
// layered over; settings select the donation feed.
func New(defaults widget.Config, settings widget.FeedSettings, reconciler *progress.Reconciler, opts ...Option) *Runtime {
	r := &Runtime{
		defaults:   defaults,
		feed:       settings,
		reconciler: reconciler,
		logger:     zap.NewNop(),
		clock:      clock.System(),
		newAdapter: newFeedAdapter,
		queue:      newOpQueue(),
		done:       make(chan struct{}),
		subs:       make(map[uuid.UUID]chan Snapshot),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	go r.run()
	return r
}

func newFeedAdapter(settings widget.FeedSettings, callbacks feed.Callbacks, opts ...feed.Option) FeedAdapter {
	return feed.New(settings, callbacks, opts...)
}

// Load resolves the configuration for params and makes it the active session.
// Loading the configuration that is already active keeps the running session.
func (r *Runtime) Load(ctx context.Context, params url.Values) (Snapshot, error) {
	cfg := widget.Resolve(r.defaults, params, r.feed)
	if err := r.do(ctx, func() { r.load(cfg) }); err != nil {
		return Snapshot{}, err
	}
	return r.Current()
}

// Current returns the most recently published snapshot.
func (r *Runtime) Current() (Snapshot, error) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if !r.published {
		return Snapshot{}, ErrNotLoaded
	}
	return r.latest, nil
}

// TestDonation synthesizes one test-mode donation and waits until it has
// been applied. It fails with feed.ErrTestModeDisabled outside test mode.
func (r *Runtime) TestDonation(ctx context.Context) (donation.Donation, error) {
	var (
		d   donation.Donation
		err error
	)
	doErr := r.do(ctx, func() {
		if r.adapter == nil {
			err = feed.ErrTestModeDisabled
			return
		}
		d, err = r.adapter.TestDonation()
	})
	if doErr != nil {
		return donation.Donation{}, doErr
	}
	if err != nil {
		return donation.Donation{}, err
	}
	// The adapter posts the donation behind the current op; wait for it.
	if err := r.do(ctx, func() {}); err != nil {
		return donation.Donation{}, err
	}
	return d, nil
}

// Subscribe returns a channel that receives the current snapshot and every
// later one. A subscriber that falls behind only sees the newest snapshot.
// The channel is closed by cancel or when the runtime closes.
func (r *Runtime) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	id := uuid.New()

	r.subMu.Lock()
	select {
	case <-r.done:
		r.subMu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	r.subs[id] = ch
	if r.published {
		ch <- r.latest
	}
	r.subMu.Unlock()

	cancel := func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		if sub, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Close stops the feed adapter, pending timers and the loop, and closes every
// subscriber channel.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		if err := r.do(context.Background(), r.teardown); err != nil {
			r.logger.Warn("overlay teardown skipped", zap.Error(err))
		}
		r.cancel()
		r.queue.close()
		<-r.done

		r.subMu.Lock()
		for id, ch := range r.subs {
			delete(r.subs, id)
			close(ch)
		}
		r.subMu.Unlock()
		r.logger.Info("overlay runtime stopped")
	})
	return nil
}

func (r *Runtime) run() {
	defer close(r.done)
	for {
		op, ok := r.queue.pop()
		if !ok {
			return
		}
		op()
	}
}

// post schedules op on the loop without waiting.
func (r *Runtime) post(op func()) {
	if !r.queue.push(op) {
		r.logger.Debug("dropping overlay op after close")
	}
}

// do runs op on the loop and waits for it to finish.
func (r *Runtime) do(ctx context.Context, op func()) error {
	finished := make(chan struct{})
	if !r.queue.push(func() {
		defer close(finished)
		op()
	}) {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrClosed
	}
}

// inSession posts op, dropping it when a newer session has started since
// the callback was created.
func (r *Runtime) inSession(session uint64, op func()) {
	r.post(func() {
		if r.session != session {
			return
		}
		op()
	})
}

func (r *Runtime) load(cfg widget.Config) {
	if r.loaded && cfg == r.cfg {
		r.logger.Debug("configuration unchanged, keeping session")
		r.publish()
		return
	}

	r.teardown()
	r.session++
	session := r.session

	state, outcome := r.reconciler.Initialize(cfg)
	r.cfg, r.state, r.loaded, r.connErr = cfg, state, true, nil
	r.logger.Info("overlay session started",
		zap.String("outcome", string(outcome)),
		zap.String("title", cfg.Title),
		zap.Float64("goal", cfg.GoalAmount),
		zap.Float64("current_amount", state.CurrentAmount),
	)
	r.persist()

	opts := append([]feed.Option{
		feed.WithClock(r.clock),
		feed.WithLogger(r.logger.Named("feed")),
	}, r.feedOpts...)
	r.adapter = r.newAdapter(cfg.Feed, r.callbacks(session), opts...)
	if err := r.adapter.Start(r.ctx); err != nil {
		r.logger.Warn("donation feed did not start", zap.Error(err))
		r.connErr = err
	}
	r.publish()
}

func (r *Runtime) callbacks(session uint64) feed.Callbacks {
	return feed.Callbacks{
		OnDonation: func(d donation.Donation) {
			r.inSession(session, func() { r.applyDonation(d) })
		},
		OnConnect: func() {
			r.inSession(session, func() {
				r.connErr = nil
				r.state = progress.SetConnected(r.state, true)
				r.publish()
			})
		},
		OnDisconnect: func() {
			r.inSession(session, func() {
				r.state = progress.SetConnected(r.state, false)
				r.publish()
			})
		},
		OnError: func(err error) {
			r.inSession(session, func() {
				r.connErr = err
				r.publish()
			})
		},
		OnStatus: func(feed.Status) {
			r.inSession(session, r.publish)
		},
	}
}

func (r *Runtime) applyDonation(d donation.Donation) {
	r.state = progress.Apply(r.state, d)
	r.persist()
	r.logger.Info("donation applied",
		zap.String("id", d.ID),
		zap.Float64("amount", d.Amount),
		zap.Float64("current_amount", r.state.CurrentAmount),
		zap.Float64("goal", r.state.GoalAmount),
	)

	if r.resetTimer != nil {
		r.resetTimer.Stop()
	}
	session, id := r.session, d.ID
	r.resetTimer = r.clock.AfterFunc(r.cfg.NotificationDuration, func() {
		r.inSession(session, func() {
			r.state = progress.HideNotification(r.state, id)
			r.publish()
		})
	})
	r.publish()
}

func (r *Runtime) teardown() {
	if r.resetTimer != nil {
		r.resetTimer.Stop()
		r.resetTimer = nil
	}
	if r.adapter != nil {
		r.adapter.Stop()
		r.adapter = nil
	}
}

func (r *Runtime) persist() {
	if err := r.reconciler.Persist(r.state, r.cfg.InitialAmount); err != nil {
		r.logger.Warn("failed to save donation data", zap.Error(err))
	}
}

func (r *Runtime) publish() {
	snap := Snapshot{
		Config:          r.cfg,
		State:           r.state,
		ConnectionError: r.connErr,
	}
	if r.adapter != nil {
		snap.Mode = r.adapter.Mode()
		snap.Status = r.adapter.Status()
	}

	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.latest = snap
	r.published = true
	for _, ch := range r.subs {
		offer(ch, snap)
	}
}

// offer delivers snap, replacing an undelivered older snapshot.
func offer(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}
