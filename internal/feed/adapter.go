package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/donation-overlay/internal/clock"
	"github.com/eugenenazirov/donation-overlay/internal/donation"
	"github.com/eugenenazirov/donation-overlay/internal/widget"
)

// DefaultEndpoint is the provider's real-time endpoint.
const DefaultEndpoint = "wss://realtime.streamelements.com"

// Mode is the feed variant, decided once from the settings.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeTest     Mode = "test"
	ModeLive     Mode = "live"
)

// Status is the adapter's connection state.
type Status string

const (
	StatusDisabled       Status = "disabled"
	StatusDisconnected   Status = "disconnected"
	StatusConnecting     Status = "connecting"
	StatusAuthenticating Status = "authenticating"
	StatusSubscribed     Status = "subscribed"
	StatusError          Status = "error"
)

// Active reports whether the status is one of the connecting, authenticating
// or subscribed phases.
func (s Status) Active() bool {
	return s == StatusConnecting || s == StatusAuthenticating || s == StatusSubscribed
}

// EventSource is the push transport capability the live mode runs on.
type EventSource interface {
	On(event string, handler func(payload json.RawMessage))
	Emit(event string, payload any) error
	Connect(ctx context.Context) error
	Close() error
}

// SourceFactory builds an EventSource for an endpoint.
type SourceFactory func(endpoint string) EventSource

// Callbacks receive the adapter's output. They may be invoked from any
// goroutine and must not block.
type Callbacks struct {
	OnDonation   func(donation.Donation)
	OnConnect    func()
	OnDisconnect func()
	OnError      func(error)
	// OnStatus fires on every status change, including transitions that
	// carry no other callback such as authenticating to subscribed.
	OnStatus func(Status)
}

// Adapter turns the configured feed into donation callbacks.
type Adapter struct {
	settings  widget.FeedSettings
	callbacks Callbacks
	logger    *zap.Logger
	clock     clock.Clock
	pick      func(n int) int
	newSource SourceFactory

	endpoint       string
	testInterval   time.Duration
	demoStartDelay time.Duration
	demoInterval   time.Duration

	mu      sync.Mutex
	status  Status
	lastErr error
	source  EventSource
	timers  []clock.Timer
	started bool
	stopped bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// WithClock overrides the scheduler, primarily for tests.
func WithClock(c clock.Clock) Option {
	return func(a *Adapter) {
		a.clock = c
	}
}

// WithPicker overrides the random draw over the test pool.
func WithPicker(pick func(n int) int) Option {
	return func(a *Adapter) {
		a.pick = pick
	}
}

// WithSourceFactory sets how the live transport is built.
func WithSourceFactory(factory SourceFactory) Option {
	return func(a *Adapter) {
		a.newSource = factory
	}
}

// WithEndpoint overrides the provider endpoint.
func WithEndpoint(endpoint string) Option {
	return func(a *Adapter) {
		if endpoint != "" {
			a.endpoint = endpoint
		}
	}
}

// WithTestInterval sets how often test mode synthesizes a donation.
func WithTestInterval(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.testInterval = d
		}
	}
}

// WithDemoSchedule sets the demo start delay and the gap between demo donations.
func WithDemoSchedule(startDelay, interval time.Duration) Option {
	return func(a *Adapter) {
		if startDelay >= 0 {
			a.demoStartDelay = startDelay
		}
		if interval > 0 {
			a.demoInterval = interval
		}
	}
}

// New constructs an adapter for settings. Nothing runs until Start.
func New(settings widget.FeedSettings, callbacks Callbacks, opts ...Option) *Adapter {
	a := &Adapter{
		settings:       settings,
		callbacks:      callbacks,
		logger:         zap.NewNop(),
		clock:          clock.System(),
		pick:           rand.IntN,
		endpoint:       DefaultEndpoint,
		testInterval:   15 * time.Second,
		demoStartDelay: 3 * time.Second,
		demoInterval:   8 * time.Second,
		status:         StatusDisconnected,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.Mode() == ModeDisabled {
		a.status = StatusDisabled
	}
	return a
}

// Mode reports which feed variant the settings select.
func (a *Adapter) Mode() Mode {
	switch {
	case !a.settings.Enabled:
		return ModeDisabled
	case a.settings.TestMode:
		return ModeTest
	default:
		return ModeLive
	}
}

// Status returns the current connection state.
func (a *Adapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Err returns the last reported error, cleared on a successful connect.
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// Start begins the selected mode. Live mode without credentials returns
// ErrMissingCredentials and makes no connection attempt.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return ErrStopped
	}
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.mu.Unlock()

	switch a.Mode() {
	case ModeTest:
		a.startTest()
		return nil
	case ModeLive:
		return a.startLive(ctx)
	default:
		a.startDemo()
		return nil
	}
}

// Stop releases the transport, its handlers and every pending timer. Callbacks
// that have not started yet are suppressed.
func (a *Adapter) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	timers := a.timers
	a.timers = nil
	source := a.source
	a.source = nil
	a.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	if source != nil {
		if err := source.Close(); err != nil {
			a.logger.Warn("failed to close feed transport", zap.Error(err))
		}
	}
	a.logger.Debug("feed adapter stopped", zap.String("mode", string(a.Mode())))
}

// TestDonation draws one donation from the test pool and delivers it
// immediately, independent of the interval.
func (a *Adapter) TestDonation() (donation.Donation, error) {
	if a.Mode() != ModeTest {
		return donation.Donation{}, ErrTestModeDisabled
	}
	if a.isStopped() {
		return donation.Donation{}, ErrStopped
	}
	return a.emitTestDonation(), nil
}

func (a *Adapter) startTest() {
	a.logger.Info("feed test mode enabled", zap.Duration("interval", a.testInterval))
	a.setStatus(StatusSubscribed, nil)
	a.deliver(func() { call(a.callbacks.OnConnect) })
	a.track(a.clock.Every(a.testInterval, func() {
		a.emitTestDonation()
	}))
}

func (a *Adapter) emitTestDonation() donation.Donation {
	pool := donation.TestPool()
	now := a.clock.Now()
	d := pool[a.pick(len(pool))].Materialize(donation.TestID(now), now)
	a.logger.Info("simulating test donation", zap.String("id", d.ID), zap.Float64("amount", d.Amount))
	a.donate(d)
	return d
}

func (a *Adapter) startDemo() {
	a.logger.Info("feed disabled, replaying demo donations",
		zap.Duration("start_delay", a.demoStartDelay),
		zap.Duration("interval", a.demoInterval),
	)
	script := donation.DemoScript()
	a.track(a.clock.AfterFunc(a.demoStartDelay, func() {
		var (
			mu    sync.Mutex
			index int
			tick  clock.Timer
		)
		mu.Lock()
		defer mu.Unlock()
		tick = a.clock.Every(a.demoInterval, func() {
			mu.Lock()
			defer mu.Unlock()
			if index >= len(script) {
				return
			}
			now := a.clock.Now()
			a.donate(script[index].Materialize(donation.DemoID(now, index), now))
			index++
			if index == len(script) {
				tick.Stop()
			}
		})
		a.track(tick)
	}))
}

func (a *Adapter) startLive(ctx context.Context) error {
	if a.settings.Token == "" || a.settings.ChannelID == "" {
		a.setStatus(StatusError, ErrMissingCredentials)
		return ErrMissingCredentials
	}
	if a.newSource == nil {
		err := fmt.Errorf("%w: no transport configured", ErrConnectionFailed)
		a.setStatus(StatusError, err)
		return err
	}

	a.checkToken()

	source := a.newSource(a.endpoint)
	source.On("connect", func(json.RawMessage) { a.handleConnect(source) })
	source.On("authenticated", func(payload json.RawMessage) { a.handleAuthenticated(source, payload) })
	source.On("unauthorized", a.handleUnauthorized)
	source.On("disconnect", a.handleDisconnect)
	source.On("event", a.handleEvent)
	source.On("connect_error", a.handleConnectError)

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		_ = source.Close()
		return ErrStopped
	}
	a.source = source
	a.status = StatusConnecting
	a.mu.Unlock()

	a.logger.Info("connecting to donation feed", zap.String("endpoint", a.endpoint))
	if err := source.Connect(ctx); err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		a.setStatus(StatusError, wrapped)
		return wrapped
	}
	return nil
}

func (a *Adapter) checkToken() {
	info, err := InspectToken(a.settings.Token, a.clock.Now())
	switch {
	case errors.Is(err, ErrTokenExpired):
		a.logger.Warn("feed token appears expired", zap.Time("expires_at", info.ExpiresAt))
	case err != nil:
		a.logger.Warn("feed token could not be inspected", zap.Error(err))
	}
	if info.Channel != "" && info.Channel != a.settings.ChannelID {
		a.logger.Warn("feed token belongs to a different channel",
			zap.String("token_channel", info.Channel),
			zap.String("channel_id", a.settings.ChannelID),
		)
	}
}

func (a *Adapter) handleConnect(source EventSource) {
	if a.isStopped() {
		return
	}
	a.logger.Info("connected to donation feed")
	a.setStatus(StatusAuthenticating, nil)
	a.deliver(func() { call(a.callbacks.OnConnect) })

	err := source.Emit("authenticate", map[string]string{
		"method": "jwt",
		"token":  a.settings.Token,
	})
	if err != nil {
		a.logger.Warn("failed to send authenticate request", zap.Error(err))
	}
}

func (a *Adapter) handleAuthenticated(source EventSource, payload json.RawMessage) {
	if a.isStopped() {
		return
	}
	a.logger.Info("donation feed authenticated", zap.ByteString("payload", payload))
	if err := source.Emit("join", a.settings.ChannelID); err != nil {
		a.logger.Warn("failed to join channel", zap.Error(err))
		return
	}
	a.setStatus(StatusSubscribed, nil)
}

func (a *Adapter) handleUnauthorized(payload json.RawMessage) {
	if a.isStopped() {
		return
	}
	a.logger.Error("donation feed authentication failed", zap.ByteString("payload", payload))
	a.setStatus(StatusError, ErrUnauthorized)
	a.deliver(func() {
		callErr(a.callbacks.OnError, ErrUnauthorized)
		call(a.callbacks.OnDisconnect)
	})
}

func (a *Adapter) handleDisconnect(payload json.RawMessage) {
	if a.isStopped() {
		return
	}
	var reason string
	_ = json.Unmarshal(payload, &reason)
	a.logger.Info("donation feed disconnected", zap.String("reason", reason))

	a.mu.Lock()
	if a.status != StatusError {
		a.status = StatusDisconnected
	}
	a.mu.Unlock()
	a.deliver(func() { call(a.callbacks.OnDisconnect) })
}

func (a *Adapter) handleEvent(payload json.RawMessage) {
	if a.isStopped() {
		return
	}
	var event ProviderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		a.logger.Warn("dropping undecodable feed event", zap.Error(err))
		return
	}
	if !event.IsDonation() {
		a.logger.Debug("ignoring feed event", zap.String("type", event.Type))
		return
	}

	d := Translate(event, a.clock.Now(), randomSuffix())
	a.logger.Info("processing donation", zap.String("id", d.ID), zap.String("donor", d.Donor), zap.Float64("amount", d.Amount))
	a.donate(d)
}

func (a *Adapter) handleConnectError(payload json.RawMessage) {
	if a.isStopped() {
		return
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.Message == "" {
		body.Message = string(payload)
	}
	err := fmt.Errorf("%w: %s", ErrConnectionFailed, body.Message)
	a.logger.Error("donation feed connection error", zap.Error(err))
	a.setStatus(StatusError, err)
	a.deliver(func() {
		callErr(a.callbacks.OnError, err)
		call(a.callbacks.OnDisconnect)
	})
}

func (a *Adapter) donate(d donation.Donation) {
	a.deliver(func() {
		if a.callbacks.OnDonation != nil {
			a.callbacks.OnDonation(d)
		}
	})
}

// deliver runs fn unless the adapter was stopped.
func (a *Adapter) deliver(fn func()) {
	if a.isStopped() {
		return
	}
	fn()
}

func (a *Adapter) setStatus(status Status, err error) {
	a.mu.Lock()
	changed := a.status != status
	a.status = status
	a.lastErr = err
	a.mu.Unlock()

	if changed && a.callbacks.OnStatus != nil {
		a.deliver(func() { a.callbacks.OnStatus(status) })
	}
}

func (a *Adapter) track(t clock.Timer) {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		t.Stop()
		return
	}
	a.timers = append(a.timers, t)
	a.mu.Unlock()
}

func (a *Adapter) isStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}

func callErr(fn func(error), err error) {
	if fn != nil {
		fn(err)
	}
}
