package feed

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/donation-overlay/internal/clock"
	"github.com/eugenenazirov/donation-overlay/internal/donation"
	"github.com/eugenenazirov/donation-overlay/internal/widget"
)

type emitted struct {
	event   string
	payload any
}

type fakeSource struct {
	mu         sync.Mutex
	handlers   map[string]func(json.RawMessage)
	emits      []emitted
	connected  bool
	closed     bool
	connectErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{handlers: make(map[string]func(json.RawMessage))}
}

func (f *fakeSource) On(event string, handler func(json.RawMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = handler
}

func (f *fakeSource) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emitted{event: event, payload: payload})
	return nil
}

func (f *fakeSource) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return f.connectErr
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) fire(event string, payload string) {
	f.mu.Lock()
	handler := f.handlers[event]
	f.mu.Unlock()
	if handler != nil {
		handler(json.RawMessage(payload))
	}
}

func (f *fakeSource) sent() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]emitted, len(f.emits))
	copy(out, f.emits)
	return out
}

type recorder struct {
	mu          sync.Mutex
	donations   []donation.Donation
	connects    int
	disconnects int
	errs        []error
	statuses    []Status
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnDonation: func(d donation.Donation) {
			r.mu.Lock()
			r.donations = append(r.donations, d)
			r.mu.Unlock()
		},
		OnConnect: func() {
			r.mu.Lock()
			r.connects++
			r.mu.Unlock()
		},
		OnDisconnect: func() {
			r.mu.Lock()
			r.disconnects++
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnStatus: func(s Status) {
			r.mu.Lock()
			r.statuses = append(r.statuses, s)
			r.mu.Unlock()
		},
	}
}

var start = time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)

func newLiveAdapter(t *testing.T, rec *recorder, source *fakeSource) *Adapter {
	t.Helper()
	settings := widget.FeedSettings{Enabled: true, Token: "token", ChannelID: "channel-1"}
	return New(settings, rec.callbacks(),
		WithLogger(zaptest.NewLogger(t)),
		WithClock(clock.NewManual(start)),
		WithSourceFactory(func(string) EventSource { return source }),
	)
}

func TestModeSelection(t *testing.T) {
	assert.Equal(t, ModeDisabled, New(widget.FeedSettings{TestMode: true}, Callbacks{}).Mode())
	assert.Equal(t, ModeTest, New(widget.FeedSettings{Enabled: true, TestMode: true}, Callbacks{}).Mode())
	assert.Equal(t, ModeLive, New(widget.FeedSettings{Enabled: true}, Callbacks{}).Mode())
}

func TestTestModeReportsConnectedAndTicks(t *testing.T) {
	rec := &recorder{}
	manual := clock.NewManual(start)
	adapter := New(widget.FeedSettings{Enabled: true, TestMode: true}, rec.callbacks(),
		WithClock(manual),
		WithPicker(func(int) int { return 3 }),
	)

	require.NoError(t, adapter.Start(context.Background()))
	assert.Equal(t, 1, rec.connects)
	assert.Equal(t, StatusSubscribed, adapter.Status())

	manual.Advance(45 * time.Second)
	require.Len(t, rec.donations, 3)
	assert.Equal(t, "BigTestDonor", rec.donations[0].Donor)
	assert.Equal(t, 100.0, rec.donations[0].Amount)

	adapter.Stop()
	manual.Advance(time.Minute)
	assert.Len(t, rec.donations, 3)
	assert.Zero(t, manual.Pending())
}

func TestManualTestDonationDrawsFromPool(t *testing.T) {
	rec := &recorder{}
	adapter := New(widget.FeedSettings{Enabled: true, TestMode: true}, rec.callbacks(),
		WithClock(clock.NewManual(start)),
	)
	require.NoError(t, adapter.Start(context.Background()))

	d, err := adapter.TestDonation()
	require.NoError(t, err)
	require.Len(t, rec.donations, 1)
	assert.Equal(t, d, rec.donations[0])
	assert.True(t, strings.HasPrefix(d.ID, "test-"), "unexpected id %s", d.ID)

	found := false
	for _, sample := range donation.TestPool() {
		if sample.Donor == d.Donor && sample.Amount == d.Amount && sample.Message == d.Message {
			found = true
		}
	}
	assert.True(t, found, "donation %+v not drawn from the test pool", d)
}

func TestTestDonationRequiresTestMode(t *testing.T) {
	adapter := New(widget.FeedSettings{}, Callbacks{}, WithClock(clock.NewManual(start)))
	_, err := adapter.TestDonation()
	assert.ErrorIs(t, err, ErrTestModeDisabled)
}

func TestDemoModeReplaysScriptOnce(t *testing.T) {
	rec := &recorder{}
	manual := clock.NewManual(start)
	adapter := New(widget.FeedSettings{}, rec.callbacks(), WithClock(manual))
	require.NoError(t, adapter.Start(context.Background()))
	assert.Equal(t, StatusDisabled, adapter.Status())

	manual.Advance(2 * time.Second)
	assert.Empty(t, rec.donations)

	manual.Advance(time.Second + 8*time.Second)
	require.Len(t, rec.donations, 1)
	assert.Equal(t, "StreamFan123", rec.donations[0].Donor)
	assert.True(t, strings.HasPrefix(rec.donations[0].ID, "demo-"))
	assert.True(t, strings.HasSuffix(rec.donations[0].ID, "-0"))

	manual.Advance(10 * time.Minute)
	require.Len(t, rec.donations, 5)
	assert.Equal(t, "TechNinja", rec.donations[4].Donor)
	assert.Zero(t, manual.Pending(), "demo interval should stop after one pass")
}

func TestDemoModeStopBeforeDelay(t *testing.T) {
	rec := &recorder{}
	manual := clock.NewManual(start)
	adapter := New(widget.FeedSettings{}, rec.callbacks(), WithClock(manual))
	require.NoError(t, adapter.Start(context.Background()))

	adapter.Stop()
	manual.Advance(time.Hour)
	assert.Empty(t, rec.donations)
	assert.Zero(t, manual.Pending())
}

func TestLiveModeRequiresCredentials(t *testing.T) {
	for _, settings := range []widget.FeedSettings{
		{Enabled: true, ChannelID: "c"},
		{Enabled: true, Token: "t"},
	} {
		built := false
		adapter := New(settings, Callbacks{}, WithSourceFactory(func(string) EventSource {
			built = true
			return newFakeSource()
		}))

		err := adapter.Start(context.Background())
		assert.ErrorIs(t, err, ErrMissingCredentials)
		assert.False(t, built, "no connection should be attempted")
		assert.Equal(t, StatusError, adapter.Status())
	}
}

func TestLiveModeHandshake(t *testing.T) {
	rec := &recorder{}
	source := newFakeSource()
	adapter := newLiveAdapter(t, rec, source)

	require.NoError(t, adapter.Start(context.Background()))
	assert.True(t, source.connected)
	assert.Equal(t, StatusConnecting, adapter.Status())

	source.fire("connect", "null")
	assert.Equal(t, 1, rec.connects)
	assert.Equal(t, StatusAuthenticating, adapter.Status())
	require.Len(t, source.sent(), 1)
	assert.Equal(t, "authenticate", source.sent()[0].event)
	assert.Equal(t, map[string]string{"method": "jwt", "token": "token"}, source.sent()[0].payload)

	source.fire("authenticated", `{"channelId":"channel-1"}`)
	require.Len(t, source.sent(), 2)
	assert.Equal(t, emitted{event: "join", payload: "channel-1"}, source.sent()[1])
	assert.Equal(t, StatusSubscribed, adapter.Status())
	assert.Equal(t, []Status{StatusAuthenticating, StatusSubscribed}, rec.statuses)
}

func TestLiveModeTranslatesDonationEvents(t *testing.T) {
	rec := &recorder{}
	source := newFakeSource()
	adapter := newLiveAdapter(t, rec, source)
	require.NoError(t, adapter.Start(context.Background()))

	source.fire("event", `{"type":"donation","data":{"amount":"12.5","username":"user1","displayName":"User One","message":"hi"}}`)
	source.fire("event", `{"type":"tip","data":{"amount":"lots","username":"user2"}}`)
	source.fire("event", `{"type":"follower","data":{"username":"ignored"}}`)
	source.fire("event", `{"type":"tip","data":{}}`)

	require.Len(t, rec.donations, 3)
	assert.Equal(t, 12.5, rec.donations[0].Amount)
	assert.Equal(t, "User One", rec.donations[0].Donor)
	assert.Equal(t, "hi", rec.donations[0].Message)
	assert.True(t, strings.HasPrefix(rec.donations[0].ID, "se-"))

	assert.Equal(t, 0.0, rec.donations[1].Amount)
	assert.Equal(t, "user2", rec.donations[1].Donor)

	assert.Equal(t, donation.AnonymousDonor, rec.donations[2].Donor)
	assert.Empty(t, rec.donations[2].Message)
}

func TestLiveModeUnauthorized(t *testing.T) {
	rec := &recorder{}
	source := newFakeSource()
	adapter := newLiveAdapter(t, rec, source)
	require.NoError(t, adapter.Start(context.Background()))

	source.fire("connect", "null")
	source.fire("unauthorized", `{"message":"bad token"}`)

	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], ErrUnauthorized)
	assert.Equal(t, 1, rec.disconnects)
	assert.Equal(t, StatusError, adapter.Status())
}

func TestLiveModeConnectError(t *testing.T) {
	rec := &recorder{}
	source := newFakeSource()
	adapter := newLiveAdapter(t, rec, source)
	require.NoError(t, adapter.Start(context.Background()))

	source.fire("connect_error", `{"message":"websocket error"}`)

	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], ErrConnectionFailed)
	assert.Contains(t, rec.errs[0].Error(), "websocket error")
	assert.Equal(t, StatusError, adapter.Status())
}

func TestLiveModeDisconnect(t *testing.T) {
	rec := &recorder{}
	source := newFakeSource()
	adapter := newLiveAdapter(t, rec, source)
	require.NoError(t, adapter.Start(context.Background()))

	source.fire("connect", "null")
	source.fire("disconnect", `"transport close"`)

	assert.Equal(t, 1, rec.disconnects)
	assert.Equal(t, StatusDisconnected, adapter.Status())
}

func TestLiveModeConnectFailure(t *testing.T) {
	rec := &recorder{}
	source := newFakeSource()
	source.connectErr = errors.New("closed")
	adapter := newLiveAdapter(t, rec, source)

	err := adapter.Start(context.Background())
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, StatusError, adapter.Status())
}

func TestStopReleasesTransportAndSuppressesCallbacks(t *testing.T) {
	rec := &recorder{}
	source := newFakeSource()
	adapter := newLiveAdapter(t, rec, source)
	require.NoError(t, adapter.Start(context.Background()))

	adapter.Stop()
	assert.True(t, source.closed)

	source.fire("connect", "null")
	source.fire("event", `{"type":"tip","data":{"amount":5}}`)
	assert.Zero(t, rec.connects)
	assert.Empty(t, rec.donations)
	assert.ErrorIs(t, adapter.Start(context.Background()), ErrStopped)
}

func TestCoerceAmount(t *testing.T) {
	tests := map[string]float64{
		`12.5`:     12.5,
		`"12.5"`:   12.5,
		`" 7 "`:    7,
		`"abc"`:    0,
		`""`:       0,
		`null`:     0,
		`true`:     1,
		`false`:    0,
		`-3`:       0,
		`"1e2"`:    100,
		`{"a":1}`:  0,
		``:         0,
		`[1]`:      0,
	}
	for raw, want := range tests {
		assert.Equal(t, want, coerceAmount(json.RawMessage(raw)), "raw %q", raw)
	}
}

func TestRandomSuffixShape(t *testing.T) {
	suffix := randomSuffix()
	assert.Len(t, suffix, 9)
	assert.Equal(t, strings.ToLower(suffix), suffix)
}

func TestInspectToken(t *testing.T) {
	sign := func(claims jwt.MapClaims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)
		return token
	}

	valid := sign(jwt.MapClaims{"channel": "chan", "exp": start.Add(time.Hour).Unix()})
	info, err := InspectToken(valid, start)
	require.NoError(t, err)
	assert.Equal(t, "chan", info.Channel)

	expired := sign(jwt.MapClaims{"exp": start.Add(-time.Hour).Unix()})
	_, err = InspectToken(expired, start)
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, err = InspectToken("not-a-jwt", start)
	assert.ErrorIs(t, err, ErrMalformedToken)
}
