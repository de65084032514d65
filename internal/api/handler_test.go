package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"golang.org/x/net/websocket"
	"golang.org/x/text/language"

	"github.com/eugenenazirov/donation-overlay/internal/donation"
	"github.com/eugenenazirov/donation-overlay/internal/feed"
	"github.com/eugenenazirov/donation-overlay/internal/overlay"
	"github.com/eugenenazirov/donation-overlay/internal/progress"
	"github.com/eugenenazirov/donation-overlay/internal/widget"
)

var fixedNow = time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)

// fakeOverlay records calls and serves canned snapshots.
type fakeOverlay struct {
	mu         sync.Mutex
	snap       overlay.Snapshot
	loaded     bool
	lastParams url.Values
	testErr    error
	subs       []chan overlay.Snapshot
}

func newFakeOverlay() *fakeOverlay {
	cfg := widget.Defaults()
	return &fakeOverlay{
		snap: overlay.Snapshot{
			Config: cfg,
			State:  progress.State{GoalAmount: cfg.GoalAmount, Donations: []donation.Donation{}},
			Mode:   feed.ModeDisabled,
			Status: feed.StatusDisabled,
		},
	}
}

func (f *fakeOverlay) Load(_ context.Context, params url.Values) (overlay.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastParams = params
	f.loaded = true
	if title := params.Get("title"); title != "" {
		f.snap.Config.Title = title
	}
	return f.snap, nil
}

func (f *fakeOverlay) Current() (overlay.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.loaded {
		return overlay.Snapshot{}, overlay.ErrNotLoaded
	}
	return f.snap, nil
}

func (f *fakeOverlay) TestDonation(context.Context) (donation.Donation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.testErr != nil {
		return donation.Donation{}, f.testErr
	}
	d := donation.Donation{ID: "test-1", Amount: 25, Donor: "TestUser2", Message: "Love the stream!", Timestamp: fixedNow}
	f.snap.State = progress.Apply(f.snap.State, d)
	return d, nil
}

func (f *fakeOverlay) Subscribe() (<-chan overlay.Snapshot, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan overlay.Snapshot, 1)
	ch <- f.snap
	f.subs = append(f.subs, ch)
	return ch, func() {}
}

func (f *fakeOverlay) publish(snap overlay.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = snap
	for _, ch := range f.subs {
		ch <- snap
	}
}

func (f *fakeOverlay) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func setupTestRouter(t *testing.T, opts ...RouterOption) (http.Handler, *fakeOverlay) {
	t.Helper()

	ov := newFakeOverlay()
	handler := NewHandler(ov, WithClock(func() time.Time { return fixedNow }), WithHandlerLogger(zaptest.NewLogger(t)))
	logger := zaptest.NewLogger(t)
	router := NewRouter(handler, logger, append([]RouterOption{WithLogging(false)}, opts...)...)

	return router, ov
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) overlayView {
	t.Helper()
	var view overlayView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return view
}

func TestRequestIDHelpers(t *testing.T) {
	ctx := context.WithValue(context.Background(), requestIDContextKey, "abc")
	if got := requestIDFromContext(ctx); got != "abc" {
		t.Fatalf("expected abc, got %s", got)
	}
	resp := httptest.NewRecorder()
	writeInternalError(resp, assertError("boom"))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.Code)
	}
}

type assertError string

func (a assertError) Error() string { return string(a) }

func TestHealthEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if body.Status != "ok" {
		t.Fatalf("expected status ok, got %s", body.Status)
	}
	if !body.Timestamp.Equal(fixedNow) {
		t.Fatalf("expected timestamp %s, got %s", fixedNow, body.Timestamp)
	}
}

func TestStateBeforeLoad(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before load, got %d", rec.Code)
	}
}

func TestLoadPassesQueryAndRendersView(t *testing.T) {
	router, ov := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/load?goal=500&title=Charity&initialAmount=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := ov.lastParams.Get("initialAmount"); got != "10" {
		t.Fatalf("expected initialAmount to be forwarded, got %q", got)
	}

	view := decodeView(t, rec)
	if view.Title != "Charity" {
		t.Fatalf("unexpected title %q", view.Title)
	}
	if view.FormattedGoal != "$1,000" {
		t.Fatalf("unexpected formatted goal %q", view.FormattedGoal)
	}
	if view.FeedMode != string(feed.ModeDisabled) || view.FeedStatus != string(feed.StatusDisabled) {
		t.Fatalf("unexpected feed fields: %s %s", view.FeedMode, view.FeedStatus)
	}
	if view.Donations == nil {
		t.Fatalf("donations must encode as an empty list")
	}
	if view.NotificationDurationMs != 5000 || view.AnimationDurationMs != 300 {
		t.Fatalf("unexpected durations: %d %d", view.NotificationDurationMs, view.AnimationDurationMs)
	}
}

func TestLoadRejectsGet(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/load", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestTestDonationAccepted(t *testing.T) {
	router, ov := setupTestRouter(t)
	ov.loaded = true

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/test-donation", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	var body testDonationResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Donation.ID != "test-1" || body.Donation.FormattedAmount != "$25" {
		t.Fatalf("unexpected donation: %+v", body.Donation)
	}
	if body.State.CurrentAmount != 25 || !body.State.ShowNotification {
		t.Fatalf("unexpected state: %+v", body.State)
	}
	if body.State.LastDonation == nil || body.State.LastDonation.Donor != "TestUser2" {
		t.Fatalf("expected last donation in state")
	}
	if body.Message != "Test donation applied" {
		t.Fatalf("unexpected message %q", body.Message)
	}
}

func TestTestDonationConflictOutsideTestMode(t *testing.T) {
	router, ov := setupTestRouter(t)
	ov.testErr = feed.ErrTestModeDisabled

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/test-donation", nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Suggestion == "" {
		t.Fatalf("expected a suggestion for enabling test mode")
	}
}

func TestTestDonationHasOwnLimiter(t *testing.T) {
	router, ov := setupTestRouter(t, WithTestDonationLimiter(&staticLimiter{allow: false}))
	ov.loaded = true

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/test-donation", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("state should not share the test donation limiter, got %d", rec.Code)
	}
}

func TestWriteOverlayErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{feed.ErrTestModeDisabled, http.StatusConflict},
		{overlay.ErrNotLoaded, http.StatusServiceUnavailable},
		{overlay.ErrClosed, http.StatusServiceUnavailable},
		{context.Canceled, http.StatusServiceUnavailable},
		{assertError("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeOverlayError(rec, tt.err)
		if rec.Code != tt.want {
			t.Fatalf("%v: expected %d, got %d", tt.err, tt.want, rec.Code)
		}
	}
}

func TestConnectionErrorText(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"missing credentials", feed.ErrMissingCredentials, "Missing JWT token or Channel ID"},
		{"unauthorized", feed.ErrUnauthorized, "Authentication failed"},
		{"connect error", fmt.Errorf("%w: %s", feed.ErrConnectionFailed, "websocket error"), "Connection failed: websocket error"},
		{"bare connect failure", feed.ErrConnectionFailed, "Connection failed"},
		{"other", assertError("boom"), "boom"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := connectionErrorText(tc.err); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestRenderViewFormatting(t *testing.T) {
	cfg := widget.Defaults()
	cfg.Currency = "€"
	cfg.GoalAmount = 2500
	state := progress.State{GoalAmount: 2500, Donations: []donation.Donation{}}
	state = progress.Apply(state, donation.Donation{ID: "a", Amount: 1234.5, Donor: "Fan"})
	snap := overlay.Snapshot{Config: cfg, State: state, ConnectionError: feed.ErrUnauthorized}

	view := renderView(snap, language.German)
	if view.FormattedCurrent != "€1.234,5" {
		t.Fatalf("unexpected german amount %q", view.FormattedCurrent)
	}
	if view.FormattedGoal != "€2.500" {
		t.Fatalf("unexpected german goal %q", view.FormattedGoal)
	}

	view = renderView(snap, language.AmericanEnglish)
	if view.FormattedCurrent != "€1,234.5" {
		t.Fatalf("unexpected english amount %q", view.FormattedCurrent)
	}
	if view.Percentage < 49.37 || view.Percentage > 49.39 {
		t.Fatalf("unexpected percentage %v", view.Percentage)
	}
	if view.GoalReached {
		t.Fatalf("goal should not be reached")
	}
	if view.ConnectionError != "Authentication failed" {
		t.Fatalf("unexpected connection error %q", view.ConnectionError)
	}
	if len(view.Donations) != 1 || view.LastDonation == nil || view.LastDonation.FormattedAmount != "€1,234.5" {
		t.Fatalf("unexpected donations: %+v", view.Donations)
	}
}

func TestStateStreamPushesSnapshots(t *testing.T) {
	router, ov := setupTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var first overlayView
	if err := websocket.JSON.Receive(conn, &first); err != nil {
		t.Fatalf("receive initial view: %v", err)
	}
	if first.Title != "Custom VTuber Model" {
		t.Fatalf("unexpected initial title %q", first.Title)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ov.subscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	next := ov.snap
	next.State = progress.Apply(next.State, donation.Donation{ID: "live", Amount: 42, Donor: "Viewer"})
	ov.publish(next)

	var second overlayView
	if err := websocket.JSON.Receive(conn, &second); err != nil {
		t.Fatalf("receive update: %v", err)
	}
	if second.CurrentAmount != 42 || second.LastDonation == nil || second.LastDonation.ID != "live" {
		t.Fatalf("unexpected pushed view: %+v", second)
	}
}
