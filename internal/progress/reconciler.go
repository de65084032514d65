package progress

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/donation-overlay/internal/donation"
	"github.com/eugenenazirov/donation-overlay/internal/storage"
	"github.com/eugenenazirov/donation-overlay/internal/widget"
)

// Outcome describes which branch Initialize took.
type Outcome string

const (
	// OutcomeResumed means the persisted snapshot was resumed.
	OutcomeResumed Outcome = "resumed"
	// OutcomeReset means a snapshot existed but was discarded for a differing initial amount.
	OutcomeReset Outcome = "reset"
	// OutcomeFresh means no usable snapshot existed.
	OutcomeFresh Outcome = "fresh"
)

// Reconciler decides the starting progress state and persists snapshots.
type Reconciler struct {
	store  storage.Storage
	logger *zap.Logger
	clock  func() time.Time

	honorInitialAmountReset bool
	freshFromConfig         bool
}

// Option configures Reconciler behaviour.
type Option func(*Reconciler)

// WithInitialAmountReset toggles the reset-vs-resume branch driven by the
// initialAmount query parameter. Enabled by default.
func WithInitialAmountReset(enabled bool) Option {
	return func(r *Reconciler) {
		r.honorInitialAmountReset = enabled
	}
}

// WithFreshFromConfig starts a fresh baseline at the configured initial
// amount instead of zero when no query parameter and no snapshot exist.
func WithFreshFromConfig(enabled bool) Option {
	return func(r *Reconciler) {
		r.freshFromConfig = enabled
	}
}

// WithClock overrides the time source used for lastUpdated, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Reconciler) {
		r.clock = clock
	}
}

// NewReconciler constructs a Reconciler over the provided store.
func NewReconciler(store storage.Storage, logger *zap.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  store,
		logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
		honorInitialAmountReset: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize computes the starting state for cfg:
//
//	query initialAmount | snapshot | initial amounts match | result
//	yes                 | yes      | yes                   | resume
//	yes                 | yes      | no                    | clear snapshot, start at initialAmount
//	yes                 | no       | -                     | start at initialAmount
//	no                  | yes      | -                     | resume
//	no                  | no       | -                     | start at 0 (or initialAmount, see WithFreshFromConfig)
//
// An undecodable snapshot counts as absent and is cleared.
func (r *Reconciler) Initialize(cfg widget.Config) (State, Outcome) {
	snap, found := r.load()

	if r.honorInitialAmountReset && cfg.InitialAmountProvided {
		if found {
			if !cfg.InitialAmountMalformed && snap.InitialAmount == cfg.InitialAmount {
				r.logger.Info("resuming persisted progress",
					zap.Float64("initial_amount", cfg.InitialAmount),
					zap.Float64("current_amount", snap.CurrentAmount),
				)
				current := snap.CurrentAmount
				if current == 0 {
					current = cfg.InitialAmount
				}
				return resumed(cfg, current, snap.Donations), OutcomeResumed
			}

			r.logger.Info("initial amount changed, discarding persisted progress",
				zap.Float64("persisted_initial_amount", snap.InitialAmount),
				zap.Float64("initial_amount", cfg.InitialAmount),
			)
			r.clear()
			return fresh(cfg, cfg.InitialAmount), OutcomeReset
		}

		r.logger.Info("starting fresh", zap.Float64("initial_amount", cfg.InitialAmount))
		return fresh(cfg, cfg.InitialAmount), OutcomeFresh
	}

	if found {
		return resumed(cfg, snap.CurrentAmount, snap.Donations), OutcomeResumed
	}

	baseline := 0.0
	if r.freshFromConfig {
		baseline = cfg.InitialAmount
	}
	return fresh(cfg, baseline), OutcomeFresh
}

// Persist writes the snapshot for state. initialAmount is the amount the
// session was constructed with, kept for comparison by future sessions.
func (r *Reconciler) Persist(state State, initialAmount float64) error {
	return WriteSnapshot(r.store, Snapshot{
		CurrentAmount: state.CurrentAmount,
		Donations:     state.Donations,
		InitialAmount: initialAmount,
		LastUpdated:   r.clock(),
	})
}

func (r *Reconciler) load() (Snapshot, bool) {
	snap, err := ReadSnapshot(r.store)
	switch {
	case err == nil:
		return snap, true
	case errors.Is(err, ErrNoSnapshot):
		return Snapshot{}, false
	case errors.Is(err, ErrInvalidSnapshot):
		r.logger.Warn("failed to parse saved donation data, clearing it", zap.Error(err))
		r.clear()
		return Snapshot{}, false
	default:
		r.logger.Warn("failed to read saved donation data", zap.Error(err))
		return Snapshot{}, false
	}
}

func (r *Reconciler) clear() {
	if err := ClearSnapshot(r.store); err != nil {
		r.logger.Warn("failed to clear saved donation data", zap.Error(err))
	}
}

func resumed(cfg widget.Config, current float64, donations []donation.Donation) State {
	s := fresh(cfg, current)
	s.Donations = trimWindow(donations)
	return s
}

func fresh(cfg widget.Config, current float64) State {
	return State{
		CurrentAmount: min(max(current, 0), cfg.GoalAmount),
		GoalAmount:    cfg.GoalAmount,
		Donations:     []donation.Donation{},
	}
}
