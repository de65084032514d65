package progress

import (
	"github.com/shopspring/decimal"

	"github.com/eugenenazirov/donation-overlay/internal/donation"
)

// MaxRecentDonations bounds the trailing donation window.
const MaxRecentDonations = 10

// State is the running aggregate rendered by the overlay. Transitions never
// mutate their input; every function here returns a new value.
type State struct {
	CurrentAmount    float64             `json:"currentAmount"`
	GoalAmount       float64             `json:"goalAmount"`
	LastDonation     *donation.Donation  `json:"lastDonation,omitempty"`
	ShowNotification bool                `json:"showNotification"`
	Connected        bool                `json:"connected"`
	Donations        []donation.Donation `json:"donations"`
}

// Apply folds one donation into the state: the amount is added and clamped
// to the goal, the donation becomes the last one, the notification is shown
// and the trailing window keeps the newest MaxRecentDonations entries.
func Apply(s State, d donation.Donation) State {
	amount := decimal.NewFromFloat(d.Amount)
	if amount.IsNegative() {
		amount = decimal.Zero
	}

	s.CurrentAmount = clamp(decimal.NewFromFloat(s.CurrentAmount).Add(amount), s.GoalAmount)
	last := d
	s.LastDonation = &last
	s.ShowNotification = true
	s.Donations = appendWindow(s.Donations, d)
	return s
}

// HideNotification clears the notification flag, but only while donationID
// is still the most recent donation. A reset scheduled for an older donation
// is a no-op.
func HideNotification(s State, donationID string) State {
	if s.LastDonation != nil && s.LastDonation.ID != donationID {
		return s
	}
	s.ShowNotification = false
	return s
}

// SetConnected records the feed connectivity.
func SetConnected(s State, connected bool) State {
	s.Connected = connected
	return s
}

// Progress returns the completion percentage, capped at 100.
func (s State) Progress() float64 {
	if s.GoalAmount <= 0 {
		return 0
	}
	pct := decimal.NewFromFloat(s.CurrentAmount).
		Div(decimal.NewFromFloat(s.GoalAmount)).
		Mul(decimal.NewFromInt(100))
	return min(pct.InexactFloat64(), 100)
}

// GoalReached reports whether the current amount reached the goal.
func (s State) GoalReached() bool {
	return s.GoalAmount > 0 && s.CurrentAmount >= s.GoalAmount
}

func clamp(amount decimal.Decimal, goal float64) float64 {
	upper := decimal.NewFromFloat(goal)
	if amount.GreaterThan(upper) {
		amount = upper
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount.InexactFloat64()
}

func appendWindow(window []donation.Donation, d donation.Donation) []donation.Donation {
	start := 0
	if len(window)+1 > MaxRecentDonations {
		start = len(window) + 1 - MaxRecentDonations
	}
	out := make([]donation.Donation, 0, len(window)-start+1)
	out = append(out, window[start:]...)
	return append(out, d)
}

func trimWindow(window []donation.Donation) []donation.Donation {
	start := 0
	if len(window) > MaxRecentDonations {
		start = len(window) - MaxRecentDonations
	}
	out := make([]donation.Donation, 0, len(window)-start)
	return append(out, window[start:]...)
}
