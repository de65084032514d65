package api

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/eugenenazirov/donation-overlay/internal/donation"
	"github.com/eugenenazirov/donation-overlay/internal/feed"
	"github.com/eugenenazirov/donation-overlay/internal/overlay"
	"github.com/eugenenazirov/donation-overlay/internal/widget"
)

// overlayView is what the overlay page renders.
type overlayView struct {
	Title                  string         `json:"title"`
	Currency               string         `json:"currency"`
	GoalAmount             float64        `json:"goalAmount"`
	CurrentAmount          float64        `json:"currentAmount"`
	InitialAmount          float64        `json:"initialAmount"`
	FormattedGoal          string         `json:"formattedGoal"`
	FormattedCurrent       string         `json:"formattedCurrent"`
	Percentage             float64        `json:"percentage"`
	GoalReached            bool           `json:"goalReached"`
	ShowLastDonation       bool           `json:"showLastDonation"`
	ShowNotification       bool           `json:"showNotification"`
	AnimationDurationMs    int64          `json:"animationDurationMs"`
	NotificationDurationMs int64          `json:"notificationDurationMs"`
	Colors                 widget.Colors  `json:"colors"`
	LastDonation           *donationView  `json:"lastDonation,omitempty"`
	Donations              []donationView `json:"donations"`
	Connected              bool           `json:"connected"`
	FeedMode               string         `json:"feedMode"`
	FeedStatus             string         `json:"feedStatus"`
	ConnectionError        string         `json:"connectionError,omitempty"`
}

type donationView struct {
	ID              string    `json:"id"`
	Amount          float64   `json:"amount"`
	FormattedAmount string    `json:"formattedAmount"`
	Donor           string    `json:"donor"`
	Message         string    `json:"message,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// amountPrinter formats amounts with the currency symbol prefixed, grouped
// according to the locale.
type amountPrinter struct {
	printer  *message.Printer
	currency string
}

func newAmountPrinter(tag language.Tag, currency string) amountPrinter {
	return amountPrinter{printer: message.NewPrinter(tag), currency: currency}
}

func (p amountPrinter) format(amount float64) string {
	return p.currency + p.printer.Sprint(number.Decimal(amount, number.MaxFractionDigits(2)))
}

func renderView(snap overlay.Snapshot, tag language.Tag) overlayView {
	cfg, state := snap.Config, snap.State
	printer := newAmountPrinter(tag, cfg.Currency)

	view := overlayView{
		Title:                  cfg.Title,
		Currency:               cfg.Currency,
		GoalAmount:             state.GoalAmount,
		CurrentAmount:          state.CurrentAmount,
		InitialAmount:          cfg.InitialAmount,
		FormattedGoal:          printer.format(state.GoalAmount),
		FormattedCurrent:       printer.format(state.CurrentAmount),
		Percentage:             state.Progress(),
		GoalReached:            state.GoalReached(),
		ShowLastDonation:       cfg.ShowLastDonation,
		ShowNotification:       state.ShowNotification,
		AnimationDurationMs:    cfg.AnimationDuration.Milliseconds(),
		NotificationDurationMs: cfg.NotificationDuration.Milliseconds(),
		Colors:                 cfg.Colors,
		Donations:              make([]donationView, 0, len(state.Donations)),
		Connected:              state.Connected,
		FeedMode:               string(snap.Mode),
		FeedStatus:             string(snap.Status),
	}
	if snap.ConnectionError != nil {
		view.ConnectionError = connectionErrorText(snap.ConnectionError)
	}
	if state.LastDonation != nil {
		last := renderDonation(*state.LastDonation, printer)
		view.LastDonation = &last
	}
	for _, d := range state.Donations {
		view.Donations = append(view.Donations, renderDonation(d, printer))
	}
	return view
}

func renderDonation(d donation.Donation, printer amountPrinter) donationView {
	return donationView{
		ID:              d.ID,
		Amount:          d.Amount,
		FormattedAmount: printer.format(d.Amount),
		Donor:           d.Donor,
		Message:         d.Message,
		Timestamp:       d.Timestamp,
	}
}

// connectionErrorText turns feed errors into the text the overlay shows.
func connectionErrorText(err error) string {
	switch {
	case errors.Is(err, feed.ErrMissingCredentials):
		return "Missing JWT token or Channel ID"
	case errors.Is(err, feed.ErrUnauthorized):
		return "Authentication failed"
	case errors.Is(err, feed.ErrConnectionFailed):
		detail := strings.TrimPrefix(err.Error(), feed.ErrConnectionFailed.Error())
		return "Connection failed" + detail
	default:
		return err.Error()
	}
}
