package feed

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eugenenazirov/donation-overlay/internal/donation"
)

// ProviderEvent is the payload of an inbound "event" message.
type ProviderEvent struct {
	Type     string `json:"type"`
	Provider string `json:"provider"`
	Data     struct {
		Amount      json.RawMessage `json:"amount"`
		Username    string          `json:"username"`
		DisplayName string          `json:"displayName"`
		Message     string          `json:"message"`
		Currency    string          `json:"currency"`
	} `json:"data"`
}

// IsDonation reports whether the event carries a contribution.
func (e ProviderEvent) IsDonation() bool {
	return e.Type == "tip" || e.Type == "donation"
}

// Translate converts a provider event into a Donation.
func Translate(e ProviderEvent, at time.Time, suffix string) donation.Donation {
	donor := e.Data.DisplayName
	if donor == "" {
		donor = e.Data.Username
	}
	if donor == "" {
		donor = donation.AnonymousDonor
	}

	return donation.Donation{
		ID:        donation.LiveID(at, suffix),
		Amount:    coerceAmount(e.Data.Amount),
		Donor:     donor,
		Message:   e.Data.Message,
		Timestamp: at,
	}
}

// coerceAmount accepts JSON numbers, numeric strings and booleans. Anything
// else, and any negative value, becomes 0.
func coerceAmount(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}

	text := string(raw)
	switch {
	case raw[0] == '"':
		var unquoted string
		if err := json.Unmarshal(raw, &unquoted); err != nil {
			return 0
		}
		text = strings.TrimSpace(unquoted)
		if text == "" {
			return 0
		}
	case text == "true":
		return 1
	}

	value, err := decimal.NewFromString(text)
	if err != nil || value.IsNegative() {
		return 0
	}
	return value.InexactFloat64()
}

// randomSuffix returns 9 lowercase alphanumeric characters.
func randomSuffix() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:9]
}
