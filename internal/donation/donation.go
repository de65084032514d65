package donation

import (
	"fmt"
	"time"
)

// AnonymousDonor is used whenever the source does not name the donor.
const AnonymousDonor = "Anonymous"

// Donation is a single received or synthesized contribution.
type Donation struct {
	ID        string    `json:"id"`
	Amount    float64   `json:"amount"`
	Donor     string    `json:"donor"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sample is a donation template used by the test and demo generators.
type Sample struct {
	Amount  float64
	Donor   string
	Message string
}

// Materialize turns the sample into a Donation with the given identity.
func (s Sample) Materialize(id string, at time.Time) Donation {
	donor := s.Donor
	if donor == "" {
		donor = AnonymousDonor
	}
	return Donation{
		ID:        id,
		Amount:    s.Amount,
		Donor:     donor,
		Message:   s.Message,
		Timestamp: at,
	}
}

var testPool = []Sample{
	{Amount: 5, Donor: "TestUser1", Message: "This is a test donation!"},
	{Amount: 25, Donor: "TestUser2", Message: "Love the stream!"},
	{Amount: 50, Donor: "TestUser3", Message: "Keep up the great work!"},
	{Amount: 100, Donor: "BigTestDonor", Message: "You're awesome!"},
	{Amount: 10, Donor: AnonymousDonor, Message: ""},
}

var demoScript = []Sample{
	{Amount: 25, Donor: "StreamFan123"},
	{Amount: 50, Donor: "GamerGirl99", Message: "Love the content!"},
	{Amount: 100, Donor: "BigSupporter", Message: "Keep it up!"},
	{Amount: 15, Donor: AnonymousDonor},
	{Amount: 75, Donor: "TechNinja", Message: "Amazing stream!"},
}

// TestPool returns a copy of the samples drawn from in test mode.
func TestPool() []Sample {
	out := make([]Sample, len(testPool))
	copy(out, testPool)
	return out
}

// DemoScript returns a copy of the ordered samples replayed when the live feed is disabled.
func DemoScript() []Sample {
	out := make([]Sample, len(demoScript))
	copy(out, demoScript)
	return out
}

// TestID builds the identifier of a test-mode donation.
func TestID(at time.Time) string {
	return fmt.Sprintf("test-%d", at.UnixMilli())
}

// DemoID builds the identifier of the index-th demo donation.
func DemoID(at time.Time, index int) string {
	return fmt.Sprintf("demo-%d-%d", at.UnixMilli(), index)
}

// LiveID builds the identifier of a donation received from the provider.
func LiveID(at time.Time, suffix string) string {
	return fmt.Sprintf("se-%d-%s", at.UnixMilli(), suffix)
}
