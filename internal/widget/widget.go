package widget

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Query parameter names understood by the resolver.
const (
	ParamGoal          = "goal"
	ParamTitle         = "title"
	ParamInitialAmount = "initialAmount"
)

// Colors are opaque style tokens passed through to the overlay page.
type Colors struct {
	Primary    string `yaml:"primary" json:"primary"`
	Secondary  string `yaml:"secondary" json:"secondary"`
	Success    string `yaml:"success" json:"success"`
	Text       string `yaml:"text" json:"text"`
	Background string `yaml:"background" json:"background"`
}

// FeedSettings describe the live donation feed. They always come from the
// deployment environment.
type FeedSettings struct {
	Enabled   bool
	Token     string
	ChannelID string
	TestMode  bool
}

// Config is the resolved overlay configuration for one page load. It is
// comparable with == so callers can detect configuration changes.
type Config struct {
	Title                string
	GoalAmount           float64
	Currency             string
	InitialAmount        float64
	ShowLastDonation     bool
	AnimationDuration    time.Duration
	NotificationDuration time.Duration
	Colors               Colors
	Feed                 FeedSettings

	// InitialAmountProvided reports whether the page query carried initialAmount at all.
	InitialAmountProvided bool
	// InitialAmountMalformed reports a present initialAmount that failed to parse.
	InitialAmountMalformed bool
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Title:                "Custom VTuber Model",
		GoalAmount:           1000,
		Currency:             "$",
		InitialAmount:        0,
		ShowLastDonation:     true,
		AnimationDuration:    300 * time.Millisecond,
		NotificationDuration: 5 * time.Second,
		Colors: Colors{
			Primary:    "bg-gradient-to-r from-violet-200 to-pink-200",
			Secondary:  "bg-white border-3 border-violet-200",
			Success:    "bg-pink-500",
			Text:       "text-amarillo-claro font-bold drop-shadow-[0_1.2px_1.2px_rgba(1,0,0.5,0.8)]",
			Background: "",
		},
	}
}

// Resolve layers defaults < page query < environment feed settings. It never
// fails: malformed query values fall back to the corresponding default.
func Resolve(defaults Config, params url.Values, feed FeedSettings) Config {
	cfg := defaults
	cfg.InitialAmountProvided = false
	cfg.InitialAmountMalformed = false

	if raw := params.Get(ParamGoal); raw != "" {
		if goal, ok := parseLeadingInt(raw); ok && goal > 0 {
			cfg.GoalAmount = float64(goal)
		}
	}

	if raw := params.Get(ParamTitle); raw != "" {
		cfg.Title = decodeTitle(raw)
	}

	if params.Has(ParamInitialAmount) {
		cfg.InitialAmountProvided = true
		if initial, ok := parseLeadingInt(params.Get(ParamInitialAmount)); ok {
			cfg.InitialAmount = float64(initial)
		} else {
			cfg.InitialAmountMalformed = true
		}
	}

	cfg.Feed = feed
	return cfg
}

// decodeTitle applies one more unescape pass on top of the query decoding,
// keeping the raw value when it is not a valid escape sequence.
func decodeTitle(raw string) string {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// parseLeadingInt reads an optionally signed base-10 integer prefix, ignoring
// leading whitespace and any trailing garbage ("50abc" is 50).
func parseLeadingInt(raw string) (int64, bool) {
	s := strings.TrimLeft(raw, " \t\n\r\f\v")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digitsStart := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return 0, false
	}
	value, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
