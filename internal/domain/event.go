package domain

import (
	"fmt"
	"math"
)

// Channel names one evidence component.
type Channel string

// Evidence channels in their canonical order.
const (
	ChannelTime     Channel = "time"
	ChannelEntry    Channel = "entry"
	ChannelBehavior Channel = "behavior"
	ChannelIdentity Channel = "identity"
	ChannelPresence Channel = "presence"
	ChannelToken    Channel = "token"
)

// Channels lists every evidence channel in canonical order.
var Channels = []Channel{
	ChannelTime,
	ChannelEntry,
	ChannelBehavior,
	ChannelIdentity,
	ChannelPresence,
	ChannelToken,
}

// Evidence is a vector of log-likelihood ratios, one per channel.
// Positive values push toward threat, negative toward benign.
type Evidence struct {
	Time     float64 `json:"time"`
	Entry    float64 `json:"entry"`
	Behavior float64 `json:"behavior"`
	Identity float64 `json:"identity"`
	Presence float64 `json:"presence"`
	Token    float64 `json:"token"`
}

// Sum returns the arithmetic sum of all components.
func (e Evidence) Sum() float64 {
	return e.Time + e.Entry + e.Behavior + e.Identity + e.Presence + e.Token
}

// Capped clamps every component to [-negCap, +posCap].
func (e Evidence) Capped(posCap, negCap float64) Evidence {
	clamp := func(v float64) float64 {
		return math.Max(-negCap, math.Min(posCap, v))
	}
	return Evidence{
		Time:     clamp(e.Time),
		Entry:    clamp(e.Entry),
		Behavior: clamp(e.Behavior),
		Identity: clamp(e.Identity),
		Presence: clamp(e.Presence),
		Token:    clamp(e.Token),
	}
}

// Add returns the component-wise sum of e and o.
func (e Evidence) Add(o Evidence) Evidence {
	return Evidence{
		Time:     e.Time + o.Time,
		Entry:    e.Entry + o.Entry,
		Behavior: e.Behavior + o.Behavior,
		Identity: e.Identity + o.Identity,
		Presence: e.Presence + o.Presence,
		Token:    e.Token + o.Token,
	}
}

// Component returns the value of a single channel.
func (e Evidence) Component(c Channel) float64 {
	switch c {
	case ChannelTime:
		return e.Time
	case ChannelEntry:
		return e.Entry
	case ChannelBehavior:
		return e.Behavior
	case ChannelIdentity:
		return e.Identity
	case ChannelPresence:
		return e.Presence
	case ChannelToken:
		return e.Token
	}
	return 0
}

// WithComponent returns a copy of e with channel c set to v.
func (e Evidence) WithComponent(c Channel, v float64) Evidence {
	switch c {
	case ChannelTime:
		e.Time = v
	case ChannelEntry:
		e.Entry = v
	case ChannelBehavior:
		e.Behavior = v
	case ChannelIdentity:
		e.Identity = v
	case ChannelPresence:
		e.Presence = v
	case ChannelToken:
		e.Token = v
	}
	return e
}

// Sanitized returns a copy of e with NaN and infinite components set to 0.
func (e Evidence) Sanitized() Evidence {
	for _, c := range Channels {
		if v := e.Component(c); math.IsNaN(v) || math.IsInf(v, 0) {
			e = e.WithComponent(c, 0)
		}
	}
	return e
}

// IsFinite reports whether every component is a finite number.
func (e Evidence) IsFinite() bool {
	for _, c := range Channels {
		v := e.Component(c)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Event is a single sensor or camera observation.
type Event struct {
	ID     string `json:"id"`
	HomeID string `json:"homeId"`

	// Timestamp is in seconds. Relative and absolute clocks both work as long
	// as a home uses one consistently.
	Timestamp float64 `json:"ts"`
	Camera    string  `json:"camera"`
	Track     string  `json:"track"`

	// Observed behavior
	RangDoorbell bool    `json:"rangDoorbell"`
	Knocked      bool    `json:"knocked"`
	DwellSeconds float64 `json:"dwellSeconds"`

	// Household context
	AwayProb       float64 `json:"awayProb"`
	ExpectedWindow bool    `json:"expectedWindow"`
	Token          *string `json:"token,omitempty"`

	// Recognition signals. KnownIdentity is set when a benign identity was
	// positively matched on this observation.
	KnownIdentity      string  `json:"knownIdentity,omitempty"`
	IdentityConfidence float64 `json:"identityConfidence,omitempty"`
	Interior           bool    `json:"interior,omitempty"`

	Evidence Evidence `json:"evidence"`
}

// HasToken reports whether the event carries a delivery token.
func (e *Event) HasToken() bool {
	return e.Token != nil && *e.Token != ""
}

// Validate checks the fields the reasoning pipeline depends on.
func (e *Event) Validate() error {
	if e.Track == "" {
		return fmt.Errorf("track is required")
	}
	if math.IsNaN(e.Timestamp) || math.IsInf(e.Timestamp, 0) {
		return fmt.Errorf("timestamp must be finite")
	}
	if e.DwellSeconds < 0 {
		return fmt.Errorf("dwellSeconds must be non-negative")
	}
	if e.AwayProb < 0 || e.AwayProb > 1 {
		return fmt.Errorf("awayProb must be within [0, 1]")
	}
	return nil
}
