package limiter

import "time"

// Window identifies one of the fixed rate-limit time windows.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// Windows lists all windows in evaluation order. CheckLimit walks this slice
// front to back and reports the first violated window, which keeps denial
// reasons reproducible for identical counter states.
var Windows = []Window{WindowMinute, WindowHour, WindowDay}

// Seconds returns the window length in seconds.
func (w Window) Seconds() int64 {
	switch w {
	case WindowMinute:
		return 60
	case WindowHour:
		return 3600
	case WindowDay:
		return 86400
	default:
		return 0
	}
}

// Well-known limit types. The set is open: any non-empty string is a valid
// limit type, these are the ones the default configuration ships policies for.
const (
	LimitTypeAuthentication = "authentication"
	LimitTypeAPICalls       = "api_calls"
	LimitTypePasswordReset  = "password_reset"
)

// Geolocation carries the resolved location of a request.
type Geolocation struct {
	Country string `json:"country"`
}

// RequestContext holds the contextual dimensions of one request. Every field
// is optional; present fields fragment the key space so the same identifier
// is counted independently per device and location.
type RequestContext struct {
	IPAddress   string       `json:"ipAddress,omitempty"`
	UserAgent   string       `json:"userAgent,omitempty"`
	Geolocation *Geolocation `json:"geolocation,omitempty"`
}

// WindowConfig is the effective policy for one window after the adaptive
// multiplier has been applied.
type WindowConfig struct {
	Window        Window
	Limit         int64
	WindowSeconds int64
}

// WindowStatus is the per-window detail of a decision or status query.
type WindowStatus struct {
	Window       Window    `json:"window"`
	Allowed      bool      `json:"allowed"`
	CurrentCount int64     `json:"currentCount"`
	Limit        int64     `json:"limit"`
	Remaining    int64     `json:"remaining"`
	ResetAt      time.Time `json:"resetAt"`
}

// Result is the aggregate decision for one CheckLimit call.
type Result struct {
	Allowed bool `json:"allowed"`
	// RetryAfterSeconds is set on denial to the violating window's TTL.
	RetryAfterSeconds int64 `json:"retryAfterSeconds,omitempty"`
	// ViolatingWindow names the first window that was exceeded.
	ViolatingWindow Window `json:"violatingWindow,omitempty"`
	// Windows holds the detail for every window that was evaluated.
	Windows []WindowStatus `json:"windows"`
}

// StatusReport is the read-only view of an identifier's counters.
type StatusReport struct {
	Identifier     string         `json:"identifier"`
	LimitType      string         `json:"limitType"`
	OverallAllowed bool           `json:"overallAllowed"`
	Windows        []WindowStatus `json:"windows"`
}
