package attempts

import "time"

// Record is the accumulated failed-login state for one origin address
// within the current window.
type Record struct {
	IPAddress      string    `bson:"_id" json:"ipAddress"`
	Email          string    `bson:"email,omitempty" json:"email,omitempty"`
	AttemptCount   int       `bson:"attemptCount" json:"attemptCount"`
	FirstAttemptAt time.Time `bson:"firstAttemptAt" json:"firstAttemptAt"`
	LastAttemptAt  time.Time `bson:"lastAttemptAt" json:"lastAttemptAt"`
}

// Result is what the login route acts on.
type Result struct {
	AttemptCount    int        `json:"attemptCount"`
	RequiresCaptcha bool       `json:"requiresCaptcha"`
	IsBlocked       bool       `json:"isBlocked"`
	FirstAttemptAt  *time.Time `json:"firstAttemptAt,omitempty"`
}

// Config is the throttle policy. Zero values fall back to the defaults
// below.
type Config struct {
	Window           time.Duration
	CaptchaThreshold int
	BlockThreshold   int
	// FailClosed reports blocked instead of a zero count when the backing
	// store is unavailable. Default is fail-open: the throttle is a
	// deterrent, the hard block belongs to the rate limiter in front.
	FailClosed bool
}

const (
	DefaultWindow           = 15 * time.Minute
	DefaultCaptchaThreshold = 3
	DefaultBlockThreshold   = 5
)

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.CaptchaThreshold <= 0 {
		c.CaptchaThreshold = DefaultCaptchaThreshold
	}
	if c.BlockThreshold <= 0 {
		c.BlockThreshold = DefaultBlockThreshold
	}
	return c
}
