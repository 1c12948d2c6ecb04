package channel

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff"
)

// Policy controls automatic reconnection after an unrequested close.
// The n-th consecutive retry waits min(Base*Multiplier^(n-1), Cap).
type Policy struct {
	Enabled     bool          `json:"enabled" mapstructure:"enabled"`
	Base        time.Duration `json:"base" mapstructure:"base" validate:"gt=0"`
	Multiplier  float64       `json:"multiplier" mapstructure:"multiplier" validate:"gte=1"`
	Cap         time.Duration `json:"cap" mapstructure:"cap" validate:"gtefield=Base"`
	MaxAttempts int           `json:"maxAttempts" mapstructure:"maxAttempts" validate:"gte=0"` // 0 retries forever
}

// DefaultPolicy returns the stock reconnect policy.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:    true,
		Base:       3 * time.Second,
		Multiplier: 1.5,
		Cap:        30 * time.Second,
	}
}

// Validate checks the policy for values the backoff cannot honour.
func (p Policy) Validate() error {
	var errs []error
	if p.Base <= 0 {
		errs = append(errs, errors.New("reconnect base must be positive"))
	}
	if p.Multiplier < 1 {
		errs = append(errs, errors.New("reconnect multiplier must be at least 1"))
	}
	if p.Cap < p.Base {
		errs = append(errs, errors.New("reconnect cap must not be below base"))
	}
	if p.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect maxAttempts must not be negative"))
	}
	return errors.Join(errs...)
}

// NewBackOff returns a deterministic exponential backoff for the policy.
func (p Policy) NewBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.Cap
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Exhausted reports whether retries consecutive failures use up the policy.
func (p Policy) Exhausted(retries int) bool {
	return !p.Enabled || (p.MaxAttempts > 0 && retries >= p.MaxAttempts)
}
