package retry

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffLinear      BackoffType = "linear"
	BackoffConstant    BackoffType = "constant"
)

func ParseBackoffType(v string) (BackoffType, error) {
	switch BackoffType(strings.ToLower(v)) {
	case BackoffExponential:
		return BackoffExponential, nil
	case BackoffLinear:
		return BackoffLinear, nil
	case BackoffConstant:
		return BackoffConstant, nil
	}
	return "", fmt.Errorf("unknown backoff type %q", v)
}

// JitterBound is the exclusive upper bound of the random offset added to a
// delay when jitter is enabled.
const JitterBound = 500 * time.Millisecond

// Options is an immutable retry configuration value.
type Options struct {
	MaxRetryAttempts int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	BackoffType      BackoffType
	UseJitter        bool
}

func DefaultOptions() Options {
	return Options{
		MaxRetryAttempts: 3,
		InitialDelay:     2 * time.Second,
		MaxDelay:         30 * time.Second,
		BackoffType:      BackoffExponential,
		UseJitter:        true,
	}
}

func (o Options) Validate() error {
	var problems []string
	if o.MaxRetryAttempts < 0 {
		problems = append(problems, "max retry attempts must not be negative")
	}
	if o.InitialDelay < 0 {
		problems = append(problems, "initial delay must not be negative")
	}
	if o.MaxDelay < o.InitialDelay {
		problems = append(problems, "max delay must be at least the initial delay")
	}
	if _, err := ParseBackoffType(string(o.BackoffType)); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid retry options: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Delay returns the wait before retry number attempt (1 for the first retry).
func (o Options) Delay(attempt int) time.Duration {
	return o.DelayWithJitter(attempt, rand.Int64N)
}

// DelayWithJitter is Delay with an injectable random source. randN must
// return a value in [0, n).
func (o Options) DelayWithJitter(attempt int, randN func(n int64) int64) time.Duration {
	d := o.baseDelay(attempt)
	if d > o.MaxDelay {
		d = o.MaxDelay
	}
	if o.UseJitter && randN != nil {
		d += time.Duration(randN(int64(JitterBound)))
	}
	return d
}

func (o Options) baseDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := o.InitialDelay
	switch o.BackoffType {
	case BackoffLinear:
		if attempt > 0 && base > o.MaxDelay/time.Duration(attempt) {
			return o.MaxDelay
		}
		return base * time.Duration(attempt)
	case BackoffConstant:
		return base
	default:
		// shifting past 62 bits overflows; anything that large is clamped anyway
		if attempt >= 62 || base > o.MaxDelay>>uint(attempt) {
			return o.MaxDelay
		}
		return base << uint(attempt)
	}
}
