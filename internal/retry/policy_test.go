package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noJitter(int64) int64 { return 0 }

func TestDelay_Exponential(t *testing.T) {
	o := Options{InitialDelay: time.Second, MaxDelay: time.Minute, BackoffType: BackoffExponential}
	assert.Equal(t, 2*time.Second, o.Delay(1))
	assert.Equal(t, 4*time.Second, o.Delay(2))
	assert.Equal(t, 8*time.Second, o.Delay(3))
	assert.Equal(t, time.Minute, o.Delay(10))
	assert.Equal(t, time.Minute, o.Delay(200))
}

func TestDelay_LinearAndConstant(t *testing.T) {
	linear := Options{InitialDelay: 3 * time.Second, MaxDelay: 10 * time.Second, BackoffType: BackoffLinear}
	assert.Equal(t, 3*time.Second, linear.Delay(1))
	assert.Equal(t, 9*time.Second, linear.Delay(3))
	assert.Equal(t, 10*time.Second, linear.Delay(4))

	constant := Options{InitialDelay: 3 * time.Second, MaxDelay: 10 * time.Second, BackoffType: BackoffConstant}
	for attempt := 1; attempt < 5; attempt++ {
		assert.Equal(t, 3*time.Second, constant.Delay(attempt))
	}
}

func TestDelay_MonotonicAndClamped(t *testing.T) {
	for _, bt := range []BackoffType{BackoffExponential, BackoffLinear, BackoffConstant} {
		o := Options{InitialDelay: 250 * time.Millisecond, MaxDelay: 20 * time.Second, BackoffType: bt}
		prev := time.Duration(0)
		for attempt := 1; attempt <= 64; attempt++ {
			d := o.DelayWithJitter(attempt, noJitter)
			require.GreaterOrEqual(t, d, prev, "%s attempt %d", bt, attempt)
			require.LessOrEqual(t, d, o.MaxDelay, "%s attempt %d", bt, attempt)
			prev = d
		}
	}
}

func TestDelay_JitterIsBoundedAndAdditive(t *testing.T) {
	o := Options{InitialDelay: time.Second, MaxDelay: 4 * time.Second, BackoffType: BackoffExponential, UseJitter: true}
	for attempt := 1; attempt <= 6; attempt++ {
		base := o.DelayWithJitter(attempt, nil)
		for range 50 {
			d := o.Delay(attempt)
			assert.GreaterOrEqual(t, d, base)
			assert.Less(t, d, base+JitterBound)
			assert.Less(t, d, o.MaxDelay+JitterBound)
		}
	}

	maxed := o.DelayWithJitter(1, func(n int64) int64 { return n - 1 })
	assert.Equal(t, 2*time.Second+JitterBound-1, maxed)
}

func TestOptions_Validate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())

	bad := Options{MaxRetryAttempts: -1, InitialDelay: time.Minute, MaxDelay: time.Second, BackoffType: "fibonacci"}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retry attempts")
	assert.Contains(t, err.Error(), "max delay")
	assert.Contains(t, err.Error(), "fibonacci")
}

func TestParseBackoffType(t *testing.T) {
	bt, err := ParseBackoffType("Linear")
	require.NoError(t, err)
	assert.Equal(t, BackoffLinear, bt)
}
