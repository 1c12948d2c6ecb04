package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_BackOffSequence(t *testing.T) {
	p := Policy{Enabled: true, Base: 3000 * time.Millisecond, Multiplier: 1.5, Cap: 30000 * time.Millisecond}
	b := p.NewBackOff()

	want := []time.Duration{
		3000 * time.Millisecond,
		4500 * time.Millisecond,
		6750 * time.Millisecond,
		10125 * time.Millisecond,
		15187500 * time.Microsecond,
		22781250 * time.Microsecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
	}
	for i, w := range want {
		assert.Equal(t, w, b.NextBackOff(), "retry %d", i+1)
	}

	b.Reset()
	assert.Equal(t, 3000*time.Millisecond, b.NextBackOff())
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{Base: 0, Multiplier: 1, Cap: time.Second}.Validate())
	assert.Error(t, Policy{Base: time.Second, Multiplier: 0.9, Cap: time.Second}.Validate())
	assert.Error(t, Policy{Base: 2 * time.Second, Multiplier: 2, Cap: time.Second}.Validate())
	assert.Error(t, Policy{Base: time.Second, Multiplier: 2, Cap: time.Second, MaxAttempts: -1}.Validate())
}

func TestPolicy_Exhausted(t *testing.T) {
	p := DefaultPolicy()
	assert.False(t, p.Exhausted(1000))

	p.MaxAttempts = 2
	assert.False(t, p.Exhausted(1))
	assert.True(t, p.Exhausted(2))

	p.Enabled = false
	assert.True(t, p.Exhausted(0))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "unknown", State(42).String())
	text, _ := Closing.MarshalText()
	assert.Equal(t, "closing", string(text))
}
