package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayDoubles(t *testing.T) {
	base := 30 * time.Second
	cap := time.Hour

	assert.Equal(t, 30*time.Second, BackoffDelay(0, base, cap))
	assert.Equal(t, 60*time.Second, BackoffDelay(1, base, cap))
	assert.Equal(t, 120*time.Second, BackoffDelay(2, base, cap))
	assert.Equal(t, 240*time.Second, BackoffDelay(3, base, cap))
}

func TestBackoffDelayCapped(t *testing.T) {
	base := 30 * time.Second
	cap := time.Hour

	assert.Equal(t, cap, BackoffDelay(7, base, cap))
	assert.Equal(t, cap, BackoffDelay(100, base, cap))
	assert.Equal(t, cap, BackoffDelay(1000, base, cap))
}

func TestBackoffDelayMonotonic(t *testing.T) {
	base := time.Second
	cap := time.Minute

	prev := time.Duration(0)
	for i := 0; i < 20; i++ {
		delay := BackoffDelay(i, base, cap)
		assert.GreaterOrEqual(t, delay, prev, "retry %d", i)
		assert.LessOrEqual(t, delay, cap, "retry %d", i)
		prev = delay
	}
}

func TestBackoffDelayNegativeCountTreatedAsZero(t *testing.T) {
	assert.Equal(t, 30*time.Second, BackoffDelay(-5, 30*time.Second, time.Hour))
}

func TestParseRetryAfter(t *testing.T) {
	cases := []struct {
		header string
		want   time.Duration
		ok     bool
	}{
		{"", 0, false},
		{"120", 120 * time.Second, true},
		{"0", 0, true},
		{"-1", 0, false},
		{"soon", 0, false},
		{"Wed, 21 Oct 2026 07:28:00 GMT", 0, false},
	}

	for _, tc := range cases {
		got, ok := ParseRetryAfter(tc.header)
		assert.Equal(t, tc.ok, ok, "header %q", tc.header)
		assert.Equal(t, tc.want, got, "header %q", tc.header)
	}
}

func TestSignPayload(t *testing.T) {
	signature, err := SignPayload([]byte(`{"event":"created"}`), "s3cret")
	assert.NoError(t, err)
	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, signature)

	// Deterministic for the same inputs
	again, err := SignPayload([]byte(`{"event":"created"}`), "s3cret")
	assert.NoError(t, err)
	assert.Equal(t, signature, again)

	other, err := SignPayload([]byte(`{"event":"created"}`), "different")
	assert.NoError(t, err)
	assert.NotEqual(t, signature, other)

	_, err = SignPayload([]byte(`{}`), "")
	assert.Error(t, err)
}
