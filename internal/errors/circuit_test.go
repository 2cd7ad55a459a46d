package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("reranker")

	for i := 0; i < 5; i++ {
		assert.True(t, cb.Allow())
		cb.RecordFailure()
	}

	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitSuccessResets(t *testing.T) {
	cb := NewCircuitBreaker("reranker")

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, StateClosed, cb.State(), "success clears the failure count")
}

func TestCircuitHalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("reranker")
	cb.resetTimeout = 10 * time.Millisecond

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow())
}

func TestExecuteUsesFallbackWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker("reranker")
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}

	called := false
	got, err := Execute(cb,
		func() (string, error) {
			called = true
			return "primary", nil
		},
		func() (string, error) { return "fallback", nil },
	)

	require.NoError(t, err)
	assert.Equal(t, "fallback", got)
	assert.False(t, called, "open circuit must not touch the protected call")
}

func TestExecuteHalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker("reranker")
	cb.resetTimeout = time.Millisecond
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	time.Sleep(5 * time.Millisecond)

	// A failing probe re-opens the circuit and falls back.
	got, err := Execute(cb,
		func() (string, error) { return "", fmt.Errorf("still down") },
		func() (string, error) { return "fallback", nil },
	)
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)
	assert.Equal(t, StateOpen, cb.State())

	// After another timeout, a successful probe closes it.
	time.Sleep(5 * time.Millisecond)
	got, err = Execute(cb,
		func() (string, error) { return "recovered", nil },
		func() (string, error) { return "fallback", nil },
	)
	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecuteClosedPropagatesErrors(t *testing.T) {
	cb := NewCircuitBreaker("reranker")
	boom := fmt.Errorf("boom")

	_, err := Execute(cb,
		func() (int, error) { return 0, boom },
		func() (int, error) { return -1, nil },
	)
	assert.ErrorIs(t, err, boom)
}
