package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{5, 16 * time.Second},
		{7, 60 * time.Second},
		{8, 60 * time.Second},
		{20, 60 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RetryBackoff(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestOccurrenceStateBefore(t *testing.T) {
	assert.True(t, OccurrenceDiscovered.Before(OccurrenceRawFetched))
	assert.True(t, OccurrenceRawFetched.Before(OccurrenceRouted))
	assert.False(t, OccurrenceRouted.Before(OccurrenceStitched))
	assert.False(t, OccurrenceParsed.Before(OccurrenceParsed))

	// A failed occurrence ranks before every pipeline stage so it is
	// always eligible for reprocessing.
	assert.True(t, OccurrenceFailed.Before(OccurrenceRawFetched))
	assert.False(t, OccurrenceFailed.Before(OccurrenceDiscovered))
}
