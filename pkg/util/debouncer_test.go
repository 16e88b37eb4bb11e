package util_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fumblebot/fumblebot/pkg/util"
)

func TestDebouncerCoalescesBurst(t *testing.T) {
	var calls atomic.Int32

	d := util.NewDebouncer(50*time.Millisecond, func() {
		calls.Add(1)
	})
	defer d.Stop()

	for range 10 {
		d.Trigger()
		time.Sleep(2 * time.Millisecond)
	}

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "a burst of triggers should produce exactly one call")
}

func TestDebouncerFiresPerQuietPeriod(t *testing.T) {
	var calls atomic.Int32

	d := util.NewDebouncer(20*time.Millisecond, func() {
		calls.Add(1)
	})
	defer d.Stop()

	d.Trigger()
	time.Sleep(60 * time.Millisecond)
	d.Trigger()
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, int32(2), calls.Load())
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	var calls atomic.Int32

	d := util.NewDebouncer(30*time.Millisecond, func() {
		calls.Add(1)
	})

	d.Trigger()
	d.Stop()

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	// Trigger after Stop is a no-op.
	d.Trigger()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestDebouncerFlushRunsImmediately(t *testing.T) {
	var calls atomic.Int32

	d := util.NewDebouncer(time.Hour, func() {
		calls.Add(1)
	})
	defer d.Stop()

	d.Trigger()
	d.Flush()

	assert.Equal(t, int32(1), calls.Load())

	// The pending timer was cancelled by Flush.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}
