package heartbeat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunToggles(t *testing.T) {
	led := &LogLED{Log: zerolog.Nop()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, led, time.Millisecond) }()

	assert.Eventually(t, func() bool { return led.Toggles() >= 4 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, led.On())
}

type brokenLED struct{ sets int }

func (b *brokenLED) Set(bool) error {
	b.sets++
	return errors.New("no such pin")
}

func TestRunStopsOnError(t *testing.T) {
	led := &brokenLED{}
	err := Run(context.Background(), led, time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such pin")
	assert.Equal(t, 1, led.sets)
}
