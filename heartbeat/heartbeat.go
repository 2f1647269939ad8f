// Package heartbeat blinks a status LED while the daemon runs, like the
// firmware's main loop toggles its board LED.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/ecc1/gpio"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultPeriod is the time between LED toggles.
const DefaultPeriod = 500 * time.Millisecond

// LED is a light that can be switched on and off.
type LED interface {
	Set(on bool) error
}

// Run toggles led every period until ctx is canceled, then switches it off.
func Run(ctx context.Context, led LED, period time.Duration) error {
	if period <= 0 {
		period = DefaultPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	on := true
	if err := led.Set(on); err != nil {
		return errors.Wrap(err, "Set failed")
	}
	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(led.Set(false), "Set failed")
		case <-ticker.C:
			on = !on
			if err := led.Set(on); err != nil {
				return errors.Wrap(err, "Set failed")
			}
		}
	}
}

type gpioLED struct {
	sync.Mutex
	pin gpio.OutputPin
}

// NewGPIOLED returns an LED on a sysfs GPIO output pin.
func NewGPIOLED(pin int, activeLow bool) (LED, error) {
	p, err := gpio.Output(pin, activeLow, false)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to set pin %d to output", pin)
	}
	return &gpioLED{pin: p}, nil
}

func (l *gpioLED) Set(on bool) error {
	l.Lock()
	defer l.Unlock()
	return l.pin.Write(on)
}

// LogLED is an LED for hosts without one: it logs every change at debug level.
type LogLED struct {
	Log zerolog.Logger

	mu      sync.Mutex
	on      bool
	toggles int
}

// Set records the new state.
func (l *LogLED) Set(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if on != l.on {
		l.toggles++
	}
	l.on = on
	l.Log.Debug().Bool("on", on).Msg("heartbeat")
	return nil
}

// On returns the current state.
func (l *LogLED) On() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

// Toggles returns the number of state changes.
func (l *LogLED) Toggles() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.toggles
}
