package timer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"reflect"
	"runtime"
	"time"

	"github.com/lthibault/jitterbug/v2"

	log "github.com/sirupsen/logrus"
)

type Interval struct {
	Duration time.Duration
	Jitter   time.Duration
}

// tickerJitter spreads ticks uniformly over d ± MaxJitter.
type tickerJitter struct {
	MaxJitter time.Duration
}

func (j tickerJitter) Jitter(d time.Duration) time.Duration {
	if j.MaxJitter <= 0 {
		return d
	}
	return d + time.Duration(rand.Int64N(int64(2*j.MaxJitter))) - j.MaxJitter
}

// Runs the provided function periodically with a given interval. Exits when the context is cancelled or when f() returns an error.
func RunWithTicker(ctx context.Context, interval *Interval, f func(ctx context.Context) error) error {
	funcName := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()

	if interval.Duration <= 0 {
		return fmt.Errorf("RunWithTicker: %s: non-positive interval %v", funcName, interval.Duration)
	}
	if interval.Jitter >= interval.Duration {
		return fmt.Errorf("RunWithTicker: %s: jitter %v must be smaller than interval %v", funcName, interval.Jitter, interval.Duration)
	}

	j := jitterbug.New(interval.Duration, &tickerJitter{MaxJitter: interval.Jitter})
	defer j.Stop()

	log.Debugf("RunWithTicker: running %s with interval %v (jitter %v)", funcName, interval.Duration, interval.Jitter)

	for {
		select {
		case <-ctx.Done():
			log.Debugf("RunWithTicker: context cancelled for %s", funcName)
			return ctx.Err()
		case <-j.C:
			if err := f(ctx); err != nil {
				log.Errorf("RunWithTicker: function %s returned error: %v", funcName, err)
				return err
			}
		}
	}
}
