package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-dapp-core/log"
)

func SleepWithContext(ctx context.Context, duration time.Duration) {
	t := time.NewTimer(duration)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

type Config struct {
	MaxNumRetries                int32
	InitialDelayBeforeRetrying   time.Duration
	MaxDelayBeforeRetrying       time.Duration
	ShouldLogFirstFailure        bool
	LogEveryNthFailure           int32
	LogLevelWhenFailure          log.Level
	ShouldLogNumRetriesOnSuccess bool
	LogLevelWhenSuccess          log.Level
}

const (
	/* (S)tructured (L)ogging */
	SLnumRetries    = "numRetries"
	InfiniteRetries = -1
)

func DefaultConfig() *Config {
	return &Config{
		MaxNumRetries:                InfiniteRetries,
		InitialDelayBeforeRetrying:   100 * time.Millisecond,
		MaxDelayBeforeRetrying:       10 * time.Second,
		ShouldLogFirstFailure:        true,
		LogEveryNthFailure:           10,
		LogLevelWhenFailure:          log.WarnLevel,
		ShouldLogNumRetriesOnSuccess: false,
		LogLevelWhenSuccess:          log.DebugLevel,
	}
}

// Do runs op until it succeeds, the retry budget is spent, shouldRetry rejects the
// error, or ctx ends. Pass nil for shouldRetry in order to always retry.
func Do[T any](ctx context.Context, cfg *Config, op func(ctx context.Context) (T, error),
	shouldRetry func(error) bool, description string) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	delay := cfg.InitialDelayBeforeRetrying
	var numRetries int32

	for {
		result, err := op(ctx)
		if err == nil {
			if numRetries > 0 && cfg.ShouldLogNumRetriesOnSuccess {
				log.Log(cfg.LogLevelWhenSuccess, fmt.Sprintf("Ultimately succeeded: %s", description),
					SLnumRetries, numRetries)
			}
			return result, nil
		}

		var zero T
		if cfg.MaxNumRetries != InfiniteRetries && numRetries >= cfg.MaxNumRetries {
			return zero, errors.Wrapf(err, "Failed after max %d retries: %s", numRetries, description)
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return zero, errors.Wrapf(err, "Failed, unretryable, after %d retries: %s", numRetries, description)
		}

		numRetries++
		if numRetries > 1 {
			delay = min(delay*2, cfg.MaxDelayBeforeRetrying)
		}

		if (cfg.ShouldLogFirstFailure && numRetries == 1) ||
			(cfg.LogEveryNthFailure > 0 && numRetries%cfg.LogEveryNthFailure == 0) {
			log.Log(cfg.LogLevelWhenFailure, fmt.Sprintf("Retrying failure: %s", description),
				"error", err, SLnumRetries, numRetries, "delayBeforeRetry", delay)
		}

		SleepWithContext(ctx, delay)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, errors.Wrapf(err, "Experienced context error during retry: %s - %s", description,
				ctxErr.Error())
		}
	}
}
