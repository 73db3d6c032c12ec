package database

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// connectTimeout bounds how long startup waits for a backing store that is
// still coming up.
const connectTimeout = 30 * time.Second

// retryConnect calls dial until it succeeds, ctx ends or connectTimeout
// passes, logging each failed attempt.
func retryConnect(ctx context.Context, what string, log zerolog.Logger, dial func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = connectTimeout

	return backoff.RetryNotify(dial, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		log.Warn().Err(err).Str("store", what).Dur("retry_in", next).Msg("Connection attempt failed")
	})
}
