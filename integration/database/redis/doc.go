// Package redis provides Redis client initialization and health checking for
// the stream log backend.
//
// Connect validates the connection URL, dials with retry and verifies
// connectivity with a ping before returning the client, so a transient
// network hiccup at boot does not take the service down:
//
//	client, err := redis.Connect(ctx, redis.Config{
//	    ConnectionURL: "redis://localhost:6379/0",
//	    RetryAttempts: 3,
//	    RetryInterval: 5 * time.Second,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Healthcheck returns a probe function suitable for readiness endpoints:
//
//	check := redis.Healthcheck(client)
//	if err := check(ctx); err != nil {
//	    // report unhealthy
//	}
//
// Both redis:// and rediss:// (TLS) URL schemes are supported. Errors are
// stable sentinels checkable with errors.Is: ErrEmptyConnectionURL,
// ErrFailedToParseRedisConnString, ErrRedisNotReady, ErrHealthcheckFailed.
package redis
