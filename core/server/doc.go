// Package server wraps http.Server with graceful shutdown and configuration
// suited to long-lived streaming responses: the write timeout defaults to
// zero because consume streams stay open indefinitely.
//
// Basic usage:
//
//	srv := server.New(":8080", server.WithShutdownTimeout(10*time.Second))
//	if err := srv.Start(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
//	_ = srv.Stop()
package server
