package server_test

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/relaycast/core/server"
)

// freeAddr reserves an ephemeral port and releases it for the server to bind.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestServer_StartStop(t *testing.T) {
	t.Run("serves requests and shuts down gracefully", func(t *testing.T) {
		addr := freeAddr(t)
		srv := server.New(addr, server.WithShutdownTimeout(time.Second))

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start(ctx, handler)
		}()

		require.Eventually(t, func() bool {
			resp, err := http.Get(fmt.Sprintf("http://%s/", addr))
			if err != nil {
				return false
			}
			resp.Body.Close()
			return resp.StatusCode == http.StatusNoContent
		}, 2*time.Second, 20*time.Millisecond)

		require.NoError(t, srv.Stop())
		cancel()

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("Start did not return after shutdown")
		}
	})

	t.Run("second start reports the server running", func(t *testing.T) {
		addr := freeAddr(t)
		srv := server.New(addr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() { _ = srv.Start(ctx, http.NotFoundHandler()) }()

		require.Eventually(t, func() bool {
			resp, err := http.Get(fmt.Sprintf("http://%s/", addr))
			if err != nil {
				return false
			}
			resp.Body.Close()
			return true
		}, 2*time.Second, 20*time.Millisecond)

		err := srv.Start(ctx, http.NotFoundHandler())
		require.ErrorIs(t, err, server.ErrServerAlreadyRunning)
		require.NoError(t, srv.Stop())
	})

	t.Run("stop without start is a no-op", func(t *testing.T) {
		srv := server.New(":0")
		require.NoError(t, srv.Stop())
	})
}
