package observability

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), 0)
	assert.Equal(t, 30*time.Second, sm.timeout)

	sm = NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), time.Second)
	assert.Equal(t, time.Second, sm.timeout)
}

func TestShutdownManager_HooksRunInReverse(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), time.Second)

	var order []string
	for _, name := range []string{"store", "cache", "cron"} {
		name := name
		sm.Register(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, []string{"cron", "cache", "store"}, order)
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), time.Second)

	ran := 0
	sm.Register("first", func(ctx context.Context) error { ran++; return nil })
	sm.Register("broken", func(ctx context.Context) error { ran++; return errors.New("boom") })

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: boom")
	assert.Equal(t, 2, ran)
}

func TestShutdownManager_StopsServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &http.Server{Handler: http.NotFoundHandler()}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), time.Second, srv)
	require.NoError(t, sm.Shutdown(context.Background()))

	select {
	case err := <-served:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestShutdownManager_WaitOnContext(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), time.Second)

	called := make(chan struct{})
	sm.Register("hook", func(ctx context.Context) error {
		close(called)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sm.Wait(ctx))

	select {
	case <-called:
	default:
		t.Fatal("hook not called")
	}
}
