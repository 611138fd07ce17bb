package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/stockorders/internal/health"
	"github.com/vladislavdragonenkov/stockorders/internal/version"
)

func testEntry(name string) *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("test", name)
}

// get ждёт, пока служебный сервер начнёт отвечать, и возвращает статус и тело.
func get(t *testing.T, url string) (int, string) {
	t.Helper()

	var lastErr error
	for range 50 {
		resp, err := http.Get(url)
		if err == nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return resp.StatusCode, string(body)
		}
		lastErr = err
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("GET %s: %v", url, lastErr)
	return 0, ""
}

func TestStartMetricsServer_Endpoints(t *testing.T) {
	port := findFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthHandler := healthcheck.NewHandler(version.String())
	healthHandler.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", func(context.Context) error { return nil }))
	srv := startMetricsServer(ctx, fmt.Sprintf("127.0.0.1:%d", port), testEntry("metrics"), healthHandler)
	require.NotNil(t, srv)

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	tests := []struct {
		path     string
		wantCode int
		contains string
	}{
		{path: "/metrics", wantCode: http.StatusOK, contains: "go_goroutines"},
		{path: "/healthz", wantCode: http.StatusOK, contains: `"storage"`},
		{path: "/livez", wantCode: http.StatusOK, contains: "ok"},
		{path: "/readyz", wantCode: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(strings.TrimPrefix(tc.path, "/"), func(t *testing.T) {
			code, body := get(t, base+tc.path)
			require.Equal(t, tc.wantCode, code)
			require.Contains(t, body, tc.contains)
		})
	}
}

func TestStartMetricsServer_ReadinessFollowsRequiredCheckers(t *testing.T) {
	port := findFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthHandler := healthcheck.NewHandler(version.String())
	healthHandler.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", func(context.Context) error {
		return errors.New("connection refused")
	}))
	startMetricsServer(ctx, fmt.Sprintf("127.0.0.1:%d", port), testEntry("readiness"), healthHandler)

	code, body := get(t, fmt.Sprintf("http://127.0.0.1:%d/readyz", port))
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "not ready", body)

	code, body = get(t, fmt.Sprintf("http://127.0.0.1:%d/healthz", port))
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Contains(t, body, "connection refused")

	code, _ = get(t, fmt.Sprintf("http://127.0.0.1:%d/livez", port))
	require.Equal(t, http.StatusOK, code, "liveness must not depend on storage")
}

func TestStartMetricsServer_ShutdownOnContextCancel(t *testing.T) {
	port := findFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())

	startMetricsServer(ctx, fmt.Sprintf("127.0.0.1:%d", port), testEntry("shutdown"), healthcheck.NewHandler(version.String()))
	url := fmt.Sprintf("http://127.0.0.1:%d/livez", port)
	code, _ := get(t, url)
	require.Equal(t, http.StatusOK, code)

	cancel()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
		}
		return err != nil
	}, 2*time.Second, 20*time.Millisecond, "server should be stopped after context cancellation")
}

func TestStartMetricsServer_AddrInUse(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ошибка ListenAndServe только логируется: служебный порт не должен ронять сервис.
	srv := startMetricsServer(ctx, listener.Addr().String(), testEntry("in-use"), healthcheck.NewHandler(version.String()))
	require.NotNil(t, srv)
}

func TestShutdownHTTP_NilServer(t *testing.T) {
	require.NotPanics(t, func() { shutdownHTTP(nil, testEntry("nil")) })
}

func TestServeHTTP_ShutdownStopsServing(t *testing.T) {
	logger := testEntry("api")

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})

	errCh := make(chan error, 1)
	srv := serveHTTP(lis, mux, logger, errCh)

	url := fmt.Sprintf("http://%s/ping", lis.Addr())
	code, body := get(t, url)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "pong", body)

	shutdownHTTP(srv, logger)

	_, err = http.Get(url)
	require.Error(t, err, "server should be stopped after shutdownHTTP")
	select {
	case err := <-errCh:
		t.Fatalf("graceful shutdown must not report an error: %v", err)
	default:
	}
}

func TestServeHTTP_ReportsServeError(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, lis.Close())

	errCh := make(chan error, 1)
	serveHTTP(lis, http.NewServeMux(), testEntry("closed"), errCh)

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected serve error on closed listener")
	}
}

// findFreePort находит свободный порт для тестов
func findFreePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}
