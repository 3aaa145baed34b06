package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/richardliu001/pix-acquirer/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTokenServer(t *testing.T, calls *int32, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_, _ = fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":3600}`, n)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenProvider_CachesUntilRenewWindow(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, &calls, http.StatusOK)
	p := NewTokenProvider(TokenConfig{TokenURL: srv.URL, RenewBefore: 5 * time.Minute, Retry: retry.Policy{MaxAttempts: 1}},
		srv.Client(), zap.NewNop().Sugar())
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	now = now.Add(54 * time.Minute)
	tok, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	now = now.Add(2 * time.Minute)
	tok, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestTokenProvider_ConcurrentCallersShareFetch(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, &calls, http.StatusOK)
	p := NewTokenProvider(TokenConfig{TokenURL: srv.URL, RenewBefore: time.Minute}, srv.Client(), zap.NewNop().Sugar())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Token(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestTokenProvider_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		_, _ = fmt.Fprint(w, `{"access_token":"tok-shared","expires_in":3600}`)
	}))
	t.Cleanup(srv.Close)
	p := NewTokenProvider(TokenConfig{TokenURL: srv.URL, Retry: retry.Policy{MaxAttempts: 1}}, srv.Client(), zap.NewNop().Sugar())

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := p.Token(first)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		tok string
		err error
	}
	waiter := make(chan result, 1)
	go func() {
		tok, err := p.Token(context.Background())
		waiter <- result{tok, err}
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(release)

	res := <-waiter
	require.NoError(t, res.err)
	assert.Equal(t, "tok-shared", res.tok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTokenProvider_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, &calls, http.StatusUnauthorized)
	p := NewTokenProvider(TokenConfig{TokenURL: srv.URL, Retry: retry.Policy{MaxAttempts: 3}}, srv.Client(), zap.NewNop().Sugar())

	_, err := p.Token(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTokenProvider_ServerErrorRetried(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, &calls, http.StatusServiceUnavailable)
	p := NewTokenProvider(TokenConfig{TokenURL: srv.URL, Retry: retry.Policy{MaxAttempts: 3}}, srv.Client(), zap.NewNop().Sugar())

	_, err := p.Token(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
