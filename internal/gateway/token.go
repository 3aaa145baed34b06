package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/richardliu001/pix-acquirer/internal/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// TokenSource yields a bearer credential for provider calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type TokenConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	// RenewBefore is how long ahead of expiry a cached token is replaced.
	RenewBefore time.Duration
	Retry       retry.Policy
	// FetchTimeout bounds one shared refresh, retries included. Defaults to 30s.
	FetchTimeout time.Duration
}

// TokenProvider fetches OAuth client-credentials tokens and caches them until
// RenewBefore ahead of their expiry. Concurrent callers share one fetch.
type TokenProvider struct {
	cfg   TokenConfig
	hc    *http.Client
	log   *zap.SugaredLogger
	now   func() time.Time
	group singleflight.Group

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewTokenProvider(cfg TokenConfig, hc *http.Client, log *zap.SugaredLogger) *TokenProvider {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	return &TokenProvider{cfg: cfg, hc: hc, log: log, now: time.Now}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Token returns the cached token or fetches a new one. The shared fetch is
// detached from the caller that started it, so one cancelled caller does not
// fail the others waiting on it.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	if tok, ok := p.cached(); ok {
		return tok, nil
	}
	ch := p.group.DoChan("token", func() (interface{}, error) {
		if tok, ok := p.cached(); ok {
			return tok, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.FetchTimeout)
		defer cancel()
		return p.refresh(fctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *TokenProvider) cached() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" || !p.now().Before(p.expiresAt.Add(-p.cfg.RenewBefore)) {
		return "", false
	}
	return p.token, true
}

func (p *TokenProvider) refresh(ctx context.Context) (string, error) {
	var resp tokenResponse
	err := p.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		r, err := p.fetch(ctx)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("gateway token: %w", err)
	}

	p.mu.Lock()
	p.token = resp.AccessToken
	p.expiresAt = p.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	p.mu.Unlock()

	p.log.Infow("gateway token renewed", "expires_in", resp.ExpiresIn)
	return resp.AccessToken, nil
}

func (p *TokenProvider) fetch(ctx context.Context) (tokenResponse, error) {
	body, _ := json.Marshal(map[string]string{
		"client_id":     p.cfg.ClientID,
		"client_secret": p.cfg.ClientSecret,
		"grant_type":    "client_credentials",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, bytes.NewReader(body))
	if err != nil {
		return tokenResponse{}, retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.hc.Do(req)
	if err != nil {
		return tokenResponse{}, err
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<16))

	if res.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: res.StatusCode, Body: string(raw)}
		if res.StatusCode < 500 {
			return tokenResponse{}, retry.Permanent(apiErr)
		}
		return tokenResponse{}, apiErr
	}
	var out tokenResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return tokenResponse{}, retry.Permanent(err)
	}
	if out.AccessToken == "" {
		return tokenResponse{}, retry.Permanent(errors.New("empty access_token"))
	}
	return out, nil
}
