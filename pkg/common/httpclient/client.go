package httpclient

import (
	"context"
	"net"
	"net/http"
	"time"
)

// New creates an HTTP client tuned for outbound calls to third-party
// APIs (the LLM endpoint).
func New(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Retry executes fn up to attempts times with doubling delay, capped
// at 2s. The job-level retry subsystem is separate; this only smooths
// over short network blips on a single outbound call.
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts <= 1 {
		return fn()
	}

	var err error
	delay := baseDelay
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}

		if i == attempts-1 {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if delay > 2*time.Second {
			delay = 2 * time.Second
		}
	}

	return err
}
