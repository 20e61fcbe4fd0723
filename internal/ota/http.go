package ota

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/sensornode/internal/logging"
	"github.com/muurk/sensornode/internal/version"
)

// HTTPTransport fetches images over HTTP(S).
type HTTPTransport struct {
	Client *http.Client
	// ReadTimeout bounds the time a single Read may block. Zero disables it.
	ReadTimeout time.Duration
	UserAgent   string
}

// NewHTTPTransport creates a transport whose reads time out after timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		Client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: timeout,
				TLSHandshakeTimeout:   timeout,
			},
		},
		ReadTimeout: timeout,
		UserAgent:   version.UserAgent(),
	}
}

// Open issues a GET and returns the body. Non-2xx responses are open
// failures so the pipeline retries them.
func (t *HTTPTransport) Open(ctx context.Context, url string) (Stream, error) {
	// The body outlives ctx: only connecting is cancellable.
	reqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		stop()
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	if t.UserAgent != "" {
		req.Header.Set("User-Agent", t.UserAgent)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	stop()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}

	logging.Debug("OTA stream opened",
		zap.String("url", url),
		zap.Int64("content_length", resp.ContentLength))

	return &httpStream{
		resp:    resp,
		cancel:  cancel,
		timeout: t.ReadTimeout,
	}, nil
}

type httpStream struct {
	resp    *http.Response
	cancel  context.CancelFunc
	timeout time.Duration
	once    sync.Once
}

func (s *httpStream) DeclaredLength() int64 {
	return s.resp.ContentLength
}

func (s *httpStream) Read(p []byte) (int, error) {
	if s.timeout > 0 {
		t := time.AfterFunc(s.timeout, s.cancel)
		defer t.Stop()
	}
	return s.resp.Body.Read(p)
}

func (s *httpStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.resp.Body.Close()
		s.cancel()
	})
	return err
}
