package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/avast/retry-go/v4"

	"kptv-catchup/work/config"
	"kptv-catchup/work/logger"
	"kptv-catchup/work/utils"
)

// ErrEmptyContent is returned when a playlist, guide or genre source loads
// without any bytes.
var ErrEmptyContent = errors.New("empty content")

// HeaderSettingClient wraps http.Client to set the configured request headers
// on every outbound request.
type HeaderSettingClient struct {
	Client *http.Client
	config *config.Config
}

// NewHeaderSettingClient builds the shared client for playlist, guide and
// stream inspection requests.
func NewHeaderSettingClient(cfg *config.Config) *HeaderSettingClient {
	client := &http.Client{
		Timeout: cfg.RequestTimeout,
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}

	return &HeaderSettingClient{
		Client: client,
		config: cfg,
	}
}

// Do sends req with the configured headers.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	return hsc.Client.Do(req)
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", hsc.config.UserAgent)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Accept", "*/*")
}

// FetchUrlHead requests the first bytes of url and returns the status code
// with up to limit bytes of body. Player "|" options are stripped first.
//
// Parameters:
//   - ctx: cancels the request
//   - url: resource to request
//   - limit: maximum number of body bytes to read
//
// Returns:
//   - int: HTTP status code
//   - []byte: body prefix
//   - error: transport failure; HTTP error statuses are not errors
func (hsc *HeaderSettingClient) FetchUrlHead(ctx context.Context, url string, limit int64) (int, []byte, error) {
	target := utils.StripProtocolOptions(url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", limit-1))

	resp, err := hsc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read body: %w", err)
	}

	status := resp.StatusCode
	// a ranged answer carries the same content
	if status == http.StatusPartialContent {
		status = http.StatusOK
	}

	logger.Debug("{client/client - FetchUrlHead} %s -> %d (%d bytes)", utils.LogURL(hsc.config, target), status, len(body))
	return status, body, nil
}

// Fetch returns the contents of a local file or an http(s) URL. Missing or
// empty sources and failed requests are retried with a fixed delay, up to
// the configured number of attempts.
func (hsc *HeaderSettingClient) Fetch(ctx context.Context, location string) ([]byte, error) {
	data, err := retry.DoWithData(
		func() ([]byte, error) {
			return hsc.fetchOnce(ctx, location)
		},
		retry.Context(ctx),
		retry.Attempts(uint(hsc.config.LoadRetries)),
		retry.Delay(hsc.config.LoadRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("{client/client - Fetch} attempt %d for %s failed: %v", n+1, utils.LogURL(hsc.config, location), err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load %s: %w", utils.LogURL(hsc.config, location), err)
	}
	return data, nil
}

func (hsc *HeaderSettingClient) fetchOnce(ctx context.Context, location string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if utils.IsHTTPURL(location) {
		data, err = hsc.fetchHTTP(ctx, location)
	} else {
		data, err = os.ReadFile(location)
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyContent
	}
	return data, nil
}

func (hsc *HeaderSettingClient) fetchHTTP(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, utils.StripProtocolOptions(location), nil)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := hsc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
