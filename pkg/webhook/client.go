package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kacperjurak/cxtfit/pkg/models"
	"github.com/sirupsen/logrus"
)

// Options configures a Client.
type Options struct {
	Timeout       time.Duration // one request
	MaxRetry      time.Duration // all attempts of one delivery
	RetryInterval time.Duration // first retry delay, doubled on every retry
	Log           logrus.FieldLogger
}

// Client handles webhook HTTP requests with connection pooling and retries
type Client struct {
	url        string
	httpClient *http.Client
	opts       Options
	log        logrus.FieldLogger
	bufferPool sync.Pool // JSON marshaling buffers
}

// NewClient creates a new webhook client posting to url
func NewClient(url string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = 2 * time.Minute
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	return &Client{
		url:  url,
		opts: opts,
		log:  opts.Log,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 4096))
			},
		},
	}
}

// URL returns the webhook target.
func (c *Client) URL() string { return c.url }

// Send posts the report of item. Network errors, 429 and 5xx responses are
// retried with exponential backoff, other 4xx responses are final.
func (c *Client) Send(ctx context.Context, item models.WebhookItem) error {
	payload := NewReport(item)

	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return fmt.Errorf("failed to marshal webhook data: %w", err)
	}
	body := buf.Bytes()

	attempts := 0
	operation := func() error {
		attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send webhook: %w", err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("webhook request failed with status %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("webhook request rejected with status %d", resp.StatusCode))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.RetryInterval
	b.MaxElapsedTime = c.opts.MaxRetry
	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		c.log.WithError(err).WithFields(logrus.Fields{"request": item.RequestID, "retry_in": d}).
			Warn("webhook delivery failed, retrying")
	})
	if err != nil {
		return err
	}

	c.log.WithFields(logrus.Fields{
		"request":  item.RequestID,
		"r2":       payload.R2,
		"success":  payload.Success,
		"attempts": attempts,
	}).Info("webhook sent")
	return nil
}
