// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package syncer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/flagkit/go-client/internal/dto"
	"github.com/flagkit/go-client/pkg/log"
)

const (
	keepAliveTimeout = 70 * time.Second
	backoffBase      = time.Second
	backoffMax       = 60 * time.Second

	// tokenRefreshSkew is how far ahead of a token's exp claim the client
	// proactively reconnects with a fresh one, per §4.8 - well clear of
	// clock skew and in-flight request latency.
	tokenRefreshSkew = 10 * time.Minute
)

// errTokenRefresh signals that readLoop returned only because the current
// token is about to expire, not because anything actually failed: Run
// reconnects immediately, skipping the failure backoff.
var errTokenRefresh = errors.New("syncer: proactive token refresh")

// AuthToken is what the auth endpoint hands back: a short-lived JWT good
// for one streaming connection, plus the channel list it's scoped to.
type AuthToken struct {
	Token    string   `json:"token"`
	Channels []string `json:"channels"`
}

// ExpiresAt parses the JWT's exp claim (without verifying the signature -
// verification is the backend's job; the client only needs to know when to
// refresh) so the SSE client knows when to request a new token.
func (a AuthToken) ExpiresAt() time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	_, _, err := parser.ParseUnverified(a.Token, claims)
	if err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// newRefreshTimer fires tokenRefreshSkew before token's exp claim. A token
// with no parseable expiry (ExpiresAt returns the zero Time) never fires,
// relying on the keep-alive timeout or a server-side close instead.
func newRefreshTimer(token AuthToken) *time.Timer {
	exp := token.ExpiresAt()
	if exp.IsZero() {
		return time.NewTimer(time.Duration(1<<63 - 1))
	}
	d := time.Until(exp.Add(-tokenRefreshSkew))
	if d <= 0 {
		d = time.Millisecond
	}
	return time.NewTimer(d)
}

// AuthFetcher retrieves a fresh streaming auth token.
type AuthFetcher func(ctx context.Context) (AuthToken, error)

// SSEClient maintains a streaming connection to the streaming API, decoding
// frames into dto.Notification and publishing them on Bus rather than
// dispatching to the sync manager directly (see §4.13).
type SSEClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Auth       AuthFetcher
	Bus        *Bus

	// OnStreamReady is invoked once the first frame (or the initial
	// occupancy message) has been received on a fresh connection.
	OnStreamReady func()
	// OnDisconnect is invoked whenever the connection drops, before a
	// reconnect attempt is scheduled.
	OnDisconnect func(err error)
}

// Run connects and reconnects until ctx is cancelled. It never returns an
// error: every failure is logged and retried with backoff, since a
// streaming outage must degrade to polling rather than crash the SDK.
func (c *SSEClient) Run(ctx context.Context) {
	backoff := backoffBase
	for {
		if ctx.Err() != nil {
			return
		}

		err := c.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		if errors.Is(err, errTokenRefresh) {
			log.Infof("syncer: SSE token nearing expiry, reconnecting now")
			backoff = backoffBase
			continue
		}

		if c.OnDisconnect != nil {
			c.OnDisconnect(err)
		}
		log.Warnf("syncer: SSE connection ended, reconnecting in %s: %v", backoff, err)

		jitter := time.Duration(float64(backoff) * (rand.Float64() - 0.5))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff + jitter):
		}

		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

func (c *SSEClient) connectOnce(ctx context.Context) error {
	token, err := c.Auth(ctx)
	if err != nil {
		return fmt.Errorf("fetching streaming auth token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/sse", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token.Token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sse handshake returned %d", resp.StatusCode)
	}

	return c.readLoop(ctx, resp, token)
}

func (c *SSEClient) readLoop(ctx context.Context, resp *http.Response, token AuthToken) error {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	deadline := time.NewTimer(keepAliveTimeout)
	defer deadline.Stop()

	refresh := newRefreshTimer(token)
	defer refresh.Stop()

	frames := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		var data strings.Builder
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if data.Len() > 0 {
					frames <- data.String()
					data.Reset()
				}
			case strings.HasPrefix(line, "data:"):
				data.WriteString(strings.TrimPrefix(line, "data:"))
			}
		}
		scanErr <- scanner.Err()
		close(frames)
	}()

	ready := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-deadline.C:
			return fmt.Errorf("no frame received within %s, forcing reconnect", keepAliveTimeout)

		case <-refresh.C:
			return errTokenRefresh

		case frame, ok := <-frames:
			if !ok {
				if err := <-scanErr; err != nil {
					return err
				}
				return fmt.Errorf("sse stream closed by server")
			}
			if !deadline.Stop() {
				<-deadline.C
			}
			deadline.Reset(keepAliveTimeout)

			if !ready {
				ready = true
				if c.OnStreamReady != nil {
					c.OnStreamReady()
				}
			}
			c.handleFrame(frame)
		}
	}
}

func (c *SSEClient) handleFrame(frame string) {
	var n dto.Notification
	if err := json.Unmarshal([]byte(frame), &n); err != nil {
		log.Warnf("syncer: unparseable SSE frame, skipping: %v", err)
		return
	}
	c.Bus.Publish(n)
}
