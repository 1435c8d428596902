// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package syncer

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagkit/go-client/internal/dto"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"exp": exp.Unix()}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte("irrelevant-test-secret"))
	require.NoError(t, err)
	return s
}

func TestAuthTokenExpiresAt(t *testing.T) {
	want := time.Now().Add(time.Hour).Truncate(time.Second)
	token := AuthToken{Token: signedToken(t, want)}
	assert.WithinDuration(t, want, token.ExpiresAt(), time.Second)
}

func TestAuthTokenExpiresAtUnparseable(t *testing.T) {
	token := AuthToken{Token: "not-a-jwt"}
	assert.True(t, token.ExpiresAt().IsZero())
}

func TestNewRefreshTimerFiresBeforeExpiry(t *testing.T) {
	// exp is only a few milliseconds past tokenRefreshSkew's horizon, so the
	// timer fires almost immediately instead of the test waiting ~10 minutes.
	token := AuthToken{Token: signedToken(t, time.Now().Add(tokenRefreshSkew+5*time.Millisecond))}
	timer := newRefreshTimer(token)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-time.After(time.Second):
		t.Fatal("refresh timer did not fire before deadline")
	}
}

func TestNewRefreshTimerNeverFiresWithoutExpiry(t *testing.T) {
	timer := newRefreshTimer(AuthToken{Token: "not-a-jwt"})
	defer timer.Stop()

	select {
	case <-timer.C:
		t.Fatal("refresh timer fired for a token with no parseable expiry")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleFramePublishesToBus(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	c := &SSEClient{Bus: bus}

	c.handleFrame(`{"type":"SPLIT_UPDATE","changeNumber":5}`)

	select {
	case n := <-ch:
		assert.Equal(t, dto.NotificationSplitUpdate, n.Type)
		assert.Equal(t, int64(5), n.ChangeNumber)
	case <-time.After(time.Second):
		t.Fatal("handleFrame did not publish a notification")
	}
}
