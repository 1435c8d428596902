// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package syncer

import (
	"encoding/json"
	"sync"
	"time"

	natsio "github.com/nats-io/nats.go"

	"github.com/flagkit/go-client/internal/dto"
	"github.com/flagkit/go-client/pkg/log"
)

// Bus is the internal publish/subscribe fan-out between its producer (the
// SSE client) and its consumers (the sync manager and - if configured - an
// external NATS mirror). Locally it is plain
// channels; NATS is an optional side door for operators who already run a
// NATS-based observability mesh.
type Bus struct {
	mu   sync.Mutex
	subs []chan dto.Notification

	natsConn   *natsio.Conn
	natsPrefix string
}

// NewBus returns an empty bus with no subscribers and no NATS mirror.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel that receives every notification published
// from here on. The channel is buffered so a slow subscriber never blocks
// Publish; if it fills up, the oldest unread notification is silently
// dropped for that subscriber only - the subscriber's own job is to keep up,
// not to stall the producer.
func (b *Bus) Subscribe() <-chan dto.Notification {
	ch := make(chan dto.Notification, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish fans n out to every subscriber and, if a NATS mirror is
// configured, to the matching subject.
func (b *Bus) Publish(n dto.Notification) {
	b.mu.Lock()
	subs := append([]chan dto.Notification{}, b.subs...)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- n:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- n:
			default:
			}
		}
	}

	b.mirrorToNATS(n)
}

// EnableNATSMirror connects to addr and starts republishing every
// notification to "<prefix>.splits" / "<prefix>.segments" / "<prefix>.control"
// subjects. Connection failures are logged and never propagate: the NATS
// mirror is strictly additive and must never affect sync correctness.
func (b *Bus) EnableNATSMirror(addr, prefix string) {
	conn, err := natsio.Connect(addr,
		natsio.MaxReconnects(-1),
		natsio.ReconnectWait(time.Second),
	)
	if err != nil {
		log.Warnf("syncer: NATS mirror connect to %q failed: %v", addr, err)
		return
	}
	b.mu.Lock()
	b.natsConn = conn
	b.natsPrefix = prefix
	b.mu.Unlock()
}

func (b *Bus) mirrorToNATS(n dto.Notification) {
	b.mu.Lock()
	conn, prefix := b.natsConn, b.natsPrefix
	b.mu.Unlock()
	if conn == nil {
		return
	}

	subject := prefix + "." + subjectFor(n.Type)
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	if err := conn.Publish(subject, payload); err != nil {
		log.Warnf("syncer: NATS mirror publish to %q failed: %v", subject, err)
	}
}

func subjectFor(t dto.NotificationType) string {
	switch t {
	case dto.NotificationSplitUpdate, dto.NotificationSplitKill:
		return "splits"
	case dto.NotificationSegmentUpd:
		return "segments"
	default:
		return "control"
	}
}

// Close tears down the NATS mirror connection, if any.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.natsConn != nil {
		b.natsConn.Close()
		b.natsConn = nil
	}
}
