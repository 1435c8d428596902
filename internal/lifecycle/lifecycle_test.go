package lifecycle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSupervisorStopCancelsContext(t *testing.T) {
	s := NewSupervisor(context.Background())
	var cancelled int32
	s.Go("watcher", func(ctx context.Context) {
		<-ctx.Done()
		atomic.StoreInt32(&cancelled, 1)
	})

	s.Stop(time.Second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&cancelled))
}

func TestSupervisorRecoversPanic(t *testing.T) {
	s := NewSupervisor(context.Background())
	s.Go("panicker", func(ctx context.Context) {
		panic("boom")
	})
	assert.NotPanics(t, func() {
		s.Stop(time.Second)
	})
}

func TestSupervisorRunsStopFuncs(t *testing.T) {
	s := NewSupervisor(context.Background())
	ran := false
	s.RegisterStop(func() error {
		ran = true
		return nil
	})
	s.Stop(time.Second)
	assert.True(t, ran)
}

func TestRegisterKeyDetectsDuplicate(t *testing.T) {
	dup := RegisterKey("test-key-1")
	assert.False(t, dup)

	dup = RegisterKey("test-key-1")
	assert.True(t, dup)

	UnregisterKey("test-key-1")
	UnregisterKey("test-key-1")
}
