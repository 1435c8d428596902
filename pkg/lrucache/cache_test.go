package lrucache

import (
	"sync"
	"testing"
	"time"
)

func TestGetComputesOnce(t *testing.T) {
	c := New(1024)
	calls := 0
	compute := func() (interface{}, time.Duration, int) {
		calls++
		return "value", time.Minute, 1
	}

	if v := c.Get("k", compute); v != "value" {
		t.Fatalf("unexpected value: %v", v)
	}
	if v := c.Get("k", compute); v != "value" {
		t.Fatalf("unexpected value on second get: %v", v)
	}
	if calls != 1 {
		t.Fatalf("expected computeValue to run once, ran %d times", calls)
	}
}

func TestGetConcurrentWaitsForComputation(t *testing.T) {
	c := New(1024)
	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c.Get("k", func() (interface{}, time.Duration, int) {
			close(started)
			<-release
			return 42, time.Minute, 1
		})
	}()

	<-started
	go func() {
		defer wg.Done()
		v := c.Get("k", nil)
		if v != nil && v != 42 {
			t.Errorf("unexpected value from concurrent Get: %v", v)
		}
	}()

	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	if v := c.Get("k", nil); v != 42 {
		t.Fatalf("expected cached value 42, got %v", v)
	}
}

func TestExpirationEvictsEntry(t *testing.T) {
	c := New(1024)
	c.Put("k", "v", 1, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if v := c.Get("k", nil); v != nil {
		t.Fatalf("expected expired entry to be gone, got %v", v)
	}
}

func TestEvictsOverMemoryBudget(t *testing.T) {
	c := New(2)
	c.Put("a", "1", 1, time.Hour)
	c.Put("b", "2", 1, time.Hour)
	c.Put("c", "3", 1, time.Hour)

	count := 0
	c.Keys(func(key string, val interface{}) { count++ })
	if count > 2 {
		t.Fatalf("expected at most 2 entries within budget, got %d", count)
	}
}

func TestDel(t *testing.T) {
	c := New(1024)
	c.Put("k", "v", 1, time.Hour)
	if !c.Del("k") {
		t.Fatal("expected Del to report key present")
	}
	if c.Del("k") {
		t.Fatal("expected second Del to report key absent")
	}
}
