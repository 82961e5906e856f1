/*
 * Copyright 2025 CESNET and its licensors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type testClock struct {
	mutex sync.Mutex
	now   time.Time
}

func (c *testClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

func TestCacheGetOrComputeComputesOnce(t *testing.T) {
	clock := &testClock{now: time.Unix(1700000000, 0)}
	c, err := New[string]("test", 8, time.Minute, clock.Now)
	if err != nil {
		t.Fatal(err)
	}

	var calls int64
	compute := func(ctx context.Context) (string, error) {
		atomic.AddInt64(&calls, 1)
		return "value", nil
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		value, err := c.GetOrCompute(ctx, "key", compute)
		if err != nil {
			t.Fatal(err)
		}
		if value != "value" {
			t.Errorf("got %q, want %q", value, "value")
		}
	}

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Errorf("compute called %d times, want 1", got)
	}
}

func TestCacheGetOrComputeConcurrent(t *testing.T) {
	clock := &testClock{now: time.Unix(1700000000, 0)}
	c, err := New[int]("test", 8, time.Minute, clock.Now)
	if err != nil {
		t.Fatal(err)
	}

	var calls int64
	started := make(chan struct{})
	compute := func(ctx context.Context) (int, error) {
		atomic.AddInt64(&calls, 1)
		<-started
		return 42, nil
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := c.GetOrCompute(ctx, "key", compute)
			if err != nil {
				t.Error(err)
				return
			}
			if value != 42 {
				t.Errorf("got %d, want 42", value)
			}
		}()
	}
	close(started)
	wg.Wait()

	// All callers racing on the cold key share the in-flight computations,
	// late arrivals may still start a fresh one after the result landed.
	if got := atomic.LoadInt64(&calls); got > 8 {
		t.Errorf("compute called %d times", got)
	}
	if got, ok := c.Get("key"); !ok || got != 42 {
		t.Errorf("Get after concurrent fill got (%d, %v)", got, ok)
	}
}

func TestCacheExpiry(t *testing.T) {
	clock := &testClock{now: time.Unix(1700000000, 0)}
	c, err := New[string]("test", 8, time.Minute, clock.Now)
	if err != nil {
		t.Fatal(err)
	}

	c.Set("key", "value")
	if _, ok := c.Get("key"); !ok {
		t.Fatal("fresh entry not found")
	}

	clock.Advance(2 * time.Minute)
	if _, ok := c.Get("key"); ok {
		t.Error("stale entry still returned")
	}
	if got := c.Len(); got != 0 {
		t.Errorf("stale entry not removed, Len got %d", got)
	}
}

func TestCacheLRUBound(t *testing.T) {
	clock := &testClock{now: time.Unix(1700000000, 0)}
	c, err := New[int]("test", 2, time.Minute, clock.Now)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 4; i++ {
		c.Set(fmt.Sprintf("key-%d", i), i)
	}

	if got := c.Len(); got != 2 {
		t.Errorf("Len got %d, want 2", got)
	}
	if _, ok := c.Get("key-0"); ok {
		t.Error("oldest entry survived eviction")
	}
	if got, ok := c.Get("key-3"); !ok || got != 3 {
		t.Errorf("newest entry got (%d, %v)", got, ok)
	}
}

func TestCacheFailedComputationsNotCached(t *testing.T) {
	clock := &testClock{now: time.Unix(1700000000, 0)}
	c, err := New[string]("test", 8, time.Minute, clock.Now)
	if err != nil {
		t.Fatal(err)
	}

	var calls int64
	computeErr := errors.New("backend down")
	compute := func(ctx context.Context) (string, error) {
		atomic.AddInt64(&calls, 1)
		return "", computeErr
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := c.GetOrCompute(ctx, "key", compute); !errors.Is(err, computeErr) {
			t.Errorf("got error %v, want %v", err, computeErr)
		}
	}

	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Errorf("compute called %d times, want 2", got)
	}
	if _, ok := c.Get("key"); ok {
		t.Error("failed computation was cached")
	}
}

func TestCacheInvalidate(t *testing.T) {
	clock := &testClock{now: time.Unix(1700000000, 0)}
	c, err := New[string]("test", 8, time.Minute, clock.Now)
	if err != nil {
		t.Fatal(err)
	}

	c.Set("key", "value")
	c.Invalidate("key")
	if _, ok := c.Get("key"); ok {
		t.Error("invalidated entry still returned")
	}
}
