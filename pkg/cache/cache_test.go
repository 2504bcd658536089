package cache

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSetGetDelete(t *testing.T) {
	c := New()

	c.Set("a", 1, 0)
	if v, ok := c.Get("a"); !ok || v.(int) != 1 {
		t.Fatalf("Get(a)=%v,%v, expected 1,true", v, ok)
	}

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected a to be deleted")
	}
}

func TestExpiry(t *testing.T) {
	c := New()

	c.Set("short", "v", 10*time.Millisecond)
	if _, ok := c.Get("short"); !ok {
		t.Fatal("expected short to be live immediately")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("short"); ok {
		t.Fatal("expected short to have expired")
	}

	if removed := c.Cleanup(); removed != 1 {
		t.Fatalf("Cleanup removed %d, expected 1", removed)
	}
	if c.Len() != 0 {
		t.Fatalf("Len=%d after cleanup, expected 0", c.Len())
	}
}

func TestGetOrCompute(t *testing.T) {
	c := New()

	calls := 0
	factory := func() (any, error) {
		calls++
		return "computed", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrCompute("k", time.Minute, factory)
		if err != nil {
			t.Fatalf("GetOrCompute returned error: %v", err)
		}
		if v.(string) != "computed" {
			t.Fatalf("GetOrCompute=%v, expected computed", v)
		}
	}
	if calls != 1 {
		t.Fatalf("factory called %d times, expected 1", calls)
	}
}

func TestGetOrComputeErrorNotCached(t *testing.T) {
	c := New()

	boom := errors.New("boom")
	calls := 0
	_, err := c.GetOrCompute("k", time.Minute, func() (any, error) {
		calls++
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	v, err := c.GetOrCompute("k", time.Minute, func() (any, error) {
		calls++
		return 42, nil
	})
	if err != nil || v.(int) != 42 {
		t.Fatalf("second compute=%v,%v, expected 42,nil", v, err)
	}
	if calls != 2 {
		t.Fatalf("factory called %d times, expected 2", calls)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Set("shared", n, time.Minute)
				c.Get("shared")
			}
		}(i)
	}
	wg.Wait()

	if _, ok := c.Get("shared"); !ok {
		t.Fatal("expected shared key to survive concurrent writes")
	}
}
