package session

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/hfchat/internal/chat"
)

type stubCompleter struct {
	release chan struct{}
}

func (s *stubCompleter) Complete(_ context.Context, _, content string) (string, error) {
	if s.release != nil {
		<-s.release
	}
	return "echo: " + content, nil
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry(context.Background(), &stubCompleter{}, nil)

	if r.Get("dev1", "tab-1") != nil {
		t.Fatal("Expected no controller before first use")
	}

	c1 := r.GetOrCreate("dev1", "tab-1")
	c2 := r.GetOrCreate("dev1", "tab-1")
	if c1 == nil || c1 != c2 {
		t.Fatalf("Expected the same controller, got %p and %p", c1, c2)
	}

	other := r.GetOrCreate("dev1", "tab-2")
	if other == c1 {
		t.Error("Expected separate tabs to get separate controllers")
	}
	if r.GetOrCreate("dev2", "tab-1") == c1 {
		t.Error("Expected separate devices to get separate controllers")
	}
	if r.Len() != 3 {
		t.Errorf("Expected 3 controllers, got %d", r.Len())
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRegistry_SweepEvictsIdle(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	r := NewRegistry(context.Background(), &stubCompleter{}, nil, chat.WithClock(clock.Now))
	r.GetOrCreate("dev1", "idle")
	fresh := r.GetOrCreate("dev1", "fresh")

	clock.Advance(45 * time.Minute)
	fresh.SetDraft("still typing")
	clock.Advance(15 * time.Minute)

	if removed := r.Sweep(clock.Now(), 30*time.Minute); removed != 1 {
		t.Fatalf("Expected one eviction, got %d", removed)
	}
	if r.Get("dev1", "idle") != nil {
		t.Error("Expected idle session to be evicted")
	}
	if r.Get("dev1", "fresh") != fresh {
		t.Error("Expected recently used session to remain")
	}
}

func TestRegistry_GetOrCreateMarksActivity(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	r := NewRegistry(context.Background(), &stubCompleter{}, nil, chat.WithClock(clock.Now))
	c := r.GetOrCreate("dev1", "tab-1")

	clock.Advance(45 * time.Minute)
	if got := r.GetOrCreate("dev1", "tab-1"); got != c {
		t.Fatal("Expected the existing controller")
	}
	clock.Advance(15 * time.Minute)

	if removed := r.Sweep(clock.Now(), 30*time.Minute); removed != 0 {
		t.Errorf("Expected resolved session to survive the sweep, removed %d", removed)
	}
	if r.Get("dev1", "tab-1") != c {
		t.Error("Expected session to remain")
	}
}

func TestRegistry_WaitDrainsInFlight(t *testing.T) {
	stub := &stubCompleter{release: make(chan struct{})}
	r := NewRegistry(context.Background(), stub, nil)
	c := r.GetOrCreate("dev1", "tab-1")
	c.SubmitCredential("hf_abc")
	if _, err := c.SubmitInput("Hello"); err != nil {
		t.Fatalf("SubmitInput failed: %v", err)
	}

	waited := make(chan struct{})
	go func() {
		r.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Expected Wait to block while a request is in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(stub.release)
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Wait to return once the request settled")
	}
	if c.InFlight() {
		t.Error("Expected controller to be idle after Wait")
	}
}

func TestRegistry_SweepKeepsRecent(t *testing.T) {
	r := NewRegistry(context.Background(), &stubCompleter{}, nil)
	c := r.GetOrCreate("dev1", "tab-1")

	if removed := r.Sweep(c.LastActivity().Add(time.Minute), time.Hour); removed != 0 {
		t.Errorf("Expected no evictions, got %d", removed)
	}
	if r.Get("dev1", "tab-1") != c {
		t.Error("Expected recent session to remain")
	}
}

func TestRegistry_SweepSkipsInFlight(t *testing.T) {
	stub := &stubCompleter{release: make(chan struct{})}
	r := NewRegistry(context.Background(), stub, nil)
	c := r.GetOrCreate("dev1", "tab-1")
	c.SubmitCredential("hf_abc")
	done, err := c.SubmitInput("Hello")
	if err != nil {
		t.Fatalf("SubmitInput failed: %v", err)
	}

	if removed := r.Sweep(c.LastActivity().Add(24*time.Hour), time.Minute); removed != 0 {
		t.Errorf("Expected in-flight session to be kept, removed %d", removed)
	}

	close(stub.release)
	<-done

	if removed := r.Sweep(c.LastActivity().Add(24*time.Hour), time.Minute); removed != 1 {
		t.Errorf("Expected settled session to be evicted, removed %d", removed)
	}
}

func TestRegistry_SweepSkipsAttached(t *testing.T) {
	r := NewRegistry(context.Background(), &stubCompleter{}, nil)
	c, detach := r.Attach("dev1", "tab-1")

	if removed := r.Sweep(c.LastActivity().Add(24*time.Hour), time.Minute); removed != 0 {
		t.Errorf("Expected attached session to be kept, removed %d", removed)
	}

	detach()
	detach()

	if removed := r.Sweep(c.LastActivity().Add(24*time.Hour), time.Minute); removed != 1 {
		t.Errorf("Expected detached session to be evicted, removed %d", removed)
	}
}

func TestRegistry_StartSweeperStopsOnCancel(t *testing.T) {
	r := NewRegistry(context.Background(), &stubCompleter{}, nil)
	r.GetOrCreate("dev1", "tab-1")

	ctx, cancel := context.WithCancel(context.Background())
	r.StartSweeper(ctx, 10*time.Millisecond, time.Nanosecond)

	deadline := time.Now().Add(2 * time.Second)
	for r.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if r.Len() != 0 {
		t.Errorf("Expected sweeper to evict the idle session, %d remain", r.Len())
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(context.Background(), &stubCompleter{}, nil)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				tab := "tab-" + strconv.Itoa(i%50)
				r.GetOrCreate("dev1", tab)
				_, detach := r.Attach("dev1", tab)
				detach()
				r.Get("dev1", tab)
			}
		}()
	}
	wg.Wait()

	if r.Len() != 50 {
		t.Errorf("Expected 50 controllers, got %d", r.Len())
	}
}
