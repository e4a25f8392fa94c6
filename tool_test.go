package aster

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func echoTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: "echo " + name,
		Parameters:  []byte(`{"type":"object","properties":{"value":{"type":"string"}}}`),
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return args["value"], nil
		},
	}
}

func TestToolRegisterDuplicate(t *testing.T) {
	reg := NewToolRegistry()
	if err := reg.Register(echoTool("echo")); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(echoTool("echo")); err == nil {
		t.Fatal("duplicate tool name must fail")
	}
}

func TestToolDescriptorOrderStable(t *testing.T) {
	reg := NewToolRegistry()
	names := []string{"zeta", "alpha", "mid", "beta"}
	for _, n := range names {
		if err := reg.Register(echoTool(n)); err != nil {
			t.Fatal(err)
		}
	}
	for range 5 {
		descriptors := reg.Descriptors()
		for i, d := range descriptors {
			if d.Name != names[i] {
				t.Fatalf("descriptor order changed: got %v at %d, want %v", d.Name, i, names[i])
			}
		}
	}
}

func TestToolSetSource(t *testing.T) {
	reg := NewToolRegistry()
	if err := reg.Register(echoTool("echo")); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetSource("echo", SourceMCP); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetSource("ghost", SourceSkill); err == nil {
		t.Fatal("setting source on an unknown tool must fail")
	}
}

func TestToolExecuteUnknown(t *testing.T) {
	reg := NewToolRegistry()
	if _, err := reg.Execute(context.Background(), "nope", nil); err == nil {
		t.Fatal("executing an unknown tool must fail")
	}
}

func TestToolSchemaValidation(t *testing.T) {
	reg := NewToolRegistry()
	err := reg.Register(Tool{
		Name:        "strict",
		Description: "requires path",
		Parameters:  []byte(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return "ok", nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := reg.Execute(context.Background(), "strict", mustJSON(map[string]any{"path": "a"})); err != nil {
		t.Fatalf("valid arguments rejected: %v", err)
	}
	if _, err := reg.Execute(context.Background(), "strict", mustJSON(map[string]any{})); err == nil {
		t.Fatal("missing required argument must be rejected")
	}
	if _, err := reg.Execute(context.Background(), "strict", mustJSON(map[string]any{"path": 7})); err == nil {
		t.Fatal("wrong argument type must be rejected")
	}
}

func TestToolPanicRecovered(t *testing.T) {
	reg := NewToolRegistry()
	err := reg.Register(Tool{
		Name:        "boom",
		Description: "always panics",
		Handler: func(_ context.Context, _ map[string]any) (any, error) {
			panic("kaboom")
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Execute(context.Background(), "boom", nil); err == nil {
		t.Fatal("panic must surface as an error")
	}
}

// trackingLock counts concurrent holders per key.
type trackingLock struct {
	inner      *KeyLock
	mu         sync.Mutex
	held       map[string]int
	maxHeld    map[string]int
	releases   atomic.Int32
	panicsSeen atomic.Int32
}

func newTrackingLock() *trackingLock {
	return &trackingLock{inner: NewKeyLock(), held: map[string]int{}, maxHeld: map[string]int{}}
}

func (l *trackingLock) Acquire(ctx context.Context, key string) error {
	if err := l.inner.Acquire(ctx, key); err != nil {
		return err
	}
	l.mu.Lock()
	l.held[key]++
	if l.held[key] > l.maxHeld[key] {
		l.maxHeld[key] = l.held[key]
	}
	l.mu.Unlock()
	return nil
}

func (l *trackingLock) Release(key string) {
	l.mu.Lock()
	l.held[key]--
	l.mu.Unlock()
	l.releases.Add(1)
	l.inner.Release(key)
}

func TestToolFileLockSerializesPerKey(t *testing.T) {
	lock := newTrackingLock()
	reg := NewToolRegistry(WithLockProvider(lock))

	var inFlight atomic.Int32
	var maxInFlight atomic.Int32
	err := reg.Register(Tool{
		Name:        "write_file",
		Description: "writes a file",
		Parameters:  []byte(`{"type":"object","properties":{"path":{"type":"string"}}}`),
		FileParam:   "path",
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			n := inFlight.Add(1)
			for {
				old := maxInFlight.Load()
				if n <= old || maxInFlight.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return "done", nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	args := mustJSON(map[string]any{"path": "shared.txt"})
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Execute(context.Background(), "write_file", args); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if got := lock.maxHeld["shared.txt"]; got != 1 {
		t.Errorf("at most one concurrent execution per key, saw %d", got)
	}
	if got := lock.releases.Load(); got != 8 {
		t.Errorf("every acquire must release: got %d releases, want 8", got)
	}
}

func TestToolLockReleasedOnPanic(t *testing.T) {
	lock := newTrackingLock()
	reg := NewToolRegistry(WithLockProvider(lock))
	err := reg.Register(Tool{
		Name:        "panicky",
		Description: "panics while holding the lock",
		Parameters:  []byte(`{"type":"object","properties":{"path":{"type":"string"}}}`),
		FileParam:   "path",
		Handler: func(_ context.Context, _ map[string]any) (any, error) {
			panic("mid-write")
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	args := mustJSON(map[string]any{"path": "x"})
	if _, err := reg.Execute(context.Background(), "panicky", args); err == nil {
		t.Fatal("panic must become an error")
	}
	if lock.releases.Load() != 1 {
		t.Fatal("lock must be released after a panic")
	}
	// A second call must not deadlock.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = reg.Execute(context.Background(), "panicky", args)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock was not released: second call deadlocked")
	}
}

func TestToolResultShapes(t *testing.T) {
	reg := NewToolRegistry()
	if err := reg.Register(Tool{
		Name:        "structured",
		Description: "returns a map",
		Handler: func(_ context.Context, _ map[string]any) (any, error) {
			return map[string]any{"content": "A"}, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	result, err := reg.Execute(context.Background(), "structured", json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := result.(map[string]any); !ok {
		t.Errorf("structured result lost its shape: %T", result)
	}
}
