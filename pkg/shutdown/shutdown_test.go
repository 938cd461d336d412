package shutdown

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestShutdown_Order(t *testing.T) {
	h := NewHandler(time.Second, nil)

	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}
	h.RegisterFunc("sinks", PrioritySinks, record("sinks"))
	h.RegisterFunc("http", PriorityHTTP, record("http"))
	h.RegisterFunc("sessions", PrioritySessions, record("sessions"))
	h.RegisterFunc("http-2", PriorityHTTP, record("http-2"))

	if err := h.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := strings.Join(order, ","); got != "http,http-2,sessions,sinks" {
		t.Errorf("order = %s", got)
	}
}

func TestShutdown_Once(t *testing.T) {
	h := NewHandler(time.Second, nil)
	if err := h.Shutdown(); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := h.Shutdown(); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("second Shutdown = %v, want ErrAlreadyClosed", err)
	}
	select {
	case <-h.Done():
	default:
		t.Error("Done not closed")
	}
}

func TestShutdown_CollectsErrors(t *testing.T) {
	h := NewHandler(time.Second, nil)
	boom := errors.New("boom")
	ran := false
	h.RegisterFunc("fails", PriorityHTTP, func(context.Context) error { return boom })
	h.RegisterFunc("after", PrioritySinks, func(context.Context) error { ran = true; return nil })

	err := h.Shutdown()
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if !ran {
		t.Error("a failing hook stopped later hooks")
	}
}

func TestShutdown_Timeout(t *testing.T) {
	h := NewHandler(10*time.Millisecond, nil)
	ran := false
	h.RegisterFunc("slow", PriorityHTTP, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	h.RegisterFunc("late", PrioritySinks, func(context.Context) error { ran = true; return nil })

	if err := h.Shutdown(); !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("err = %v, want ErrShutdownTimeout", err)
	}
	if ran {
		t.Error("hook ran after timeout")
	}
}

type closer struct{ closed bool }

func (c *closer) Close() error { c.closed = true; return nil }

func TestWait(t *testing.T) {
	h := NewHandler(time.Second, nil)
	c := &closer{}
	h.RegisterCloser("sink", PrioritySinks, c)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.Wait(ctx) }()

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return")
	}
	if !c.closed {
		t.Error("closer not run")
	}
}

func TestWait_AfterShutdown(t *testing.T) {
	h := NewHandler(time.Second, nil)
	_ = h.Shutdown()
	if err := h.Wait(context.Background()); err != nil {
		t.Errorf("Wait after Shutdown = %v", err)
	}
}
