package lifecycle

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestCloseRunsInReverseOrder(t *testing.T) {
	m := NewManager(zerolog.Nop())

	var order []string
	m.RegisterFunc("store", func() error {
		order = append(order, "store")
		return nil
	})
	m.RegisterFunc("worker", func() error {
		order = append(order, "worker")
		return nil
	})
	m.RegisterFunc("monitor", func() error {
		order = append(order, "monitor")
		return nil
	})

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := []string{"monitor", "worker", "store"}
	if len(order) != len(want) {
		t.Fatalf("Expected %d closes, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("Close %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}

func TestCloseContinuesPastFailures(t *testing.T) {
	m := NewManager(zerolog.Nop())

	firstErr := errors.New("redis connection reset")
	var storeClosed bool

	m.RegisterFunc("store", func() error {
		storeClosed = true
		return nil
	})
	m.RegisterFunc("idempotency", func() error {
		return firstErr
	})

	err := m.Close()
	if err != firstErr {
		t.Errorf("Expected first error returned, got %v", err)
	}
	if !storeClosed {
		t.Error("Expected later closers to run after a failure")
	}
}

func TestCloseEmptyManager(t *testing.T) {
	if err := NewManager(zerolog.Nop()).Close(); err != nil {
		t.Errorf("Expected nil from empty manager, got %v", err)
	}
}
