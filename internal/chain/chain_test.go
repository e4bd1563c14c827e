package chain

import (
	"errors"
	"testing"
	"time"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(
		NewMonad("http://unused", "0x0", 0, time.Second),
		NewSui("http://unused", testEventType, "0xobj", time.Second),
	)

	a, err := r.Lookup("monad")
	if err != nil {
		t.Fatalf("lookup monad: %v", err)
	}
	if a.Name() != "monad" {
		t.Fatalf("unexpected adapter %s", a.Name())
	}

	if _, err := r.Lookup("solana"); !errors.Is(err, ErrUnsupportedChain) {
		t.Fatalf("expected ErrUnsupportedChain, got %v", err)
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "monad" || names[1] != "sui" {
		t.Fatalf("unexpected names %v", names)
	}
}
