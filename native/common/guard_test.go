package common

import (
	"errors"
	"testing"
)

type memGuard struct {
	flag bool
}

func (g *memGuard) GuardFlag() (bool, error)  { return g.flag, nil }
func (g *memGuard) SetGuardFlag(f bool) error { g.flag = f; return nil }

func TestEnterGuardBlocksReentry(t *testing.T) {
	g := &memGuard{}
	if err := EnterGuard(g); err != nil {
		t.Fatalf("first enter: %v", err)
	}
	if err := EnterGuard(g); !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", err)
	}
	if err := ExitGuard(g); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if err := EnterGuard(g); err != nil {
		t.Fatalf("enter after exit: %v", err)
	}
}

func TestWithGuardClearsOnSuccess(t *testing.T) {
	g := &memGuard{}
	ran := false
	if err := WithGuard(g, func() error {
		ran = true
		if !g.flag {
			t.Fatalf("flag not set inside guarded section")
		}
		return nil
	}); err != nil {
		t.Fatalf("with guard: %v", err)
	}
	if !ran {
		t.Fatalf("guarded function did not run")
	}
	if g.flag {
		t.Fatalf("flag stuck set after success")
	}
}

func TestWithGuardClearsOnError(t *testing.T) {
	g := &memGuard{}
	sentinel := errors.New("boom")
	if err := WithGuard(g, func() error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("expected propagated error, got %v", err)
	}
	if g.flag {
		t.Fatalf("flag stuck set after failure")
	}
}

func TestWithGuardNested(t *testing.T) {
	g := &memGuard{}
	var inner error
	if err := WithGuard(g, func() error {
		inner = WithGuard(g, func() error { return nil })
		return nil
	}); err != nil {
		t.Fatalf("outer: %v", err)
	}
	if !errors.Is(inner, ErrReentrantCall) {
		t.Fatalf("expected inner ErrReentrantCall, got %v", inner)
	}
	if g.flag {
		t.Fatalf("flag stuck set after nested attempt")
	}
}
