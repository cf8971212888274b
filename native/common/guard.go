package common

import "errors"

// ErrReentrantCall is returned when a guarded entry point is invoked while the
// reentrancy flag is already set, i.e. from inside another guarded call.
var ErrReentrantCall = errors.New("reentrancy guard: reentrant call")

// GuardState persists the single process-wide reentrancy flag. The flag lives
// in contract storage, not a package variable, so every operation threads the
// state through explicitly.
type GuardState interface {
	GuardFlag() (bool, error)
	SetGuardFlag(bool) error
}

// EnterGuard sets the reentrancy flag, failing with ErrReentrantCall when it
// is already set.
func EnterGuard(s GuardState) error {
	set, err := s.GuardFlag()
	if err != nil {
		return err
	}
	if set {
		return ErrReentrantCall
	}
	return s.SetGuardFlag(true)
}

// ExitGuard unconditionally clears the reentrancy flag.
func ExitGuard(s GuardState) error {
	return s.SetGuardFlag(false)
}

// WithGuard runs fn under the reentrancy guard. The flag is cleared on every
// exit path, so it can never remain stuck set after a top-level invocation
// completes, whether fn returns normally or with an error.
func WithGuard(s GuardState, fn func() error) (err error) {
	if err = EnterGuard(s); err != nil {
		return err
	}
	defer func() {
		if exitErr := ExitGuard(s); exitErr != nil && err == nil {
			err = exitErr
		}
	}()
	return fn()
}
