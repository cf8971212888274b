package escrow

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/codebestia/grainlify/core/events"
	"github.com/codebestia/grainlify/native/common"
)

// engineState is the narrow view of contract storage the engine depends on.
// *state.Manager satisfies it; tests provide an in-memory mock.
type engineState interface {
	common.GuardState

	EscrowPut(*Record) error
	EscrowGet(id uint64) (*Record, bool, error)
	EscrowHistoryAppend(id uint64, entry *RefundHistoryEntry) error
	EscrowHistory(id uint64) ([]RefundHistoryEntry, error)

	Balance(addr [20]byte) (*big.Int, error)
	Transfer(from, to [20]byte, amount *big.Int) error

	AbuseConfig() (*common.AbuseConfig, error)
	SetAbuseConfig(*common.AbuseConfig) error
	AbuseStateGet(actor [20]byte) (common.AbuseState, error)
	AbuseStatePut(actor [20]byte, st common.AbuseState) error

	FeeConfig() (*FeeConfig, error)
	SetFeeConfig(*FeeConfig) error
	Paused() (bool, error)
	SetPaused(bool) error
	Admin() ([20]byte, bool, error)
	SetAdmin(admin [20]byte) error
	CustomRefundApproved(id uint64) (bool, error)
	SetCustomRefundApproval(id uint64, approved bool) error
}

// Engine wires the escrow business logic with external state and event
// emitters. Every mutating entry point acquires the reentrancy guard as its
// outermost action and releases it on every exit path.
type Engine struct {
	// mu serializes mutating invocations across goroutines. The persisted
	// guard flag cannot do that: its read-then-write is not atomic, and its
	// job is rejecting call-tree reentrancy within one invocation, where a
	// mutex held by the same goroutine would deadlock instead of failing.
	mu      sync.Mutex
	state   engineState
	emitter events.Emitter
	nowFn   func() uint64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   defaultNow,
	}
}

func defaultNow() uint64 { return uint64(time.Now().Unix()) }

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the ledger clock used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = defaultNow
		return
	}
	e.nowFn = now
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return defaultNow()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt *events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Init registers the administrative address. It may be invoked exactly once.
func (e *Engine) Init(admin [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return common.WithGuard(e.state, func() error {
		if admin == ([20]byte{}) {
			return fmt.Errorf("%w: admin address", ErrMissingParameter)
		}
		if _, ok, err := e.state.Admin(); err != nil {
			return err
		} else if ok {
			return ErrAlreadyInitialized
		}
		return e.state.SetAdmin(admin)
	})
}

// ResetGuard clears a guard flag orphaned by a crash between enter and exit.
// The flag is persisted, so without this a crashed daemon would reject every
// mutating call with ErrReentrantCall after restart. Only safe to call before
// the engine serves traffic, when no invocation can be in flight.
func (e *Engine) ResetGuard() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return common.ExitGuard(e.state)
}

// ensureReady verifies the contract is initialized and not paused. Runs after
// guard acquisition and before any validation or mutation.
func (e *Engine) ensureReady() error {
	if _, ok, err := e.state.Admin(); err != nil {
		return err
	} else if !ok {
		return ErrNotInitialized
	}
	paused, err := e.state.Paused()
	if err != nil {
		return err
	}
	if paused {
		return ErrPaused
	}
	return nil
}

func (e *Engine) requireAdmin(caller [20]byte) error {
	admin, ok, err := e.state.Admin()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotInitialized
	}
	if caller != admin {
		return ErrAuthorizationFailed
	}
	return nil
}

// checkAbuse runs the sliding-window limiter for the supplied actor and
// persists the updated counters when the operation is admitted. Whitelisted
// actors pass without any counter mutation.
func (e *Engine) checkAbuse(actor [20]byte) error {
	cfg, err := e.state.AbuseConfig()
	if err != nil {
		return err
	}
	if cfg.IsWhitelisted(actor) {
		return nil
	}
	prev, err := e.state.AbuseStateGet(actor)
	if err != nil {
		return err
	}
	next, err := common.CheckAbuse(*cfg, prev, e.now())
	if err != nil {
		return err
	}
	return e.state.AbuseStatePut(actor, next)
}

func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if err := e.state.Transfer(from, to, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// feeOf computes the basis-point fee for the moved amount, zero when fees are
// disabled.
func feeOf(cfg *FeeConfig, bps uint32, amount *big.Int) *big.Int {
	if cfg == nil || !cfg.Enabled || bps == 0 || amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(bps)))
	return fee.Div(fee, big.NewInt(10_000))
}

// Lock escrows amount against bountyID on behalf of depositor. The caller
// must be the depositor: the operation is defined in terms of the depositor's
// own consent, not an admin's.
func (e *Engine) Lock(caller, depositor [20]byte, bountyID uint64, amount *big.Int, deadline uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return common.WithGuard(e.state, func() error {
		if err := e.ensureReady(); err != nil {
			return err
		}
		if caller != depositor {
			return ErrAuthorizationFailed
		}
		if err := e.checkAbuse(depositor); err != nil {
			return err
		}
		if err := e.validateLock(depositor, bountyID, amount, deadline, amount); err != nil {
			return err
		}
		return e.commitLock(depositor, bountyID, amount, deadline)
	})
}

// validateLock applies every lock precondition without mutating state.
// required is the cumulative amount the depositor must cover, which exceeds
// amount when several batch items draw on the same balance.
func (e *Engine) validateLock(depositor [20]byte, bountyID uint64, amount *big.Int, deadline uint64, required *big.Int) error {
	if _, ok, err := e.state.EscrowGet(bountyID); err != nil {
		return err
	} else if ok {
		return ErrAlreadyLocked
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	feeCfg, err := e.state.FeeConfig()
	if err != nil {
		return err
	}
	// The escrowed amount is what survives the lock fee. Rejecting a net-zero
	// lock here keeps the no-partial-effect contract: nothing may move before
	// every precondition has passed.
	fee := feeOf(feeCfg, feeCfg.LockFeeBps, amount)
	if new(big.Int).Sub(amount, fee).Sign() <= 0 {
		return ErrInvalidAmount
	}
	if deadline <= e.now() {
		return ErrInvalidDeadline
	}
	balance, err := e.state.Balance(depositor)
	if err != nil {
		return err
	}
	if balance.Cmp(required) < 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// commitLock performs the transfer and creates the record. Preconditions must
// already have been validated.
func (e *Engine) commitLock(depositor [20]byte, bountyID uint64, amount *big.Int, deadline uint64) error {
	feeCfg, err := e.state.FeeConfig()
	if err != nil {
		return err
	}
	total := cloneBigInt(amount)
	fee := feeOf(feeCfg, feeCfg.LockFeeBps, total)
	locked := new(big.Int).Sub(total, fee)
	if err := e.transfer(depositor, ModuleAddress, locked); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		if err := e.transfer(depositor, feeCfg.FeeRecipient, fee); err != nil {
			return err
		}
	}
	record := &Record{
		BountyID:  bountyID,
		Depositor: depositor,
		Amount:    locked,
		Remaining: cloneBigInt(locked),
		Status:    StatusLocked,
		Deadline:  deadline,
		CreatedAt: e.now(),
	}
	if err := e.state.EscrowPut(record); err != nil {
		return err
	}
	e.emit(NewLockedEvent(record))
	return nil
}

// Release pays the full remaining amount to recipient and terminates the
// record. Only the admin may trigger a release; the authorization check runs
// before the lock-status check so unauthorized callers cannot probe record
// state.
func (e *Engine) Release(caller [20]byte, bountyID uint64, recipient [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return common.WithGuard(e.state, func() error {
		if err := e.ensureReady(); err != nil {
			return err
		}
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		if err := e.checkAbuse(caller); err != nil {
			return err
		}
		record, err := e.validateRelease(bountyID, recipient)
		if err != nil {
			return err
		}
		return e.commitRelease(record, recipient)
	})
}

func (e *Engine) validateRelease(bountyID uint64, recipient [20]byte) (*Record, error) {
	if recipient == ([20]byte{}) {
		return nil, fmt.Errorf("%w: recipient", ErrMissingParameter)
	}
	record, ok, err := e.state.EscrowGet(bountyID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBountyNotFound
	}
	if record.Status != StatusLocked {
		return nil, ErrInvalidState
	}
	return record, nil
}

func (e *Engine) commitRelease(record *Record, recipient [20]byte) error {
	feeCfg, err := e.state.FeeConfig()
	if err != nil {
		return err
	}
	total := cloneBigInt(record.Remaining)
	fee := feeOf(feeCfg, feeCfg.PayoutFeeBps, total)
	payout := new(big.Int).Sub(total, fee)
	if payout.Sign() > 0 {
		if err := e.transfer(ModuleAddress, recipient, payout); err != nil {
			return err
		}
	}
	if fee.Sign() > 0 {
		if err := e.transfer(ModuleAddress, feeCfg.FeeRecipient, fee); err != nil {
			return err
		}
	}
	record.Remaining = big.NewInt(0)
	record.Status = StatusReleased
	if err := e.state.EscrowPut(record); err != nil {
		return err
	}
	e.emit(NewReleasedEvent(record, recipient, total))
	return nil
}

// Refund returns escrowed funds according to the selected mode. Full and
// Partial refunds require the deadline to have passed and always pay the
// original depositor; Custom refunds run before the deadline against an
// explicit admin approval and may name an arbitrary recipient.
func (e *Engine) Refund(caller [20]byte, bountyID uint64, amount *big.Int, recipient *[20]byte, mode RefundMode) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return common.WithGuard(e.state, func() error {
		if err := e.ensureReady(); err != nil {
			return err
		}
		if err := e.checkAbuse(caller); err != nil {
			return err
		}
		record, ok, err := e.state.EscrowGet(bountyID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrBountyNotFound
		}
		if record.Status == StatusReleased || record.Status == StatusRefunded {
			return ErrInvalidState
		}
		switch mode {
		case RefundFull:
			if e.now() < record.Deadline {
				return ErrDeadlineNotPassed
			}
			return e.commitRefund(record, RefundFull, cloneBigInt(record.Remaining), record.Depositor)
		case RefundPartial:
			if amount == nil {
				return fmt.Errorf("%w: amount", ErrMissingParameter)
			}
			if e.now() < record.Deadline {
				return ErrDeadlineNotPassed
			}
			if amount.Sign() <= 0 || amount.Cmp(record.Remaining) > 0 {
				return ErrInvalidAmount
			}
			return e.commitRefund(record, RefundPartial, cloneBigInt(amount), record.Depositor)
		case RefundCustom:
			if amount == nil {
				return fmt.Errorf("%w: amount", ErrMissingParameter)
			}
			if recipient == nil {
				return fmt.Errorf("%w: recipient", ErrMissingParameter)
			}
			approved, err := e.state.CustomRefundApproved(bountyID)
			if err != nil {
				return err
			}
			if !approved {
				return ErrRefundNotApproved
			}
			if amount.Sign() <= 0 || amount.Cmp(record.Remaining) > 0 {
				return ErrInvalidAmount
			}
			if err := e.state.SetCustomRefundApproval(bountyID, false); err != nil {
				return err
			}
			return e.commitRefund(record, RefundCustom, cloneBigInt(amount), *recipient)
		default:
			return fmt.Errorf("%w: unsupported refund mode %d", ErrMissingParameter, mode)
		}
	})
}

func (e *Engine) commitRefund(record *Record, mode RefundMode, amount *big.Int, recipient [20]byte) error {
	if err := e.transfer(ModuleAddress, recipient, amount); err != nil {
		return err
	}
	record.Remaining = new(big.Int).Sub(record.Remaining, amount)
	if record.Remaining.Sign() == 0 {
		record.Status = StatusRefunded
	} else {
		record.Status = StatusPartiallyRefunded
	}
	if err := e.state.EscrowPut(record); err != nil {
		return err
	}
	entry := &RefundHistoryEntry{
		Mode:      mode,
		Amount:    cloneBigInt(amount),
		Recipient: recipient,
		Timestamp: e.now(),
	}
	if err := e.state.EscrowHistoryAppend(record.BountyID, entry); err != nil {
		return err
	}
	e.emit(NewRefundedEvent(record, entry))
	return nil
}

// --- administrative surface ---

// Pause suspends every mutating entry point until Unpause.
func (e *Engine) Pause(caller [20]byte) error {
	return e.adminMutation(caller, EventTypePaused, func() error {
		return e.state.SetPaused(true)
	})
}

// Unpause resumes mutating entry points.
func (e *Engine) Unpause(caller [20]byte) error {
	return e.adminMutation(caller, EventTypeUnpaused, func() error {
		return e.state.SetPaused(false)
	})
}

// SetFeeConfig replaces the fee table. The config is sanitized here so rate
// bounds hold regardless of the state backend.
func (e *Engine) SetFeeConfig(caller [20]byte, cfg *FeeConfig) error {
	return e.adminMutation(caller, EventTypeFeeUpdated, func() error {
		sanitized, err := SanitizeFeeConfig(cfg)
		if err != nil {
			return err
		}
		return e.state.SetFeeConfig(sanitized)
	})
}

// SetAbuseConfig replaces the anti-abuse limits and whitelist.
func (e *Engine) SetAbuseConfig(caller [20]byte, cfg *common.AbuseConfig) error {
	return e.adminMutation(caller, EventTypeAbuseConfigUpdated, func() error {
		return e.state.SetAbuseConfig(cfg)
	})
}

// ApproveCustomRefund grants the one-shot approval consumed by a Custom-mode
// refund for the supplied bounty id.
func (e *Engine) ApproveCustomRefund(caller [20]byte, bountyID uint64) error {
	return e.adminMutation(caller, EventTypeRefundApproved, func() error {
		if _, ok, err := e.state.EscrowGet(bountyID); err != nil {
			return err
		} else if !ok {
			return ErrBountyNotFound
		}
		return e.state.SetCustomRefundApproval(bountyID, true)
	})
}

// adminMutation wraps the shared guard/init/authorization discipline for the
// administrative surface. Pause state is deliberately not checked here so the
// admin can unpause a paused contract.
func (e *Engine) adminMutation(caller [20]byte, eventType string, fn func() error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return common.WithGuard(e.state, func() error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
		e.emit(&events.Event{Type: eventType, Attributes: map[string]string{}})
		return nil
	})
}

// --- queries (unguarded, side-effect free) ---

// GetEscrowInfo returns a copy of the record stored under bountyID.
func (e *Engine) GetEscrowInfo(bountyID uint64) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok, err := e.state.EscrowGet(bountyID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBountyNotFound
	}
	return record, nil
}

// GetRefundHistory returns the ordered refund log for bountyID, oldest first.
func (e *Engine) GetRefundHistory(bountyID uint64) ([]RefundHistoryEntry, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.EscrowHistory(bountyID)
}

// GetBalance returns the remaining escrowed amount for bountyID, zero for
// unknown ids.
func (e *Engine) GetBalance(bountyID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok, err := e.state.EscrowGet(bountyID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return cloneBigInt(record.Remaining), nil
}

// IsPaused reports whether mutating operations are suspended.
func (e *Engine) IsPaused() (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.Paused()
}

// GetFeeConfig returns the active fee table.
func (e *Engine) GetFeeConfig() (*FeeConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.FeeConfig()
}
