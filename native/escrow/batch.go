package escrow

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/codebestia/grainlify/native/common"
)

// BatchItemError pins a validation failure to the item that caused it.
type BatchItemError struct {
	Index    int
	BountyID uint64
	Err      error
}

func (e BatchItemError) Error() string {
	return fmt.Sprintf("item %d (bounty %d): %v", e.Index, e.BountyID, e.Err)
}

func (e BatchItemError) Unwrap() error { return e.Err }

// BatchError aggregates every validation failure of a rejected batch. When a
// batch fails validation, no item is committed, including ones that would
// individually have validated.
type BatchError struct {
	Items []BatchItemError
}

func (e *BatchError) Error() string {
	if e == nil || len(e.Items) == 0 {
		return "batch validation failed"
	}
	parts := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		parts = append(parts, item.Error())
	}
	return "batch validation failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the per-item failures to errors.Is / errors.As.
func (e *BatchError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, len(e.Items))
	for _, item := range e.Items {
		out = append(out, item)
	}
	return out
}

// scanDuplicateIDs rejects a batch when any two items share a bounty id,
// before any further validation runs.
func scanDuplicateIDs(ids []uint64) error {
	seen := make(map[uint64]int, len(ids))
	var batchErr BatchError
	for i, id := range ids {
		if _, dup := seen[id]; dup {
			batchErr.Items = append(batchErr.Items, BatchItemError{Index: i, BountyID: id, Err: ErrDuplicateBountyID})
			continue
		}
		seen[id] = i
	}
	if len(batchErr.Items) > 0 {
		return &batchErr
	}
	return nil
}

// abuseStager simulates the limiter against copies of the persisted counters
// so a rejected batch leaves every counter untouched. Flush persists the
// staged counters once the whole batch has validated.
type abuseStager struct {
	state  engineState
	cfg    *common.AbuseConfig
	now    uint64
	staged map[[20]byte]common.AbuseState
}

func newAbuseStager(state engineState, now uint64) (*abuseStager, error) {
	cfg, err := state.AbuseConfig()
	if err != nil {
		return nil, err
	}
	return &abuseStager{
		state:  state,
		cfg:    cfg,
		now:    now,
		staged: make(map[[20]byte]common.AbuseState),
	}, nil
}

func (s *abuseStager) check(actor [20]byte) error {
	if s.cfg.IsWhitelisted(actor) {
		return nil
	}
	prev, ok := s.staged[actor]
	if !ok {
		loaded, err := s.state.AbuseStateGet(actor)
		if err != nil {
			return err
		}
		prev = loaded
	}
	next, err := common.CheckAbuse(*s.cfg, prev, s.now)
	if err != nil {
		return err
	}
	s.staged[actor] = next
	return nil
}

func (s *abuseStager) flush() error {
	for actor, st := range s.staged {
		if err := s.state.AbuseStatePut(actor, st); err != nil {
			return err
		}
	}
	return nil
}

// BatchLock escrows every item or none. The validate phase applies every
// single-item precondition, including cumulative balance coverage per
// depositor and the per-item rate limit, without mutating any state; the
// commit phase only runs once every item has validated and applies transfers
// and record writes in input order. Returns the number of items committed.
func (e *Engine) BatchLock(caller [20]byte, items []LockItem) (int, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	committed := 0
	err := common.WithGuard(e.state, func() error {
		if err := e.ensureReady(); err != nil {
			return err
		}
		if len(items) == 0 {
			return ErrEmptyBatch
		}
		ids := make([]uint64, len(items))
		for i, item := range items {
			ids[i] = item.BountyID
		}
		if err := scanDuplicateIDs(ids); err != nil {
			return err
		}

		// Validate phase.
		stager, err := newAbuseStager(e.state, e.now())
		if err != nil {
			return err
		}
		required := make(map[[20]byte]*big.Int)
		var batchErr BatchError
		for i, item := range items {
			if err := e.validateLockItem(caller, item, stager, required); err != nil {
				batchErr.Items = append(batchErr.Items, BatchItemError{Index: i, BountyID: item.BountyID, Err: err})
			}
		}
		if len(batchErr.Items) > 0 {
			return &batchErr
		}

		// Commit phase.
		if err := stager.flush(); err != nil {
			return err
		}
		for _, item := range items {
			if err := e.commitLock(item.Depositor, item.BountyID, item.Amount, item.Deadline); err != nil {
				return err
			}
			committed++
		}
		e.emit(NewBatchEvent(EventTypeBatchLocked, committed))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return committed, nil
}

func (e *Engine) validateLockItem(caller [20]byte, item LockItem, stager *abuseStager, required map[[20]byte]*big.Int) error {
	if caller != item.Depositor {
		return ErrAuthorizationFailed
	}
	if err := stager.check(item.Depositor); err != nil {
		return err
	}
	if item.Amount == nil || item.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	total, ok := required[item.Depositor]
	if !ok {
		total = big.NewInt(0)
	}
	total = new(big.Int).Add(total, item.Amount)
	required[item.Depositor] = total
	return e.validateLock(item.Depositor, item.BountyID, item.Amount, item.Deadline, total)
}

// BatchRelease releases every item or none, following the same two-phase
// protocol as BatchLock. The rate limit is applied once per item, keyed by the
// caller. Returns the number of items committed.
func (e *Engine) BatchRelease(caller [20]byte, items []ReleaseItem) (int, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	committed := 0
	err := common.WithGuard(e.state, func() error {
		if err := e.ensureReady(); err != nil {
			return err
		}
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		if len(items) == 0 {
			return ErrEmptyBatch
		}
		ids := make([]uint64, len(items))
		for i, item := range items {
			ids[i] = item.BountyID
		}
		if err := scanDuplicateIDs(ids); err != nil {
			return err
		}

		// Validate phase.
		stager, err := newAbuseStager(e.state, e.now())
		if err != nil {
			return err
		}
		vaultBalance, err := e.state.Balance(ModuleAddress)
		if err != nil {
			return err
		}
		outgoing := big.NewInt(0)
		var batchErr BatchError
		records := make([]*Record, len(items))
		for i, item := range items {
			if err := stager.check(caller); err != nil {
				batchErr.Items = append(batchErr.Items, BatchItemError{Index: i, BountyID: item.BountyID, Err: err})
				continue
			}
			record, err := e.validateRelease(item.BountyID, item.Recipient)
			if err != nil {
				batchErr.Items = append(batchErr.Items, BatchItemError{Index: i, BountyID: item.BountyID, Err: err})
				continue
			}
			outgoing = new(big.Int).Add(outgoing, record.Remaining)
			if vaultBalance.Cmp(outgoing) < 0 {
				batchErr.Items = append(batchErr.Items, BatchItemError{Index: i, BountyID: item.BountyID, Err: ErrInsufficientBalance})
				continue
			}
			records[i] = record
		}
		if len(batchErr.Items) > 0 {
			return &batchErr
		}

		// Commit phase.
		if err := stager.flush(); err != nil {
			return err
		}
		for i, item := range items {
			if err := e.commitRelease(records[i], item.Recipient); err != nil {
				return err
			}
			committed++
		}
		e.emit(NewBatchEvent(EventTypeBatchReleased, committed))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return committed, nil
}
