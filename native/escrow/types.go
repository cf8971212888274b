package escrow

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Status represents the lifecycle states of an escrow record.
type Status uint8

const (
	StatusLocked            Status = iota // funds held in custody
	StatusReleased                        // paid out to a contributor, terminal
	StatusPartiallyRefunded               // some funds returned, remainder still held
	StatusRefunded                        // all funds returned, terminal
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusLocked, StatusReleased, StatusPartiallyRefunded, StatusRefunded:
		return true
	default:
		return false
	}
}

// String returns the canonical lowercase label used by events and RPC results.
func (s Status) String() string {
	switch s {
	case StatusLocked:
		return "locked"
	case StatusReleased:
		return "released"
	case StatusPartiallyRefunded:
		return "partially_refunded"
	case StatusRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// RefundMode selects which refund rules apply.
type RefundMode uint8

const (
	// RefundFull returns the entire remaining amount to the depositor after
	// the deadline has passed.
	RefundFull RefundMode = iota
	// RefundPartial returns a caller-chosen slice of the remaining amount to
	// the depositor after the deadline has passed.
	RefundPartial
	// RefundCustom returns a caller-chosen slice to an arbitrary recipient
	// before the deadline, gated on an explicit admin approval.
	RefundCustom
)

// Valid reports whether the mode value is within the supported range.
func (m RefundMode) Valid() bool {
	switch m {
	case RefundFull, RefundPartial, RefundCustom:
		return true
	default:
		return false
	}
}

// String returns the canonical lowercase label for the mode.
func (m RefundMode) String() string {
	switch m {
	case RefundFull:
		return "full"
	case RefundPartial:
		return "partial"
	case RefundCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Record captures the state of a single escrowed bounty. Identifiers are
// caller-chosen and never reused: the record persists in a terminal status
// after release or full refund so a second lock for the same id is rejected.
type Record struct {
	BountyID  uint64
	Depositor [20]byte
	Amount    *big.Int
	Remaining *big.Int
	Status    Status
	Deadline  uint64
	CreatedAt uint64
}

// Clone returns a deep copy of the record so callers can safely mutate the
// copy without affecting the stored instance.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if r.Remaining != nil {
		clone.Remaining = new(big.Int).Set(r.Remaining)
	} else {
		clone.Remaining = big.NewInt(0)
	}
	return &clone
}

// SanitizeRecord validates the supplied record, returning a cloned instance
// with non-nil amount fields. The function does not mutate the original value.
func SanitizeRecord(r *Record) (*Record, error) {
	if r == nil {
		return nil, fmt.Errorf("nil escrow record")
	}
	clone := r.Clone()
	if clone.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("escrow record amount must be positive")
	}
	if clone.Remaining.Sign() < 0 || clone.Remaining.Cmp(clone.Amount) > 0 {
		return nil, fmt.Errorf("escrow record remaining out of range")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", clone.Status)
	}
	switch clone.Status {
	case StatusReleased, StatusRefunded:
		if clone.Remaining.Sign() != 0 {
			return nil, fmt.Errorf("terminal escrow record must have zero remaining")
		}
	case StatusPartiallyRefunded:
		if clone.Remaining.Sign() == 0 || clone.Remaining.Cmp(clone.Amount) == 0 {
			return nil, fmt.Errorf("partially refunded record remaining out of range")
		}
	}
	return clone, nil
}

// RefundHistoryEntry is one element of the append-only refund log kept per
// bounty id.
type RefundHistoryEntry struct {
	Mode      RefundMode
	Amount    *big.Int
	Recipient [20]byte
	Timestamp uint64
}

// Clone returns a deep copy of the history entry.
func (h *RefundHistoryEntry) Clone() *RefundHistoryEntry {
	if h == nil {
		return nil
	}
	clone := *h
	if h.Amount != nil {
		clone.Amount = new(big.Int).Set(h.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// FeeConfig mirrors the fee table applied on lock and payout. Rates are in
// basis points of the moved amount.
type FeeConfig struct {
	LockFeeBps   uint32
	PayoutFeeBps uint32
	FeeRecipient [20]byte
	Enabled      bool
}

// SanitizeFeeConfig validates rate bounds and the recipient requirement.
func SanitizeFeeConfig(cfg *FeeConfig) (*FeeConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil fee config")
	}
	clone := *cfg
	// A full 10000 bps lock fee would leave nothing to escrow, so rates must
	// stay strictly below 100%.
	if clone.LockFeeBps >= 10_000 || clone.PayoutFeeBps >= 10_000 {
		return nil, fmt.Errorf("fee bps out of range")
	}
	if clone.Enabled && clone.FeeRecipient == ([20]byte{}) {
		return nil, fmt.Errorf("fee recipient required when fees enabled")
	}
	return &clone, nil
}

// LockItem is one element of a batch lock request. Items are ephemeral; they
// exist only for the duration of one batch call.
type LockItem struct {
	BountyID  uint64
	Depositor [20]byte
	Amount    *big.Int
	Deadline  uint64
}

// ReleaseItem is one element of a batch release request.
type ReleaseItem struct {
	BountyID  uint64
	Recipient [20]byte
}

// ModuleAddress is the custody account that holds every locked amount. It is
// derived from a fixed label so it cannot collide with a key-derived account.
var ModuleAddress = moduleAddress()

func moduleAddress() [20]byte {
	hash := ethcrypto.Keccak256([]byte("grainlify/escrow/vault"))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}
