package state

import (
	"encoding/binary"

	"github.com/codebestia/grainlify/native/common"
	"github.com/codebestia/grainlify/native/escrow"
)

var (
	escrowRecordPrefix   = []byte("grain/escrow/record/")
	escrowHistoryPrefix  = []byte("grain/escrow/history/")
	escrowApprovalPrefix = []byte("grain/escrow/approval/")
	abuseStatePrefix     = []byte("grain/abuse/state/")

	guardFlagKey   = []byte("grain/guard")
	abuseConfigKey = []byte("grain/abuse/config")
	feeConfigKey   = []byte("grain/fees")
	pausedKey      = []byte("grain/paused")
	adminKey       = []byte("grain/admin")
)

func prefixedIDKey(prefix []byte, id uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], id)
	return key
}

func prefixedAddrKey(prefix []byte, addr [20]byte) []byte {
	key := make([]byte, len(prefix)+len(addr))
	copy(key, prefix)
	copy(key[len(prefix):], addr[:])
	return key
}

// EscrowPut sanitizes and persists the supplied record.
func (m *Manager) EscrowPut(r *escrow.Record) error {
	sanitized, err := escrow.SanitizeRecord(r)
	if err != nil {
		return err
	}
	return m.KVPut(prefixedIDKey(escrowRecordPrefix, sanitized.BountyID), sanitized)
}

// EscrowGet loads the record stored under the supplied bounty id. The caller
// receives a copy and may mutate it freely.
func (m *Manager) EscrowGet(id uint64) (*escrow.Record, bool, error) {
	record := new(escrow.Record)
	ok, err := m.KVGet(prefixedIDKey(escrowRecordPrefix, id), record)
	if err != nil || !ok {
		return nil, false, err
	}
	return record, true, nil
}

// EscrowHistoryAppend appends one entry to the refund log for the supplied
// bounty id. The log is append-only; entries are never mutated or truncated.
func (m *Manager) EscrowHistoryAppend(id uint64, entry *escrow.RefundHistoryEntry) error {
	list, err := m.EscrowHistory(id)
	if err != nil {
		return err
	}
	list = append(list, *entry.Clone())
	return m.KVPut(prefixedIDKey(escrowHistoryPrefix, id), list)
}

// EscrowHistory returns the ordered refund log for the supplied bounty id,
// oldest entry first. Unknown ids yield an empty log.
func (m *Manager) EscrowHistory(id uint64) ([]escrow.RefundHistoryEntry, error) {
	var list []escrow.RefundHistoryEntry
	ok, err := m.KVGet(prefixedIDKey(escrowHistoryPrefix, id), &list)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []escrow.RefundHistoryEntry{}, nil
	}
	return list, nil
}

// GuardFlag reports whether the reentrancy flag is currently set.
func (m *Manager) GuardFlag() (bool, error) {
	var flag bool
	ok, err := m.KVGet(guardFlagKey, &flag)
	if err != nil || !ok {
		return false, err
	}
	return flag, nil
}

// SetGuardFlag persists the reentrancy flag.
func (m *Manager) SetGuardFlag(flag bool) error {
	return m.KVPut(guardFlagKey, flag)
}

// AbuseConfig returns the persisted anti-abuse configuration, or the zero
// configuration (limiting disabled) when none has been stored.
func (m *Manager) AbuseConfig() (*common.AbuseConfig, error) {
	cfg := new(common.AbuseConfig)
	ok, err := m.KVGet(abuseConfigKey, cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &common.AbuseConfig{}, nil
	}
	return cfg, nil
}

// SetAbuseConfig persists the anti-abuse configuration.
func (m *Manager) SetAbuseConfig(cfg *common.AbuseConfig) error {
	return m.KVPut(abuseConfigKey, cfg)
}

// AbuseStateGet returns the usage counters for the supplied actor. Unknown
// actors start from zero counters.
func (m *Manager) AbuseStateGet(actor [20]byte) (common.AbuseState, error) {
	var st common.AbuseState
	if _, err := m.KVGet(prefixedAddrKey(abuseStatePrefix, actor), &st); err != nil {
		return common.AbuseState{}, err
	}
	return st, nil
}

// AbuseStatePut persists the usage counters for the supplied actor.
func (m *Manager) AbuseStatePut(actor [20]byte, st common.AbuseState) error {
	return m.KVPut(prefixedAddrKey(abuseStatePrefix, actor), st)
}

// FeeConfig returns the persisted fee table, defaulting to disabled fees.
func (m *Manager) FeeConfig() (*escrow.FeeConfig, error) {
	cfg := new(escrow.FeeConfig)
	ok, err := m.KVGet(feeConfigKey, cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &escrow.FeeConfig{}, nil
	}
	return cfg, nil
}

// SetFeeConfig sanitizes and persists the fee table.
func (m *Manager) SetFeeConfig(cfg *escrow.FeeConfig) error {
	sanitized, err := escrow.SanitizeFeeConfig(cfg)
	if err != nil {
		return err
	}
	return m.KVPut(feeConfigKey, sanitized)
}

// Paused reports whether mutating operations are currently suspended.
func (m *Manager) Paused() (bool, error) {
	var paused bool
	ok, err := m.KVGet(pausedKey, &paused)
	if err != nil || !ok {
		return false, err
	}
	return paused, nil
}

// SetPaused persists the pause switch.
func (m *Manager) SetPaused(paused bool) error {
	return m.KVPut(pausedKey, paused)
}

// Admin returns the address registered at initialization, if any.
func (m *Manager) Admin() ([20]byte, bool, error) {
	var admin [20]byte
	ok, err := m.KVGet(adminKey, &admin)
	if err != nil || !ok {
		return [20]byte{}, false, err
	}
	return admin, true, nil
}

// SetAdmin persists the administrative address.
func (m *Manager) SetAdmin(admin [20]byte) error {
	return m.KVPut(adminKey, admin)
}

// CustomRefundApproved reports whether an admin approval is pending for the
// supplied bounty id.
func (m *Manager) CustomRefundApproved(id uint64) (bool, error) {
	var ok bool
	found, err := m.KVGet(prefixedIDKey(escrowApprovalPrefix, id), &ok)
	if err != nil || !found {
		return false, err
	}
	return ok, nil
}

// SetCustomRefundApproval grants or consumes the one-shot custom refund
// approval for the supplied bounty id.
func (m *Manager) SetCustomRefundApproval(id uint64, approved bool) error {
	key := prefixedIDKey(escrowApprovalPrefix, id)
	if !approved {
		return m.KVDelete(key)
	}
	return m.KVPut(key, true)
}
