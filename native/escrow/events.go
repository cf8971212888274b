package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"github.com/codebestia/grainlify/core/events"
)

const (
	EventTypeLocked             = "escrow.locked"
	EventTypeReleased           = "escrow.released"
	EventTypeRefunded           = "escrow.refunded"
	EventTypeBatchLocked        = "escrow.batch_locked"
	EventTypeBatchReleased      = "escrow.batch_released"
	EventTypePaused             = "escrow.paused"
	EventTypeUnpaused           = "escrow.unpaused"
	EventTypeFeeUpdated         = "escrow.fee_updated"
	EventTypeAbuseConfigUpdated = "escrow.abuse_config_updated"
	EventTypeRefundApproved     = "escrow.refund_approved"
)

func formatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func recordAttributes(r *Record) map[string]string {
	if r == nil {
		return map[string]string{}
	}
	return map[string]string{
		"bountyId":  strconv.FormatUint(r.BountyID, 10),
		"depositor": formatAddress(r.Depositor),
		"amount":    formatAmount(r.Amount),
		"remaining": formatAmount(r.Remaining),
		"status":    r.Status.String(),
		"deadline":  strconv.FormatUint(r.Deadline, 10),
	}
}

// NewLockedEvent returns the canonical event payload for a freshly locked
// bounty.
func NewLockedEvent(r *Record) *events.Event {
	return &events.Event{Type: EventTypeLocked, Attributes: recordAttributes(r)}
}

// NewReleasedEvent returns the canonical event payload for a release of
// escrowed funds to a contributor.
func NewReleasedEvent(r *Record, recipient [20]byte, amount *big.Int) *events.Event {
	attrs := recordAttributes(r)
	attrs["recipient"] = formatAddress(recipient)
	attrs["released"] = formatAmount(amount)
	return &events.Event{Type: EventTypeReleased, Attributes: attrs}
}

// NewRefundedEvent returns the canonical event payload for a refund in any
// mode.
func NewRefundedEvent(r *Record, entry *RefundHistoryEntry) *events.Event {
	attrs := recordAttributes(r)
	if entry != nil {
		attrs["mode"] = entry.Mode.String()
		attrs["refunded"] = formatAmount(entry.Amount)
		attrs["recipient"] = formatAddress(entry.Recipient)
	}
	return &events.Event{Type: EventTypeRefunded, Attributes: attrs}
}

// NewBatchEvent returns the payload emitted after a fully committed batch.
func NewBatchEvent(eventType string, committed int) *events.Event {
	return &events.Event{
		Type:       eventType,
		Attributes: map[string]string{"committed": strconv.Itoa(committed)},
	}
}
