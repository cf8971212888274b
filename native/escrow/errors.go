package escrow

import (
	"errors"

	"github.com/codebestia/grainlify/native/common"
)

// Categorical failure reasons returned by the escrow engine. Callers are
// expected to match them with errors.Is; the RPC layer maps each one to a
// stable error code. The guard and limiter reasons are the shared sentinels
// from native/common so errors.Is matches across packages.
var (
	ErrReentrantCall       = common.ErrReentrantCall
	ErrRateLimited         = common.ErrRateLimited
	ErrAlreadyLocked       = errors.New("escrow: bounty already locked")
	ErrBountyNotFound      = errors.New("escrow: bounty not found")
	ErrInvalidState        = errors.New("escrow: invalid record state")
	ErrInvalidAmount       = errors.New("escrow: amount must be positive")
	ErrInvalidDeadline     = errors.New("escrow: deadline before current time")
	ErrDeadlineNotPassed   = errors.New("escrow: deadline not passed")
	ErrRefundNotApproved   = errors.New("escrow: custom refund not approved")
	ErrMissingParameter    = errors.New("escrow: missing parameter")
	ErrInsufficientBalance = errors.New("escrow: insufficient balance")
	ErrAuthorizationFailed = errors.New("escrow: unauthorized caller")
	ErrEmptyBatch          = errors.New("escrow: empty batch")
	ErrDuplicateBountyID   = errors.New("escrow: duplicate bounty id in batch")
	ErrTransferFailed      = errors.New("escrow: token transfer failed")
	ErrPaused              = errors.New("escrow: module paused")
	ErrAlreadyInitialized  = errors.New("escrow: already initialized")
	ErrNotInitialized      = errors.New("escrow: not initialized")

	errNilState = errors.New("escrow engine: state not configured")
)
