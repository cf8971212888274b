package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/codebestia/grainlify/native/common"
	"github.com/codebestia/grainlify/native/escrow"
	"github.com/codebestia/grainlify/observability/metrics"
)

// mutatingMethods require bearer-token auth when the server carries a token.
var mutatingMethods = map[string]bool{
	"escrow_lock":                true,
	"escrow_release":             true,
	"escrow_refund":              true,
	"escrow_batchLock":           true,
	"escrow_batchRelease":        true,
	"escrow_pause":               true,
	"escrow_unpause":             true,
	"escrow_setFeeConfig":        true,
	"escrow_setAbuseConfig":      true,
	"escrow_approveCustomRefund": true,
}

func (s *Server) dispatch(method string, params json.RawMessage) (interface{}, *rpcError) {
	switch method {
	case "escrow_lock":
		return s.handleLock(params)
	case "escrow_release":
		return s.handleRelease(params)
	case "escrow_refund":
		return s.handleRefund(params)
	case "escrow_batchLock":
		return s.handleBatchLock(params)
	case "escrow_batchRelease":
		return s.handleBatchRelease(params)
	case "escrow_pause":
		return s.handleSetPaused(params, true)
	case "escrow_unpause":
		return s.handleSetPaused(params, false)
	case "escrow_setFeeConfig":
		return s.handleSetFeeConfig(params)
	case "escrow_setAbuseConfig":
		return s.handleSetAbuseConfig(params)
	case "escrow_approveCustomRefund":
		return s.handleApproveCustomRefund(params)
	case "escrow_getEscrowInfo":
		return s.handleGetEscrowInfo(params)
	case "escrow_getRefundHistory":
		return s.handleGetRefundHistory(params)
	case "escrow_getBalance":
		return s.handleGetBalance(params)
	case "escrow_isPaused":
		return s.handleIsPaused()
	case "escrow_getFeeConfig":
		return s.handleGetFeeConfig()
	case "escrow_listEvents":
		return s.handleListEvents()
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %q", method)}
	}
}

// --- parameter parsing ---

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if len(trimmed) != 40 {
		return addr, fmt.Errorf("address must be 20 bytes of hex")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("address must be hex encoded")
	}
	copy(addr[:], raw)
	return addr, nil
}

func formatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount must not be empty")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("amount must be a base-10 integer")
	}
	return amount, nil
}

func parseRefundMode(value string) (escrow.RefundMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "full":
		return escrow.RefundFull, nil
	case "partial":
		return escrow.RefundPartial, nil
	case "custom":
		return escrow.RefundCustom, nil
	default:
		return 0, fmt.Errorf("mode must be one of full, partial, custom")
	}
}

func decodeParams(params json.RawMessage, out interface{}) *rpcError {
	if len(params) == 0 {
		return &rpcError{Code: codeInvalidParams, Message: "missing params"}
	}
	dec := json.NewDecoder(strings.NewReader(string(params)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return &rpcError{Code: codeInvalidParams, Message: "invalid params", Data: err.Error()}
	}
	return nil
}

func invalidParams(err error) *rpcError {
	return &rpcError{Code: codeInvalidParams, Message: err.Error()}
}

// --- engine error mapping ---

var engineErrorCodes = []struct {
	err  error
	code int
}{
	{escrow.ErrReentrantCall, -32018},
	{escrow.ErrRateLimited, codeRateLimited},
	{escrow.ErrAuthorizationFailed, codeUnauthorized},
	{escrow.ErrBountyNotFound, -32004},
	{escrow.ErrAlreadyLocked, -32005},
	{escrow.ErrInvalidState, -32006},
	{escrow.ErrInvalidAmount, -32007},
	{escrow.ErrInvalidDeadline, -32008},
	{escrow.ErrDeadlineNotPassed, -32009},
	{escrow.ErrRefundNotApproved, -32010},
	{escrow.ErrInsufficientBalance, -32011},
	{escrow.ErrMissingParameter, -32012},
	{escrow.ErrEmptyBatch, -32013},
	{escrow.ErrDuplicateBountyID, -32014},
	{escrow.ErrTransferFailed, -32015},
	{escrow.ErrPaused, -32016},
	{escrow.ErrAlreadyInitialized, -32017},
	{escrow.ErrNotInitialized, -32019},
}

func engineError(err error) *rpcError {
	var batchErr *escrow.BatchError
	if errors.As(err, &batchErr) {
		items := make([]string, 0, len(batchErr.Items))
		for _, item := range batchErr.Items {
			items = append(items, item.Error())
		}
		return &rpcError{Code: -32021, Message: "batch validation failed", Data: strings.Join(items, "; ")}
	}
	for _, entry := range engineErrorCodes {
		if errors.Is(err, entry.err) {
			return &rpcError{Code: entry.code, Message: err.Error()}
		}
	}
	return &rpcError{Code: codeServerError, Message: err.Error()}
}

// --- result shapes ---

type escrowInfoResult struct {
	BountyID  uint64 `json:"bountyId"`
	Depositor string `json:"depositor"`
	Amount    string `json:"amount"`
	Remaining string `json:"remaining"`
	Status    string `json:"status"`
	Deadline  uint64 `json:"deadline"`
	CreatedAt uint64 `json:"createdAt"`
}

func newEscrowInfoResult(record *escrow.Record) escrowInfoResult {
	return escrowInfoResult{
		BountyID:  record.BountyID,
		Depositor: formatAddress(record.Depositor),
		Amount:    record.Amount.String(),
		Remaining: record.Remaining.String(),
		Status:    record.Status.String(),
		Deadline:  record.Deadline,
		CreatedAt: record.CreatedAt,
	}
}

type refundHistoryResult struct {
	Mode      string `json:"mode"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
	Timestamp uint64 `json:"timestamp"`
}

type statusResult struct {
	Status string `json:"status"`
}

type batchResult struct {
	Status    string `json:"status"`
	Committed int    `json:"committed"`
}

var okResult = statusResult{Status: "ok"}

// --- mutating handlers ---

type lockParams struct {
	Caller    string `json:"caller"`
	Depositor string `json:"depositor"`
	BountyID  uint64 `json:"bountyId"`
	Amount    string `json:"amount"`
	Deadline  uint64 `json:"deadline"`
}

func (s *Server) handleLock(params json.RawMessage) (interface{}, *rpcError) {
	var p lockParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseAddress(p.Caller)
	if err != nil {
		return nil, invalidParams(fmt.Errorf("caller: %w", err))
	}
	depositor, err := parseAddress(p.Depositor)
	if err != nil {
		return nil, invalidParams(fmt.Errorf("depositor: %w", err))
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, invalidParams(err)
	}
	lockErr := s.engine.Lock(caller, depositor, p.BountyID, amount, p.Deadline)
	metrics.ObserveOperation("lock", lockErr)
	if lockErr != nil {
		return nil, engineError(lockErr)
	}
	return okResult, nil
}

type releaseParams struct {
	Caller    string `json:"caller"`
	BountyID  uint64 `json:"bountyId"`
	Recipient string `json:"recipient"`
}

func (s *Server) handleRelease(params json.RawMessage) (interface{}, *rpcError) {
	var p releaseParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseAddress(p.Caller)
	if err != nil {
		return nil, invalidParams(fmt.Errorf("caller: %w", err))
	}
	recipient, err := parseAddress(p.Recipient)
	if err != nil {
		return nil, invalidParams(fmt.Errorf("recipient: %w", err))
	}
	releaseErr := s.engine.Release(caller, p.BountyID, recipient)
	metrics.ObserveOperation("release", releaseErr)
	if releaseErr != nil {
		return nil, engineError(releaseErr)
	}
	return okResult, nil
}

type refundParams struct {
	Caller    string `json:"caller"`
	BountyID  uint64 `json:"bountyId"`
	Mode      string `json:"mode"`
	Amount    string `json:"amount,omitempty"`
	Recipient string `json:"recipient,omitempty"`
}

func (s *Server) handleRefund(params json.RawMessage) (interface{}, *rpcError) {
	var p refundParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseAddress(p.Caller)
	if err != nil {
		return nil, invalidParams(fmt.Errorf("caller: %w", err))
	}
	mode, err := parseRefundMode(p.Mode)
	if err != nil {
		return nil, invalidParams(err)
	}
	var amount *big.Int
	if strings.TrimSpace(p.Amount) != "" {
		amount, err = parseAmount(p.Amount)
		if err != nil {
			return nil, invalidParams(err)
		}
	}
	var recipient *[20]byte
	if strings.TrimSpace(p.Recipient) != "" {
		addr, err := parseAddress(p.Recipient)
		if err != nil {
			return nil, invalidParams(fmt.Errorf("recipient: %w", err))
		}
		recipient = &addr
	}
	refundErr := s.engine.Refund(caller, p.BountyID, amount, recipient, mode)
	metrics.ObserveOperation("refund", refundErr)
	if refundErr != nil {
		return nil, engineError(refundErr)
	}
	return okResult, nil
}

type batchLockParams struct {
	Caller string `json:"caller"`
	Items  []struct {
		BountyID  uint64 `json:"bountyId"`
		Depositor string `json:"depositor"`
		Amount    string `json:"amount"`
		Deadline  uint64 `json:"deadline"`
	} `json:"items"`
}

func (s *Server) handleBatchLock(params json.RawMessage) (interface{}, *rpcError) {
	var p batchLockParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseAddress(p.Caller)
	if err != nil {
		return nil, invalidParams(fmt.Errorf("caller: %w", err))
	}
	items := make([]escrow.LockItem, 0, len(p.Items))
	for i, raw := range p.Items {
		depositor, err := parseAddress(raw.Depositor)
		if err != nil {
			return nil, invalidParams(fmt.Errorf("item %d depositor: %w", i, err))
		}
		amount, err := parseAmount(raw.Amount)
		if err != nil {
			return nil, invalidParams(fmt.Errorf("item %d: %w", i, err))
		}
		items = append(items, escrow.LockItem{
			BountyID:  raw.BountyID,
			Depositor: depositor,
			Amount:    amount,
			Deadline:  raw.Deadline,
		})
	}
	committed, batchErr := s.engine.BatchLock(caller, items)
	metrics.ObserveOperation("batch_lock", batchErr)
	if batchErr != nil {
		return nil, engineError(batchErr)
	}
	return batchResult{Status: "ok", Committed: committed}, nil
}

type batchReleaseParams struct {
	Caller string `json:"caller"`
	Items  []struct {
		BountyID  uint64 `json:"bountyId"`
		Recipient string `json:"recipient"`
	} `json:"items"`
}

func (s *Server) handleBatchRelease(params json.RawMessage) (interface{}, *rpcError) {
	var p batchReleaseParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseAddress(p.Caller)
	if err != nil {
		return nil, invalidParams(fmt.Errorf("caller: %w", err))
	}
	items := make([]escrow.ReleaseItem, 0, len(p.Items))
	for i, raw := range p.Items {
		recipient, err := parseAddress(raw.Recipient)
		if err != nil {
			return nil, invalidParams(fmt.Errorf("item %d recipient: %w", i, err))
		}
		items = append(items, escrow.ReleaseItem{BountyID: raw.BountyID, Recipient: recipient})
	}
	committed, batchErr := s.engine.BatchRelease(caller, items)
	metrics.ObserveOperation("batch_release", batchErr)
	if batchErr != nil {
		return nil, engineError(batchErr)
	}
	return batchResult{Status: "ok", Committed: committed}, nil
}

type callerParams struct {
	Caller string `json:"caller"`
}

func (s *Server) handleSetPaused(params json.RawMessage, paused bool) (interface{}, *rpcError) {
	var p callerParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseAddress(p.Caller)
	if err != nil {
		return nil, invalidParams(fmt.Errorf("caller: %w", err))
	}
	var opErr error
	op := "unpause"
	if paused {
		op = "pause"
		opErr = s.engine.Pause(caller)
	} else {
		opErr = s.engine.Unpause(caller)
	}
	metrics.ObserveOperation(op, opErr)
	if opErr != nil {
		return nil, engineError(opErr)
	}
	return okResult, nil
}

type setFeeConfigParams struct {
	Caller       string `json:"caller"`
	LockFeeBps   uint32 `json:"lockFeeBps"`
	PayoutFeeBps uint32 `json:"payoutFeeBps"`
	FeeRecipient string `json:"feeRecipient"`
	Enabled      bool   `json:"enabled"`
}

func (s *Server) handleSetFeeConfig(params json.RawMessage) (interface{}, *rpcError) {
	var p setFeeConfigParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseAddress(p.Caller)
	if err != nil {
		return nil, invalidParams(fmt.Errorf("caller: %w", err))
	}
	cfg := &escrow.FeeConfig{
		LockFeeBps:   p.LockFeeBps,
		PayoutFeeBps: p.PayoutFeeBps,
		Enabled:      p.Enabled,
	}
	if strings.TrimSpace(p.FeeRecipient) != "" {
		recipient, err := parseAddress(p.FeeRecipient)
		if err != nil {
			return nil, invalidParams(fmt.Errorf("feeRecipient: %w", err))
		}
		cfg.FeeRecipient = recipient
	}
	opErr := s.engine.SetFeeConfig(caller, cfg)
	metrics.ObserveOperation("set_fee_config", opErr)
	if opErr != nil {
		return nil, engineError(opErr)
	}
	return okResult, nil
}

type setAbuseConfigParams struct {
	Caller           string   `json:"caller"`
	WindowLength     uint64   `json:"windowLength"`
	MaxOpsPerWindow  uint32   `json:"maxOpsPerWindow"`
	CooldownDuration uint64   `json:"cooldownDuration"`
	Whitelist        []string `json:"whitelist,omitempty"`
}

func (s *Server) handleSetAbuseConfig(params json.RawMessage) (interface{}, *rpcError) {
	var p setAbuseConfigParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseAddress(p.Caller)
	if err != nil {
		return nil, invalidParams(fmt.Errorf("caller: %w", err))
	}
	cfg := &common.AbuseConfig{
		WindowLength:     p.WindowLength,
		MaxOpsPerWindow:  p.MaxOpsPerWindow,
		CooldownDuration: p.CooldownDuration,
	}
	for i, raw := range p.Whitelist {
		addr, err := parseAddress(raw)
		if err != nil {
			return nil, invalidParams(fmt.Errorf("whitelist %d: %w", i, err))
		}
		cfg.Whitelist = append(cfg.Whitelist, addr)
	}
	opErr := s.engine.SetAbuseConfig(caller, cfg)
	metrics.ObserveOperation("set_abuse_config", opErr)
	if opErr != nil {
		return nil, engineError(opErr)
	}
	return okResult, nil
}

type approveRefundParams struct {
	Caller   string `json:"caller"`
	BountyID uint64 `json:"bountyId"`
}

func (s *Server) handleApproveCustomRefund(params json.RawMessage) (interface{}, *rpcError) {
	var p approveRefundParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseAddress(p.Caller)
	if err != nil {
		return nil, invalidParams(fmt.Errorf("caller: %w", err))
	}
	opErr := s.engine.ApproveCustomRefund(caller, p.BountyID)
	metrics.ObserveOperation("approve_custom_refund", opErr)
	if opErr != nil {
		return nil, engineError(opErr)
	}
	return okResult, nil
}

// --- query handlers ---

type bountyIDParams struct {
	BountyID uint64 `json:"bountyId"`
}

func (s *Server) handleGetEscrowInfo(params json.RawMessage) (interface{}, *rpcError) {
	var p bountyIDParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	record, err := s.engine.GetEscrowInfo(p.BountyID)
	if err != nil {
		return nil, engineError(err)
	}
	return newEscrowInfoResult(record), nil
}

func (s *Server) handleGetRefundHistory(params json.RawMessage) (interface{}, *rpcError) {
	var p bountyIDParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	history, err := s.engine.GetRefundHistory(p.BountyID)
	if err != nil {
		return nil, engineError(err)
	}
	out := make([]refundHistoryResult, 0, len(history))
	for _, entry := range history {
		out = append(out, refundHistoryResult{
			Mode:      entry.Mode.String(),
			Amount:    entry.Amount.String(),
			Recipient: formatAddress(entry.Recipient),
			Timestamp: entry.Timestamp,
		})
	}
	return out, nil
}

func (s *Server) handleGetBalance(params json.RawMessage) (interface{}, *rpcError) {
	var p bountyIDParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	balance, err := s.engine.GetBalance(p.BountyID)
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]string{"balance": balance.String()}, nil
}

func (s *Server) handleIsPaused() (interface{}, *rpcError) {
	paused, err := s.engine.IsPaused()
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"paused": paused}, nil
}

func (s *Server) handleGetFeeConfig() (interface{}, *rpcError) {
	cfg, err := s.engine.GetFeeConfig()
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{
		"lockFeeBps":   cfg.LockFeeBps,
		"payoutFeeBps": cfg.PayoutFeeBps,
		"feeRecipient": formatAddress(cfg.FeeRecipient),
		"enabled":      cfg.Enabled,
	}, nil
}

type eventResult struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func (s *Server) handleListEvents() (interface{}, *rpcError) {
	if s.sink == nil {
		return []eventResult{}, nil
	}
	evts := s.sink.Events()
	out := make([]eventResult, 0, len(evts))
	for _, evt := range evts {
		out = append(out, eventResult{Type: evt.Type, Attributes: evt.Attributes})
	}
	return out, nil
}
