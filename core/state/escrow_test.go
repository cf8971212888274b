package state_test

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/codebestia/grainlify/core/state"
	"github.com/codebestia/grainlify/native/common"
	escrowpkg "github.com/codebestia/grainlify/native/escrow"
	"github.com/codebestia/grainlify/storage"
)

func newTestManager(t *testing.T) *state.Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(func() { _ = db.Close() })
	return state.NewManager(db)
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func TestManagerEscrowPutGet(t *testing.T) {
	mgr := newTestManager(t)
	depositor := testAddr(0x01)
	record := &escrowpkg.Record{
		BountyID:  7,
		Depositor: depositor,
		Amount:    big.NewInt(1_000_000),
		Remaining: big.NewInt(400_000),
		Status:    escrowpkg.StatusPartiallyRefunded,
		Deadline:  1_700_000_000,
		CreatedAt: 1_695_000_000,
	}

	if err := mgr.EscrowPut(record); err != nil {
		t.Fatalf("EscrowPut: %v", err)
	}

	stored, ok, err := mgr.EscrowGet(7)
	if err != nil {
		t.Fatalf("EscrowGet: %v", err)
	}
	if !ok || stored == nil {
		t.Fatalf("expected record to exist")
	}
	if stored.Amount.Cmp(record.Amount) != 0 || stored.Remaining.Cmp(record.Remaining) != 0 {
		t.Fatalf("amounts mutated during round trip: %+v", stored)
	}
	if stored.Amount == record.Amount {
		t.Fatalf("EscrowGet should not alias the stored amount pointer")
	}
	if stored.Depositor != depositor || stored.Status != escrowpkg.StatusPartiallyRefunded {
		t.Fatalf("metadata mutated during round trip: %+v", stored)
	}
	if stored.Deadline != record.Deadline || stored.CreatedAt != record.CreatedAt {
		t.Fatalf("timestamps mutated during round trip: %+v", stored)
	}

	if _, ok, err := mgr.EscrowGet(8); err != nil || ok {
		t.Fatalf("unknown id should report absent, got ok=%v err=%v", ok, err)
	}
}

func TestManagerEscrowPutRejectsInvalid(t *testing.T) {
	mgr := newTestManager(t)
	record := &escrowpkg.Record{
		BountyID:  1,
		Depositor: testAddr(0x01),
		Amount:    big.NewInt(100),
		Remaining: big.NewInt(200), // remaining > amount
		Status:    escrowpkg.StatusLocked,
		Deadline:  10,
		CreatedAt: 5,
	}
	if err := mgr.EscrowPut(record); err == nil {
		t.Fatalf("expected sanitize failure for remaining > amount")
	}
}

func TestManagerHistoryAppendOrder(t *testing.T) {
	mgr := newTestManager(t)
	recipient := testAddr(0x02)
	for i := int64(1); i <= 3; i++ {
		entry := &escrowpkg.RefundHistoryEntry{
			Mode:      escrowpkg.RefundPartial,
			Amount:    big.NewInt(i * 100),
			Recipient: recipient,
			Timestamp: uint64(1000 + i),
		}
		if err := mgr.EscrowHistoryAppend(9, entry); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	history, err := mgr.EscrowHistory(9)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}
	for i, entry := range history {
		if entry.Amount.Cmp(big.NewInt(int64(i+1)*100)) != 0 {
			t.Fatalf("entry %d out of order: %+v", i, entry)
		}
	}
	empty, err := mgr.EscrowHistory(10)
	if err != nil || len(empty) != 0 {
		t.Fatalf("unknown id should yield empty history, got %v / %v", empty, err)
	}
}

func TestManagerBalancesAndTransfer(t *testing.T) {
	mgr := newTestManager(t)
	alice := testAddr(0x0A)
	bob := testAddr(0x0B)

	if err := mgr.Mint(alice, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := mgr.Transfer(alice, bob, big.NewInt(200)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	aliceBalance, _ := mgr.Balance(alice)
	bobBalance, _ := mgr.Balance(bob)
	if aliceBalance.Cmp(big.NewInt(300)) != 0 || bobBalance.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("unexpected balances: %v / %v", aliceBalance, bobBalance)
	}

	if err := mgr.Transfer(alice, bob, big.NewInt(400)); !errors.Is(err, state.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := mgr.Transfer(alice, bob, big.NewInt(0)); err != nil {
		t.Fatalf("zero transfer should be a no-op: %v", err)
	}
	if err := mgr.Transfer(alice, bob, big.NewInt(-1)); err == nil {
		t.Fatalf("expected negative transfer to fail")
	}
}

func TestManagerGuardFlagRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	if set, err := mgr.GuardFlag(); err != nil || set {
		t.Fatalf("fresh state should have a clear flag, got set=%v err=%v", set, err)
	}
	if err := mgr.SetGuardFlag(true); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	if set, _ := mgr.GuardFlag(); !set {
		t.Fatalf("flag did not persist")
	}
	if err := mgr.SetGuardFlag(false); err != nil {
		t.Fatalf("clear flag: %v", err)
	}
	if set, _ := mgr.GuardFlag(); set {
		t.Fatalf("flag did not clear")
	}
}

func TestManagerAbuseStateRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	actor := testAddr(0x0C)

	st, err := mgr.AbuseStateGet(actor)
	if err != nil {
		t.Fatalf("fresh abuse state: %v", err)
	}
	if st.OpCountInWindow != 0 || st.LastOpTime != 0 {
		t.Fatalf("expected zero counters, got %+v", st)
	}

	if err := mgr.AbuseStatePut(actor, common.AbuseState{LastOpTime: 1234, OpCountInWindow: 5}); err != nil {
		t.Fatalf("put abuse state: %v", err)
	}
	st, _ = mgr.AbuseStateGet(actor)
	if st.LastOpTime != 1234 || st.OpCountInWindow != 5 {
		t.Fatalf("counters mutated during round trip: %+v", st)
	}

	cfg := &common.AbuseConfig{
		WindowLength:     60,
		MaxOpsPerWindow:  10,
		CooldownDuration: 120,
		Whitelist:        [][20]byte{actor},
	}
	if err := mgr.SetAbuseConfig(cfg); err != nil {
		t.Fatalf("set abuse config: %v", err)
	}
	loaded, err := mgr.AbuseConfig()
	if err != nil {
		t.Fatalf("abuse config: %v", err)
	}
	if loaded.WindowLength != 60 || loaded.MaxOpsPerWindow != 10 || !loaded.IsWhitelisted(actor) {
		t.Fatalf("config mutated during round trip: %+v", loaded)
	}
}

func TestManagerAdminAndPause(t *testing.T) {
	mgr := newTestManager(t)
	if _, ok, err := mgr.Admin(); err != nil || ok {
		t.Fatalf("fresh state should have no admin")
	}
	admin := testAddr(0x0D)
	if err := mgr.SetAdmin(admin); err != nil {
		t.Fatalf("set admin: %v", err)
	}
	stored, ok, _ := mgr.Admin()
	if !ok || stored != admin {
		t.Fatalf("admin did not persist: %v %v", ok, stored)
	}

	if paused, _ := mgr.Paused(); paused {
		t.Fatalf("fresh state should not be paused")
	}
	if err := mgr.SetPaused(true); err != nil {
		t.Fatalf("set paused: %v", err)
	}
	if paused, _ := mgr.Paused(); !paused {
		t.Fatalf("pause did not persist")
	}
}

func TestManagerCustomRefundApproval(t *testing.T) {
	mgr := newTestManager(t)
	if ok, _ := mgr.CustomRefundApproved(1); ok {
		t.Fatalf("fresh state should have no approval")
	}
	if err := mgr.SetCustomRefundApproval(1, true); err != nil {
		t.Fatalf("grant approval: %v", err)
	}
	if ok, _ := mgr.CustomRefundApproved(1); !ok {
		t.Fatalf("approval did not persist")
	}
	if err := mgr.SetCustomRefundApproval(1, false); err != nil {
		t.Fatalf("consume approval: %v", err)
	}
	if ok, _ := mgr.CustomRefundApproved(1); ok {
		t.Fatalf("approval not consumed")
	}
}

func TestManagerFeeConfigRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	cfg, err := mgr.FeeConfig()
	if err != nil || cfg.Enabled {
		t.Fatalf("fresh state should have disabled fees, got %+v err=%v", cfg, err)
	}
	recipient := testAddr(0x0E)
	if err := mgr.SetFeeConfig(&escrowpkg.FeeConfig{LockFeeBps: 50, PayoutFeeBps: 75, FeeRecipient: recipient, Enabled: true}); err != nil {
		t.Fatalf("set fee config: %v", err)
	}
	cfg, _ = mgr.FeeConfig()
	if cfg.LockFeeBps != 50 || cfg.PayoutFeeBps != 75 || cfg.FeeRecipient != recipient || !cfg.Enabled {
		t.Fatalf("fee config mutated during round trip: %+v", cfg)
	}
	if err := mgr.SetFeeConfig(&escrowpkg.FeeConfig{LockFeeBps: 20_000}); err == nil {
		t.Fatalf("expected out-of-range bps to be rejected")
	}
}
