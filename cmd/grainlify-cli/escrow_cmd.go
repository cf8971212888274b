package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

func requireFlags(pairs map[string]string) error {
	for name, value := range pairs {
		if value == "" {
			return fmt.Errorf("missing required flag -%s", name)
		}
	}
	return nil
}

func cmdLock(args []string) error {
	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	caller := fs.String("caller", "", "caller address (must equal depositor)")
	depositor := fs.String("depositor", "", "depositor address")
	bountyID := fs.Uint64("bounty", 0, "bounty id")
	amount := fs.String("amount", "", "amount to lock (base-10 integer)")
	deadline := fs.Uint64("deadline", 0, "deadline as unix seconds")
	fs.Parse(args)
	if err := requireFlags(map[string]string{"caller": *caller, "depositor": *depositor, "amount": *amount}); err != nil {
		return err
	}
	result, err := rpcCall("escrow_lock", map[string]interface{}{
		"caller":    *caller,
		"depositor": *depositor,
		"bountyId":  *bountyID,
		"amount":    *amount,
		"deadline":  *deadline,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdRelease(args []string) error {
	fs := flag.NewFlagSet("release", flag.ExitOnError)
	caller := fs.String("caller", "", "admin address")
	bountyID := fs.Uint64("bounty", 0, "bounty id")
	recipient := fs.String("recipient", "", "contributor address")
	fs.Parse(args)
	if err := requireFlags(map[string]string{"caller": *caller, "recipient": *recipient}); err != nil {
		return err
	}
	result, err := rpcCall("escrow_release", map[string]interface{}{
		"caller":    *caller,
		"bountyId":  *bountyID,
		"recipient": *recipient,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdRefund(args []string) error {
	fs := flag.NewFlagSet("refund", flag.ExitOnError)
	caller := fs.String("caller", "", "caller address")
	bountyID := fs.Uint64("bounty", 0, "bounty id")
	mode := fs.String("mode", "full", "refund mode: full, partial or custom")
	amount := fs.String("amount", "", "amount for partial/custom refunds")
	recipient := fs.String("recipient", "", "recipient for custom refunds")
	fs.Parse(args)
	if err := requireFlags(map[string]string{"caller": *caller}); err != nil {
		return err
	}
	params := map[string]interface{}{
		"caller":   *caller,
		"bountyId": *bountyID,
		"mode":     *mode,
	}
	if *amount != "" {
		params["amount"] = *amount
	}
	if *recipient != "" {
		params["recipient"] = *recipient
	}
	result, err := rpcCall("escrow_refund", params)
	if err != nil {
		return err
	}
	return printJSON(result)
}

// batch files are JSON arrays matching the RPC item shape, e.g.
// [{"bountyId":1,"depositor":"0x..","amount":"1000","deadline":1700003600}]
func readBatchFile(path string, out interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func cmdBatchLock(args []string) error {
	fs := flag.NewFlagSet("batch-lock", flag.ExitOnError)
	caller := fs.String("caller", "", "caller address")
	file := fs.String("file", "", "path to a JSON file with the lock items")
	fs.Parse(args)
	if err := requireFlags(map[string]string{"caller": *caller, "file": *file}); err != nil {
		return err
	}
	var items []map[string]interface{}
	if err := readBatchFile(*file, &items); err != nil {
		return fmt.Errorf("read batch file: %w", err)
	}
	result, err := rpcCall("escrow_batchLock", map[string]interface{}{
		"caller": *caller,
		"items":  items,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdBatchRelease(args []string) error {
	fs := flag.NewFlagSet("batch-release", flag.ExitOnError)
	caller := fs.String("caller", "", "admin address")
	file := fs.String("file", "", "path to a JSON file with the release items")
	fs.Parse(args)
	if err := requireFlags(map[string]string{"caller": *caller, "file": *file}); err != nil {
		return err
	}
	var items []map[string]interface{}
	if err := readBatchFile(*file, &items); err != nil {
		return fmt.Errorf("read batch file: %w", err)
	}
	result, err := rpcCall("escrow_batchRelease", map[string]interface{}{
		"caller": *caller,
		"items":  items,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	bountyID := fs.Uint64("bounty", 0, "bounty id")
	fs.Parse(args)
	result, err := rpcCall("escrow_getEscrowInfo", map[string]interface{}{"bountyId": *bountyID})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	bountyID := fs.Uint64("bounty", 0, "bounty id")
	fs.Parse(args)
	result, err := rpcCall("escrow_getRefundHistory", map[string]interface{}{"bountyId": *bountyID})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdBalance(args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	bountyID := fs.Uint64("bounty", 0, "bounty id")
	fs.Parse(args)
	result, err := rpcCall("escrow_getBalance", map[string]interface{}{"bountyId": *bountyID})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Parse(args)
	paused, err := rpcCall("escrow_isPaused", nil)
	if err != nil {
		return err
	}
	fees, err := rpcCall("escrow_getFeeConfig", nil)
	if err != nil {
		return err
	}
	if err := printJSON(paused); err != nil {
		return err
	}
	return printJSON(fees)
}

func cmdEvents(args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	fs.Parse(args)
	result, err := rpcCall("escrow_listEvents", nil)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdPause(args []string, pause bool) error {
	name, method := "pause", "escrow_pause"
	if !pause {
		name, method = "unpause", "escrow_unpause"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	caller := fs.String("caller", "", "admin address")
	fs.Parse(args)
	if err := requireFlags(map[string]string{"caller": *caller}); err != nil {
		return err
	}
	result, err := rpcCall(method, map[string]interface{}{"caller": *caller})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdSetFees(args []string) error {
	fs := flag.NewFlagSet("set-fees", flag.ExitOnError)
	caller := fs.String("caller", "", "admin address")
	lockBps := fs.Uint("lock-bps", 0, "lock fee in basis points")
	payoutBps := fs.Uint("payout-bps", 0, "payout fee in basis points")
	recipient := fs.String("recipient", "", "fee recipient address")
	enabled := fs.Bool("enabled", true, "enable fee collection")
	fs.Parse(args)
	if err := requireFlags(map[string]string{"caller": *caller}); err != nil {
		return err
	}
	result, err := rpcCall("escrow_setFeeConfig", map[string]interface{}{
		"caller":       *caller,
		"lockFeeBps":   uint32(*lockBps),
		"payoutFeeBps": uint32(*payoutBps),
		"feeRecipient": *recipient,
		"enabled":      *enabled,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdApproveRefund(args []string) error {
	fs := flag.NewFlagSet("approve-refund", flag.ExitOnError)
	caller := fs.String("caller", "", "admin address")
	bountyID := fs.Uint64("bounty", 0, "bounty id")
	fs.Parse(args)
	if err := requireFlags(map[string]string{"caller": *caller}); err != nil {
		return err
	}
	result, err := rpcCall("escrow_approveCustomRefund", map[string]interface{}{
		"caller":   *caller,
		"bountyId": *bountyID,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}
