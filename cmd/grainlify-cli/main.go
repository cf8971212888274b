package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const defaultRPCURL = "http://127.0.0.1:8651"

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: grainlify-cli <command> [flags]

Commands:
  lock            lock funds for a new bounty
  release         release a locked bounty to a contributor (admin)
  refund          refund a bounty (full, partial or custom mode)
  batch-lock      lock several bounties atomically from a JSON file
  batch-release   release several bounties atomically from a JSON file (admin)
  info            show the escrow record for a bounty
  history         show the refund history for a bounty
  balance         show the remaining escrowed amount for a bounty
  status          show pause state and fee configuration
  events          list emitted contract events
  pause           suspend mutating operations (admin)
  unpause         resume mutating operations (admin)
  set-fees        update the fee configuration (admin)
  approve-refund  approve a one-shot custom refund for a bounty (admin)

Environment:
  GRAINLIFY_RPC_URL    RPC endpoint (default %s)
  GRAINLIFY_RPC_TOKEN  bearer token for mutating commands
`, defaultRPCURL)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "lock":
		err = cmdLock(args)
	case "release":
		err = cmdRelease(args)
	case "refund":
		err = cmdRefund(args)
	case "batch-lock":
		err = cmdBatchLock(args)
	case "batch-release":
		err = cmdBatchRelease(args)
	case "info":
		err = cmdInfo(args)
	case "history":
		err = cmdHistory(args)
	case "balance":
		err = cmdBalance(args)
	case "status":
		err = cmdStatus(args)
	case "events":
		err = cmdEvents(args)
	case "pause":
		err = cmdPause(args, true)
	case "unpause":
		err = cmdPause(args, false)
	case "set-fees":
		err = cmdSetFees(args)
	case "approve-refund":
		err = cmdApproveRefund(args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "grainlify-cli: unknown command %q\n\n", cmd)
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "grainlify-cli: %v\n", err)
		os.Exit(1)
	}
}

func rpcURL() string {
	if url := os.Getenv("GRAINLIFY_RPC_URL"); url != "" {
		return url
	}
	return defaultRPCURL
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

type rpcResponseBody struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcErrorBody   `json:"error"`
}

// rpcCall performs a single JSON-RPC request and returns the raw result.
func rpcCall(method string, params interface{}) (json.RawMessage, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = params
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, rpcURL(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := os.Getenv("GRAINLIFY_RPC_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var decoded rpcResponseBody
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("malformed response: %v", err)
	}
	if decoded.Error != nil {
		if decoded.Error.Data != "" {
			return nil, fmt.Errorf("%s (code %d): %s", decoded.Error.Message, decoded.Error.Code, decoded.Error.Data)
		}
		return nil, fmt.Errorf("%s (code %d)", decoded.Error.Message, decoded.Error.Code)
	}
	return decoded.Result, nil
}

// printJSON pretty-prints an RPC result for the terminal.
func printJSON(raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}
