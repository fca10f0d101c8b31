// The keeper CLI drives a vault daemon through its weekly cycle:
//
//	keeper -addr http://localhost:8550 -caller 0x... init-auction
//	keeper -addr http://localhost:8550 -caller 0x... init-epoch
//	keeper -addr http://localhost:8550 -caller 0x... process-auction
//
// Commands are idempotent at the status level: a repeated or
// out-of-order command fails deterministically on the daemon side.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

var commands = map[string]string{
	"init-auction":    "/api/v1/keeper/init-auction",
	"init-epoch":      "/api/v1/keeper/init-epoch",
	"process-auction": "/api/v1/keeper/process-auction",
	"finalize":        "", // filled per-epoch below
}

func main() {
	addr := flag.String("addr", "http://localhost:8550", "vault daemon address")
	callerAddr := flag.String("caller", "", "keeper address (hex)")
	epoch := flag.Uint64("epoch", 0, "epoch for finalize")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: keeper [flags] init-auction|init-epoch|process-auction|finalize")
		os.Exit(2)
	}
	cmd := flag.Arg(0)
	path, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(2)
	}
	if cmd == "finalize" {
		path = fmt.Sprintf("/api/v1/auctions/%d/finalize", *epoch)
	} else if *callerAddr == "" {
		fmt.Fprintln(os.Stderr, "-caller is required for keeper commands")
		os.Exit(2)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequest("POST", *addr+path, nil)
	if err != nil {
		log.Fatalf("request: %v", err)
	}
	if *callerAddr != "" {
		req.Header.Set("X-Caller", *callerAddr)
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Fatalf("%s failed (%d): %s", cmd, resp.StatusCode, body)
	}
	fmt.Printf("%s ok: %s\n", cmd, body)
}
