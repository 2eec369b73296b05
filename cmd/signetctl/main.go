// Command signetctl is the client CLI of spec.md §6: login, sign
// <path>, verify <path>, key <username>, plus the SPEC_FULL.md
// additions watch and audit. Exit code 0 on success, 1 on verification
// failure or unknown command, mirroring spec.md's documented contract.
package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"signetd/internal/chain"
	"signetd/internal/config"
	"signetd/internal/hash"
	"signetd/internal/keystore"
	"signetd/internal/logger"
	"signetd/internal/signclient"
	"signetd/internal/store"
	"signetd/internal/watch"
)

// disp formats a hash for operator-facing CLI output. Wire/storage
// code always uses hash.H.Hex (plain lowercase hex, no prefix); this
// 0x-prefixed form is display-only, matching how the pack's
// go-ethereum-derived tooling prints digests.
func disp(h hash.H) string { return hexutil.Encode(h[:]) }

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: signetctl <login|sign|verify|key|watch|audit> [args]")
		return 1
	}

	cfgPath := os.Getenv("SIGNETCTL_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/signetctl.yaml"
	}
	cfg, err := config.LoadClient(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "fver"
	}

	switch args[0] {
	case "login":
		return cmdLogin(dataDir)
	case "sign":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: signetctl sign <path>")
			return 1
		}
		return cmdSign(cfg.ServerAddr, dataDir, args[1])
	case "verify":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: signetctl verify <path>")
			return 1
		}
		return cmdVerify(cfg.ServerAddr, args[1])
	case "key":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: signetctl key <username>")
			return 1
		}
		return cmdKey(cfg.ServerAddr, dataDir, args[1])
	case "watch":
		return cmdWatch(args[1:])
	case "audit":
		return cmdAudit(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		return 1
	}
}

// cmdLogin prompts for a username (spec.md §4.5/Non-goals: "interactive
// username prompt" is the CLI's job, not the core's) and bootstraps a
// local keypair if one doesn't already exist.
func cmdLogin(dataDir string) int {
	fmt.Print("username: ")
	reader := bufio.NewReader(os.Stdin)
	username, err := reader.ReadString('\n')
	if err != nil {
		fmt.Fprintf(os.Stderr, "login: %v\n", err)
		return 1
	}
	username = trimNewline(username)

	ks, err := keystore.Load(dataDir, username, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "login: %v\n", err)
		return 1
	}
	defer ks.Close()
	fmt.Printf("logged in as %s\n", ks.Username())
	return 0
}

func cmdSign(serverAddr, dataDir, path string) int {
	ks, err := keystore.Load(dataDir, "", false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign: not logged in: %v\n", err)
		return 1
	}
	defer ks.Close()

	c, err := signclient.Dial(serverAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign: %v\n", err)
		return 1
	}
	defer c.Close()

	pubDER, err := ks.PublicKeyDER()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign: %v\n", err)
		return 1
	}
	if err := c.SetUser(pubDER, []byte(ks.Username())); err != nil {
		fmt.Fprintf(os.Stderr, "sign: register user: %v\n", err)
		return 1
	}

	sigID, err := signclient.Sign(c, ks.PrivateKey(), ks.Username(), path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign: %v\n", err)
		return 1
	}
	fmt.Printf("signed %s: sig_id=%s\n", path, disp(sigID))
	return 0
}

func cmdVerify(serverAddr, path string) int {
	c, err := signclient.Dial(serverAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify: %v\n", err)
		return 1
	}
	defer c.Close()

	results, err := signclient.Verify(c, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify: %v\n", err)
		return 1
	}

	ok := true
	for _, r := range results {
		status := "valid"
		if !r.Valid {
			status = "INVALID"
			ok = false
		}
		fmt.Printf("sig_id=%s user=%s %s\n", disp(r.SigID), disp(r.UserID), status)
	}
	if !ok {
		return 1
	}
	return 0
}

func cmdKey(serverAddr, dataDir, username string) int {
	ks, err := keystore.Load(dataDir, username, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "key: %v\n", err)
		return 1
	}
	defer ks.Close()

	c, err := signclient.Dial(serverAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "key: %v\n", err)
		return 1
	}
	defer c.Close()

	pubDER, err := ks.PublicKeyDER()
	if err != nil {
		fmt.Fprintf(os.Stderr, "key: %v\n", err)
		return 1
	}
	if err := c.SetUser(pubDER, []byte(username)); err != nil {
		fmt.Fprintf(os.Stderr, "key: %v\n", err)
		return 1
	}
	fmt.Printf("registered key for %s\n", username)
	return 0
}

// cmdWatch polls a signetd HTTP sidecar's /debug/tip until interrupted,
// warning on stalled chain progress (SPEC_FULL.md §4.9).
func cmdWatch(args []string) int {
	base := "http://localhost:9090"
	if len(args) > 0 {
		base = args[0]
	}
	lg := logger.New("info")
	c := watch.NewClient(base)
	stop := make(chan struct{})
	watch.Watch(c, 2*time.Second, 30*time.Second, lg, stop)
	return 0
}

// cmdAudit opens the storage directory given as its argument (default
// "storage"), walks the on-disk chain from that store's current tip,
// fails if any prev_sig link does not resolve, and prints the chain
// length and the Merkle anchor over the walked segment (SPEC_FULL.md
// §4.6's "invoked by a signetctl audit subcommand").
func cmdAudit(args []string) int {
	storageDir := "storage"
	if len(args) > 0 {
		storageDir = args[0]
	}
	s, err := store.Open(storageDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit: %v\n", err)
		return 1
	}
	manager := chain.New(s)
	tip, present, err := manager.Tip()
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit: %v\n", err)
		return 1
	}
	sigIDs, err := chain.WalkChain(s, tip, present)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit: %v\n", err)
		return 1
	}
	anchor := chain.Anchor(sigIDs)
	fmt.Printf("chain length=%d anchor=%s\n", len(sigIDs), disp(anchor))
	return 0
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
