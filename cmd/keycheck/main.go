// Command keycheck asks a keyledger server whether a license key is valid.
// It exits 0 for a valid key, 1 for an invalid one and 2 when the server
// could not answer.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dukerupert/keyledger/internal/license"
)

func main() {
	serverURL := flag.String("server", envOr("KEYLEDGER_SERVER_URL", "http://localhost:8090"), "keyledger base URL")
	key := flag.String("key", os.Getenv("KEYLEDGER_LICENSE_KEY"), "license key to check")
	retries := flag.Uint64("retries", 2, "retries on network errors and 5xx responses")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	asJSON := flag.Bool("json", false, "print the status as JSON")
	flag.Parse()

	if *key == "" && flag.NArg() > 0 {
		*key = flag.Arg(0)
	}
	if *key == "" {
		fmt.Fprintln(os.Stderr, "usage: keycheck [-server URL] -key KEY")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := license.NewClient(license.Config{Key: *key, ServerURL: *serverURL, Retries: *retries})
	st, err := c.Validate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keycheck: %v\n", err)
		os.Exit(2)
	}

	if *asJSON {
		json.NewEncoder(os.Stdout).Encode(st)
	} else if st.Valid {
		fmt.Printf("valid: owner=%s", st.Owner)
		if st.IssuedAt != nil {
			fmt.Printf(" issued=%s", st.IssuedAt.Format(time.RFC3339))
		}
		fmt.Println()
	} else {
		fmt.Printf("invalid: %s\n", st.Reason)
	}

	if !st.Valid {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
