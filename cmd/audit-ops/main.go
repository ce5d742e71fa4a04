// audit-ops runs maintenance jobs against the card audit database.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/audit-ops migrate
//	go run ./cmd/audit-ops expire-sessions --dry-run
//	go run ./cmd/audit-ops expire-sessions --confirm=EXPIRE --limit=500
//	DB_DRIVER=sqlite go run ./cmd/audit-ops seed-demo --owner-id=demo
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
