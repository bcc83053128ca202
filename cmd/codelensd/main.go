// Package main provides the entry point for the codelens CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/codelens/codelens/cmd/codelensd/cmd"
	"github.com/codelens/codelens/internal/chunkstore"
)

// Exit codes per the CLI's documented contract: 0 on success, 1 on a
// generic/fatal failure, 2 when the chunk store itself is corrupt and
// needs `codelens clear` before anything else will work.
const (
	exitOK           = 0
	exitFailure      = 1
	exitStoreCorrupt = 2
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, chunkstore.ErrStoreCorrupt) {
			os.Exit(exitStoreCorrupt)
		}
		os.Exit(exitFailure)
	}
	os.Exit(exitOK)
}
