// Command virtos boots the scheduler, memory manager, and interpreter
// over one or more assembled program files.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/virtos/virtos/cmd/virtos/cmd"
	"github.com/virtos/virtos/internal/mem"
)

func main() {
	root := cmd.SetupCLI()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if isOutOfMemory(err) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

// isOutOfMemory reports whether err wraps a *mem.OutOfMemory, the one
// host-fatal condition this program distinguishes with its own exit
// code; every other failure (bad flags, a malformed program file) exits
// 2, cobra's usual convention.
func isOutOfMemory(err error) bool {
	_, ok := errors.Cause(err).(*mem.OutOfMemory)
	return ok
}
