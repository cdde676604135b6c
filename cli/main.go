package main

import (
	"github.com/awnumar/memguard"

	"github.com/talon2295/keychain-synced-storage/cli/cmd"
)

func main() {
	// Wipe enclave memory on interrupt before the process dies.
	memguard.CatchInterrupt()
	defer memguard.Purge()

	cmd.Execute()
}
