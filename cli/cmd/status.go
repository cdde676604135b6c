package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	syncedstore "github.com/talon2295/keychain-synced-storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store status",
	Long:  "Display the store state, protection policy, backend configuration, and memory protection level.",
	RunE:  showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	bold := color.New(color.Bold)
	bold.Println("Store Status")
	bold.Println("============")

	state := store.State()
	switch state {
	case syncedstore.StateReady:
		fmt.Printf("State: %s\n", color.GreenString(state.String()))
	case syncedstore.StateDegradedNoKey:
		fmt.Printf("State: %s\n", color.RedString(state.String()))
	default:
		fmt.Printf("State: %s\n", color.YellowString(state.String()))
	}

	if store.GetProtectionMode() {
		fmt.Printf("Protection: %s\n", color.GreenString("biometric"))
	} else {
		fmt.Println("Protection: passcode-only")
	}

	fmt.Printf("Entries: %d\n", store.Len())
	fmt.Printf("Namespace: %s\n", viper.GetString("store.namespace"))
	fmt.Printf("Backend: %s\n", blobStore.GetType())
	fmt.Printf("Memory Protection: %s\n", store.MemoryProtection())

	if err := blobStore.Ping(cmd.Context()); err != nil {
		fmt.Printf("Backend Health: %s (%v)\n", color.RedString("unreachable"), err)
	} else {
		fmt.Printf("Backend Health: %s\n", color.GreenString("ok"))
	}

	return nil
}
