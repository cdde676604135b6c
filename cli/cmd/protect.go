package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var protectCmd = &cobra.Command{
	Use:   "protect",
	Short: "Manage the protection policy of the encryption key",
	Long: `Switch the encryption key between passcode-only and biometric protection.
Changing the policy rotates the key and re-encrypts the cached data under the
new one; the data itself is preserved.`,
}

var protectEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Require biometric authentication to release the key",
	RunE:  enableProtection,
}

var protectDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Allow the key to be released with the device passcode only",
	Long: `Downgrade the key to passcode-only protection. This requires one final
biometric authentication to release the current key before it is replaced.`,
	RunE: disableProtection,
}

var protectStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current protection policy",
	RunE:  protectionStatus,
}

func init() {
	rootCmd.AddCommand(protectCmd)

	protectCmd.AddCommand(protectEnableCmd)
	protectCmd.AddCommand(protectDisableCmd)
	protectCmd.AddCommand(protectStatusCmd)
}

func enableProtection(cmd *cobra.Command, args []string) error {
	if store.GetProtectionMode() {
		fmt.Println("Biometric protection is already enabled")
		return nil
	}
	if err := store.SetProtectionMode(cmd.Context(), true); err != nil {
		return fmt.Errorf("failed to enable biometric protection: %w", err)
	}
	fmt.Println("Biometric protection enabled; key rotated")
	return nil
}

func disableProtection(cmd *cobra.Command, args []string) error {
	if !store.GetProtectionMode() {
		fmt.Println("Biometric protection is already disabled")
		return nil
	}
	if err := store.SetProtectionMode(cmd.Context(), false); err != nil {
		return fmt.Errorf("failed to disable biometric protection: %w", err)
	}
	fmt.Println("Biometric protection disabled; key rotated")
	return nil
}

func protectionStatus(cmd *cobra.Command, args []string) error {
	if store.GetProtectionMode() {
		fmt.Println("Protection: biometric")
	} else {
		fmt.Println("Protection: passcode-only")
	}
	return nil
}
