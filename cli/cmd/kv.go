package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var kvCmd = &cobra.Command{
	Use:   "kv",
	Short: "Manage cached values",
	Long:  "Read and write values in the cache. Writes return immediately and persist in the background.",
}

var getCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Read a value",
	Args:  cobra.ExactArgs(1),
	RunE:  getValue,
}

var setCmd = &cobra.Command{
	Use:   "set [key]",
	Short: "Store a value",
	Long:  "Store a value under a key. Data can be provided inline, from a file, or from stdin.",
	Args:  cobra.ExactArgs(1),
	RunE:  setValue,
}

var removeCmd = &cobra.Command{
	Use:   "remove [key]",
	Short: "Delete a value",
	Args:  cobra.ExactArgs(1),
	RunE:  removeValue,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached keys",
	RunE:  listKeys,
}

var (
	setData      string
	setFile      string
	listPrefix   string
	listWithSize bool
)

func init() {
	rootCmd.AddCommand(kvCmd)

	kvCmd.AddCommand(getCmd)
	kvCmd.AddCommand(setCmd)
	kvCmd.AddCommand(removeCmd)
	kvCmd.AddCommand(listCmd)

	setCmd.Flags().StringVarP(&setData, "data", "d", "", "value as string")
	setCmd.Flags().StringVarP(&setFile, "file", "f", "", "read value from file (use '-' for stdin)")

	listCmd.Flags().StringVar(&listPrefix, "prefix", "", "only list keys with this prefix")
	listCmd.Flags().BoolVar(&listWithSize, "sizes", false, "show value sizes")
}

func getValue(cmd *cobra.Command, args []string) error {
	value, ok := store.Get(args[0])
	if !ok {
		return fmt.Errorf("key %q not found", args[0])
	}
	fmt.Println(value)
	return nil
}

func setValue(cmd *cobra.Command, args []string) error {
	value, err := readValueInput()
	if err != nil {
		return err
	}

	store.Set(args[0], value)
	fmt.Printf("Stored %q (%d bytes)\n", args[0], len(value))
	return nil
}

func removeValue(cmd *cobra.Command, args []string) error {
	if _, ok := store.Get(args[0]); !ok {
		return fmt.Errorf("key %q not found", args[0])
	}
	store.Remove(args[0])
	fmt.Printf("Removed %q\n", args[0])
	return nil
}

func listKeys(cmd *cobra.Command, args []string) error {
	keys := store.Keys()
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	count := 0
	for _, key := range keys {
		if listPrefix != "" && !strings.HasPrefix(key, listPrefix) {
			continue
		}
		count++
		if listWithSize {
			value, _ := store.Get(key)
			fmt.Fprintf(w, "%s\t%d bytes\n", key, len(value))
		} else {
			fmt.Fprintln(w, key)
		}
	}

	if count == 0 {
		fmt.Fprintln(w, "(no keys)")
	}
	return nil
}

// readValueInput resolves the value for a set from --data, --file, or stdin.
func readValueInput() (string, error) {
	if setData != "" && setFile != "" {
		return "", fmt.Errorf("--data and --file are mutually exclusive")
	}
	if setData != "" {
		return setData, nil
	}
	if setFile == "" || setFile == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
		return strings.TrimRight(string(data), "\n"), nil
	}

	data, err := os.ReadFile(setFile)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", setFile, err)
	}
	return string(data), nil
}
