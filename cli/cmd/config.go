package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and scaffold configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  "Display the merged configuration from defaults, config file, environment variables, and flags. Sensitive values are redacted.",
	RunE:  showConfig,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE:  initConfigFile,
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long:  "Set a configuration key (dotted path, e.g. store.type) and write the config file.",
	Args:  cobra.ExactArgs(2),
	RunE:  setConfigValue,
}

var configInitPath string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetCmd)

	configInitCmd.Flags().StringVarP(&configInitPath, "output", "o", ".syncedstore.yaml", "where to write the config file")
}

func showConfig(cmd *cobra.Command, args []string) error {
	if viper.ConfigFileUsed() != "" {
		fmt.Printf("# config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Println("# config file: none found")
	}

	settings := redactSensitive(viper.AllSettings())
	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	fmt.Print(string(out))

	var overridden []string
	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			overridden = append(overridden, f.Name)
		}
	})
	if len(overridden) > 0 {
		fmt.Printf("# overridden by flags: %s\n", strings.Join(overridden, ", "))
	}

	return nil
}

// redactSensitive masks values whose keys suggest credentials.
func redactSensitive(settings map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(settings))
	for key, value := range settings {
		if nested, ok := value.(map[string]interface{}); ok {
			out[key] = redactSensitive(nested)
			continue
		}
		if isSensitiveKey(key) {
			if s, ok := value.(string); !ok || s != "" {
				out[key] = "[redacted]"
				continue
			}
		}
		out[key] = value
	}
	return out
}

func isSensitiveKey(name string) bool {
	sensitive := []string{"passphrase", "password", "secret", "token", "access_key"}
	lower := strings.ToLower(name)
	for _, s := range sensitive {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func setConfigValue(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	viper.Set(key, value)

	target := viper.ConfigFileUsed()
	if target == "" {
		target = ".syncedstore.yaml"
	}
	if err := viper.WriteConfigAs(target); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}

	if isSensitiveKey(key) {
		fmt.Printf("Set %s in %s\n", key, target)
	} else {
		fmt.Printf("Set %s=%s in %s\n", key, value, target)
	}
	return nil
}

type starterConfig struct {
	Store struct {
		Namespace   string `yaml:"namespace"`
		Type        string `yaml:"type"`
		Path        string `yaml:"path"`
		CipherSuite string `yaml:"cipher_suite"`
		MemoryLock  bool   `yaml:"memory_lock"`
	} `yaml:"store"`
	Keystore struct {
		Type string `yaml:"type"`
		Dir  string `yaml:"dir"`
	} `yaml:"keystore"`
	Audit struct {
		Enabled bool   `yaml:"enabled"`
		Type    string `yaml:"type"`
	} `yaml:"audit"`
}

func initConfigFile(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configInitPath); err == nil {
		return fmt.Errorf("%s already exists, not overwriting", configInitPath)
	}

	var cfg starterConfig
	cfg.Store.Namespace = "default"
	cfg.Store.Type = "file"
	cfg.Store.Path = ".syncedstore"
	cfg.Store.CipherSuite = "aes-256-cbc"
	cfg.Keystore.Type = "keyring"
	cfg.Keystore.Dir = ".syncedstore/keys"
	cfg.Audit.Type = "file"

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	if err := os.WriteFile(configInitPath, out, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", configInitPath, err)
	}

	fmt.Printf("Wrote %s\n", configInitPath)
	return nil
}
