package cmd

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	syncedstore "github.com/talon2295/keychain-synced-storage"
	"github.com/talon2295/keychain-synced-storage/audit"
	"github.com/talon2295/keychain-synced-storage/keystore"
	"github.com/talon2295/keychain-synced-storage/persist"
)

var (
	cfgFile     string
	store       *syncedstore.Store
	keyStore    keystore.SecureKeyStore
	blobStore   persist.BlobStore
	auditLogger audit.Logger
	cliContext  *CLIContext
)

type CLIContext struct {
	UserID    string
	SessionID string
	Source    string // hostname
	StartTime time.Time
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "syncedstore",
	Short: "An encrypted, write-behind secrets cache",
	Long: `A client-side secrets cache that keeps values in memory for fast access and
persists them encrypted in the background. The encryption key lives in a
secure key store and can be re-protected between passcode-only and biometric
policies without losing data.`,
	PersistentPreRunE: initializeStore,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return teardownStore()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.syncedstore.yaml)")
	rootCmd.PersistentFlags().StringP("namespace", "n", "", "namespace prefixing all persisted data")
	rootCmd.PersistentFlags().String("cipher-suite", "", "cipher suite for the persisted blob (aes-256-cbc, xchacha20-poly1305)")
	rootCmd.PersistentFlags().Bool("memory-lock", false, "lock process memory to keep key material off swap")

	bindFlagOrPanic("store.namespace", "namespace")
	bindFlagOrPanic("store.cipher_suite", "cipher-suite")
	bindFlagOrPanic("store.memory_lock", "memory-lock")

	// Blob store flags
	rootCmd.PersistentFlags().String("store-type", "", "persistence backend (file, bbolt, s3)")
	rootCmd.PersistentFlags().StringP("path", "p", "", "path for the file or bbolt backend")

	bindFlagOrPanic("store.type", "store-type")
	bindFlagOrPanic("store.path", "path")

	// Key store flags
	rootCmd.PersistentFlags().String("keystore", "", "key store backend (keyring, file)")
	rootCmd.PersistentFlags().String("keystore-dir", "", "directory for the file key store")
	rootCmd.PersistentFlags().String("passphrase", "", "passphrase for the file key store (or SYNCEDSTORE_PASSPHRASE)")

	bindFlagOrPanic("keystore.type", "keystore")
	bindFlagOrPanic("keystore.dir", "keystore-dir")
	bindFlagOrPanic("keystore.passphrase", "passphrase")

	// Audit flags
	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-type", "", "audit logger type (file, syslog)")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file path")

	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.type", "audit-type")
	bindFlagOrPanic("audit.options.file_path", "audit-file")

	// S3 flags (for direct CLI usage)
	rootCmd.PersistentFlags().String("s3-endpoint", "", "S3 endpoint URL")
	rootCmd.PersistentFlags().String("s3-region", "", "S3 region")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket name")
	rootCmd.PersistentFlags().String("s3-prefix", "", "S3 key prefix")
	rootCmd.PersistentFlags().String("s3-access-key", "", "S3 access key ID")
	rootCmd.PersistentFlags().String("s3-secret-key", "", "S3 secret access key")
	rootCmd.PersistentFlags().Bool("s3-use-ssl", true, "Use SSL for S3 connections")

	bindFlagOrPanic("store.s3.endpoint", "s3-endpoint")
	bindFlagOrPanic("store.s3.region", "s3-region")
	bindFlagOrPanic("store.s3.bucket", "s3-bucket")
	bindFlagOrPanic("store.s3.prefix", "s3-prefix")
	bindFlagOrPanic("store.s3.access_key_id", "s3-access-key")
	bindFlagOrPanic("store.s3.secret_access_key", "s3-secret-key")
	bindFlagOrPanic("store.s3.use_ssl", "s3-use-ssl")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")

		viper.SetConfigType("yaml")
		viper.SetConfigName(".syncedstore")
	}

	viper.SetEnvPrefix("SYNCEDSTORE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
		// Config file not found is OK - defaults and env vars apply
	}
}

func setDefaults() {
	viper.SetDefault("store.namespace", "default")
	viper.SetDefault("store.type", "file")
	viper.SetDefault("store.path", ".syncedstore")

	viper.SetDefault("keystore.type", "keyring")
	viper.SetDefault("keystore.dir", ".syncedstore/keys")

	viper.SetDefault("store.s3.region", "us-east-1")
	viper.SetDefault("store.s3.prefix", "syncedstore/")
	viper.SetDefault("store.s3.use_ssl", true)

	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.type", "file")
	viper.SetDefault("audit.options.file_path", "audit.log")
	viper.SetDefault("audit.log_level", "info")
}

func initializeStore(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" || cmd.Name() == "config" || cmd.Parent() != nil && cmd.Parent().Name() == "config" {
		return nil
	}

	namespace := viper.GetString("store.namespace")

	// Keep the audit log next to the file backend unless placed explicitly.
	if viper.GetString("audit.options.file_path") == "audit.log" && viper.GetString("store.type") == "file" {
		viper.Set("audit.options.file_path", filepath.Join(viper.GetString("store.path"), "audit.log"))
	}

	cliContext = &CLIContext{
		UserID:    getCurrentUser(),
		SessionID: uuid.NewString(),
		Source:    getHostname(),
		StartTime: time.Now(),
	}

	var err error
	auditLogger, err = createAuditLogger()
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}

	blobStore, err = createBlobStore(viper.GetString("store.type"))
	if err != nil {
		return fmt.Errorf("failed to create blob store: %w", err)
	}

	keyStore, err = createKeyStore(viper.GetString("keystore.type"))
	if err != nil {
		return fmt.Errorf("failed to create key store: %w", err)
	}

	store, err = syncedstore.New(syncedstore.Options{
		Namespace:        namespace,
		CipherSuite:      viper.GetString("store.cipher_suite"),
		EnableMemoryLock: viper.GetBool("store.memory_lock"),
	}, keyStore, blobStore, auditLogger)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	auditLogger.Log("cli_session", true, map[string]interface{}{
		"user":    cliContext.UserID,
		"session": cliContext.SessionID,
		"source":  cliContext.Source,
		"command": cmd.Name(),
	})

	if err := store.Initialize(cmd.Context()); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	return nil
}

func teardownStore() error {
	if store == nil {
		return nil
	}

	// Make queued writes durable before the process exits.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to flush pending writes: %v\n", err)
	}

	err := store.Close()
	if keyStore != nil {
		keyStore.Close()
	}
	if blobStore != nil {
		blobStore.Close()
	}
	return err
}

func createAuditLogger() (audit.Logger, error) {
	return audit.NewLogger(&audit.Config{
		Enabled:   viper.GetBool("audit.enabled"),
		Namespace: viper.GetString("store.namespace"),
		Type:      audit.ConfigType(viper.GetString("audit.type")),
		Options: map[string]interface{}{
			"file_path": viper.GetString("audit.options.file_path"),
		},
		LogLevel: viper.GetString("audit.log_level"),
	})
}

func createBlobStore(storeType string) (persist.BlobStore, error) {
	switch strings.ToLower(storeType) {
	case "file":
		return persist.NewStore(persist.StoreConfig{
			Type: persist.StoreTypeFileSystem,
			Config: map[string]interface{}{
				"base_path": viper.GetString("store.path"),
			},
		})

	case "bbolt":
		return persist.NewStore(persist.StoreConfig{
			Type: persist.StoreTypeBolt,
			Config: map[string]interface{}{
				"path": viper.GetString("store.path"),
			},
		})

	case "s3":
		s3Config := persist.S3Config{
			Endpoint:        viper.GetString("store.s3.endpoint"),
			AccessKeyID:     viper.GetString("store.s3.access_key_id"),
			SecretAccessKey: viper.GetString("store.s3.secret_access_key"),
			Bucket:          viper.GetString("store.s3.bucket"),
			KeyPrefix:       viper.GetString("store.s3.prefix"),
			UseSSL:          viper.GetBool("store.s3.use_ssl"),
			Region:          viper.GetString("store.s3.region"),
		}
		if err := validateS3Config(s3Config); err != nil {
			return nil, fmt.Errorf("invalid S3 configuration: %w", err)
		}
		return persist.NewS3Store(s3Config)

	default:
		return nil, fmt.Errorf("unsupported store type: %s. Supported types: file, bbolt, s3", storeType)
	}
}

func createKeyStore(keystoreType string) (keystore.SecureKeyStore, error) {
	switch strings.ToLower(keystoreType) {
	case "keyring":
		return keystore.NewKeyringStore("syncedstore")

	case "file":
		passphrase := viper.GetString("keystore.passphrase")
		if passphrase == "" {
			return nil, fmt.Errorf("the file key store requires a passphrase. Use --passphrase or SYNCEDSTORE_PASSPHRASE")
		}
		return keystore.NewFileStore(keystore.FileStoreOptions{
			Dir:    viper.GetString("keystore.dir"),
			Prompt: keystore.StaticPrompt(passphrase),
		})

	default:
		return nil, fmt.Errorf("unsupported key store type: %s. Supported types: keyring, file", keystoreType)
	}
}

func validateS3Config(config persist.S3Config) error {
	var missing []string

	if config.Bucket == "" {
		missing = append(missing, "store.s3.bucket")
	}
	if config.Region == "" {
		missing = append(missing, "store.s3.region")
	}

	hasAccessKey := config.AccessKeyID != ""
	hasSecretKey := config.SecretAccessKey != ""

	if hasAccessKey && !hasSecretKey {
		missing = append(missing, "store.s3.secret_access_key")
	}
	if !hasAccessKey && hasSecretKey {
		missing = append(missing, "store.s3.access_key_id")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	return nil
}

// getCurrentUser retrieves the username of the currently logged-in user.
// It returns "unknown_user" if the user cannot be determined.
func getCurrentUser() string {
	currentUser, err := user.Current()
	if err != nil {
		if envUser := os.Getenv("USER"); envUser != "" {
			return envUser
		}
		return "unknown_user"
	}
	return currentUser.Username
}

// getHostname retrieves the hostname of the machine.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown_host"
	}
	return hostname
}
