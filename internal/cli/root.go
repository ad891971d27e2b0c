package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/kbpublish/internal/logging"
	"github.com/ppiankov/kbpublish/internal/model"
)

// Version is overridden at link time
var Version = "v0.1.0"

var (
	cfgFile string
	envFile string
	verbose bool
)

// envKeys are bound explicitly so they resolve from the environment even
// when no config file mentions them
var envKeys = []string{
	"kb.username",
	"kb.password",
	"geocoding.api_key",
	"geocoding.enabled",
	"kb.target",
	"kb.allow_production",
	"kb.dry_run",
	"resolver.cache_path",
	"log.level",
	"log.format",
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "kbpublish",
	Short: "kbpublish - publish business records to a structured knowledge base",
	Long: `kbpublish turns business records into structured knowledge-base entities
and publishes them through the MediaWiki/Wikibase write API.

Every record passes a notability gate built on independent, serious
references before anything is written. Publishing targets the sandbox
unless production is explicitly allowed.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kbpublish %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.kbpublish/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	// A missing .env is normal; only a malformed one is worth mentioning
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) && verbose {
		fmt.Fprintf(os.Stderr, "Ignoring env file %s: %v\n", envFile, err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(filepath.Join(home, ".kbpublish"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// KBPUBLISH_KB_PASSWORD maps to kb.password
	viper.SetEnvPrefix("KBPUBLISH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig overlays the config file and environment onto the defaults
func loadConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	if viper.GetBool("verbose") {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// newLogger builds the process logger from cfg
func newLogger(cfg *model.Config) *logrus.Logger {
	return logging.New(cfg.Log)
}
