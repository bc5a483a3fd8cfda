// Package main provides the entry point for the porua CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/porua/porua/internal/backend"
	"github.com/porua/porua/internal/cache"
	"github.com/porua/porua/internal/settings"
	"github.com/porua/porua/internal/synth"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	debug      bool

	// cfg is resolved before any subcommand runs.
	cfg *settings.Settings

	rootCmd = &cobra.Command{
		Use:   "porua",
		Short: "Speak text through a streaming TTS server, with a local audio cache",
		Long: paragraph(
			fmt.Sprintf("\nSynthesize speech from a %s server. Audio arrives in chunks and is stitched into one gapless WAV with a phrase timeline; results are cached locally.", keyword("porua")),
		),
		SilenceErrors:     false,
		SilenceUsage:      true,
		TraverseChildren:  true,
		PersistentPreRunE: loadSettings,
	}
)

func loadSettings(cmd *cobra.Command, _ []string) error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	if err := settings.LoadDotEnv(".env"); err != nil {
		return err
	}

	s, err := settings.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if debug {
		s.LogLevel = log.DebugLevel
	}
	if off, _ := cmd.Flags().GetBool("no-cache"); off {
		s.Cache.Enabled = false
	}
	log.SetLevel(s.LogLevel)

	cfg = s
	return nil
}

// openCache opens the configured cache. Without a database the CLI keeps it
// on disk so results survive between runs.
func openCache() (*cache.AudioCache, error) {
	if cfg.Cache.Enabled && cfg.Cache.Dir == "" && cfg.Cache.DatabaseURL == "" {
		dir, err := settings.DefaultCacheDir()
		if err != nil {
			return nil, err
		}
		cfg.Cache.Dir = dir
	}
	return cfg.OpenCache(log.Default())
}

// newOrchestrator wires the backend client, the cache and the observer.
func newOrchestrator(observer synth.Observer) (*synth.Orchestrator, error) {
	client, err := backend.NewClient(cfg.BackendConfig())
	if err != nil {
		return nil, err
	}

	c, err := openCache()
	if err != nil {
		return nil, err
	}

	opts := synth.DefaultOptions()
	opts.Voice = cfg.Voice
	opts.Speed = cfg.Speed
	opts.Coalesce = cfg.Coalesce
	opts.Observer = observer
	opts.Logger = log.Default()

	return synth.New(client, nil, c, opts), nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log debug output")
	rootCmd.PersistentFlags().String("server", "", "synthesis server URL")
	rootCmd.PersistentFlags().Bool("no-cache", false, "bypass the audio cache")

	// Config bindings
	_ = viper.BindPFlag(settings.KeyServerURL, rootCmd.PersistentFlags().Lookup("server"))

	settings.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(speakCmd, voicesCmd, cacheCmd, serveCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, settings.AppName)
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, settings.AppName)}, dirs...)
	}

	if c := os.Getenv("PORUA_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName(settings.AppName)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix(settings.AppName)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], settings.AppName+".yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
