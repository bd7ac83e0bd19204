package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/asalih/cfbstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	sectorRecycleKey = "sector_recycle"
	validationKey    = "validation"
	versionKey       = "version"
	cacheSizeKey     = "cache_size"
	debugKey         = "debug"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cfbstore",
	Short: "Inspect and edit compound files",
	Long: `cfbstore reads and writes Compound File Binary (OLE2) containers:
list storages and streams, read and replace stream content, and shrink files
after entries were removed.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

func init() {
	rootCmd.SetOut(os.Stdout)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (yaml, json or toml)")
	flags.Bool(sectorRecycleKey, false, "reuse freed sectors before growing the file")
	flags.String(validationKey, cfbstore.ValidationPermissive.String(), "validation level on load: permissive or strict")
	flags.Int(versionKey, int(cfbstore.V3), "format version of created files: 3 or 4")
	flags.Int(cacheSizeKey, 256, "number of clean sectors cached in memory")
	flags.BoolP(debugKey, "d", false, "debug logging")

	for _, key := range []string{sectorRecycleKey, validationKey, versionKey, cacheSizeKey, debugKey} {
		if err := viper.BindPFlag(key, flags.Lookup(key)); err != nil {
			panic(fmt.Errorf("bind flag %s: %w", key, err))
		}
	}

	rootCmd.AddCommand(
		createCmd,
		lsCmd,
		streamsCmd,
		catCmd,
		putCmd,
		mkdirCmd,
		rmCmd,
		mvCmd,
		emptyCmd,
		shrinkCmd,
		infoCmd,
	)
}

func initConfig(_ *cobra.Command, _ []string) error {
	viper.SetEnvPrefix("cfbstore")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}
	return nil
}

func newLogger() (*zap.Logger, error) {
	level := zapcore.WarnLevel
	if viper.GetBool(debugKey) {
		level = zapcore.DebugLevel
	}

	c := zap.NewDevelopmentConfig()
	c.Level = zap.NewAtomicLevelAt(level)
	c.OutputPaths = []string{"stderr"}
	return c.Build()
}

// loadConfig builds the library configuration from flags, environment and
// the config file.
func loadConfig() (cfbstore.Config, error) {
	cfg := cfbstore.DefaultConfig()
	cfg.SectorRecycle = viper.GetBool(sectorRecycleKey)
	cfg.CacheSize = viper.GetInt(cacheSizeKey)

	validation, ok := cfbstore.ParseValidation(viper.GetString(validationKey))
	if !ok {
		return cfg, fmt.Errorf("invalid %s %q", validationKey, viper.GetString(validationKey))
	}
	cfg.Validation = validation

	switch v := viper.GetInt(versionKey); v {
	case 3:
		cfg.Version = cfbstore.V3
	case 4:
		cfg.Version = cfbstore.V4
	default:
		return cfg, fmt.Errorf("invalid %s %d", versionKey, v)
	}

	log, err := newLogger()
	if err != nil {
		return cfg, err
	}
	cfg.Logger = log
	return cfg, nil
}

func openFile(path string, mode cfbstore.UpdateMode) (*cfbstore.CompoundFile, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return cfbstore.Open(path, mode, cfg)
}

// withFile opens path, runs fn and closes the file. In update mode the
// changes are committed when fn succeeds.
func withFile(path string, mode cfbstore.UpdateMode, fn func(*cfbstore.CompoundFile) error) error {
	comp, err := openFile(path, mode)
	if err != nil {
		return err
	}

	err = fn(comp)
	if err == nil && mode == cfbstore.Update {
		err = comp.Commit(true)
	}

	closeErr := comp.Close()
	if err != nil {
		return err
	}
	return closeErr
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln(err)
		os.Exit(1)
	}
}
