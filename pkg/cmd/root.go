package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nekruzvatanshoev/carprice/pkg/carprice/config"
)

var configFile string

var RootCmd = &cobra.Command{
	Use:           RootCmdName,
	Short:         RootCmdShort,
	Long:          RootCmdLong,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./config.yaml or /etc/carprice/config.yaml)")
	RootCmd.PersistentFlags().String("model", "", "path to the model artifact")
	RootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(PredictCmd)
}

// loadSettings reads configuration with the flags of cmd taking precedence.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	v := config.New()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	return config.Load(v, configFile)
}

func newLogger(settings config.LogSettings) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if settings.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(settings.Level)
	if err != nil {
		return nil, err
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
