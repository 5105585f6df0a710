package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/lanhive/lanhive/internal/config"
	"github.com/lanhive/lanhive/internal/supervisor"
	"github.com/lanhive/lanhive/internal/utils"
	"github.com/lanhive/lanhive/internal/version"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var home, _ = os.UserHomeDir()

var rootCmd = &cobra.Command{
	Use:     "lanhived",
	Short:   "lanhive directory synchronizer",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromViper()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		cmd.SilenceUsage = true
		showHeader()

		sup, err := supervisor.New(cfg)
		if err != nil {
			return fmt.Errorf("build supervisor: %w", err)
		}

		defer slog.Info("Bye!")
		return sup.Run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("dir", "d", "", "directory to monitor and synchronize (required)")
	rootCmd.Flags().IntP("broadcast-port", "b", config.DefaultBroadcastPort, "UDP port for presence beacons")
	rootCmd.Flags().IntP("listen-port", "l", config.DefaultListenPort, "TCP port for peer sessions")
	rootCmd.Flags().String("signature-dir", config.DefaultSignatureDir, "directory to persist rsync signatures")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "lanhive config file")
}

func main() {
	logFile := config.DefaultLogFilePath
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	logInterceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// Do not include time as it is added by the log interceptor.
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".lanhive"))
		viper.SetConfigName(config.DefaultConfigFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("monitored_dir", cmd.Flags().Lookup("dir"))
	viper.BindPFlag("broadcast_port", cmd.Flags().Lookup("broadcast-port"))
	viper.BindPFlag("listen_port", cmd.Flags().Lookup("listen-port"))
	viper.BindPFlag("signature_dir", cmd.Flags().Lookup("signature-dir"))

	viper.SetEnvPrefix("LANHIVE")
	viper.AutomaticEnv()

	return nil
}

func configFromViper() (*config.Config, error) {
	resolved, err := utils.ResolvePath(viper.GetString("monitored_dir"))
	if err != nil {
		return nil, fmt.Errorf("resolve monitored directory: %w", err)
	}

	cfg := config.Default()
	cfg.MonitoredDir = resolved
	if viper.IsSet("broadcast_port") {
		cfg.BroadcastPort = viper.GetInt("broadcast_port")
	}
	if viper.IsSet("listen_port") {
		cfg.ListenPort = viper.GetInt("listen_port")
	}
	if viper.IsSet("signature_dir") {
		cfg.SignatureDir = viper.GetString("signature_dir")
	}
	if viper.IsSet("beacon_interval_s") {
		cfg.BeaconInterval = time.Duration(viper.GetInt("beacon_interval_s")) * time.Second
	}
	if viper.IsSet("max_frame_bytes") {
		cfg.MaxFrameBytes = uint64(viper.GetInt64("max_frame_bytes"))
	}
	return cfg, nil
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Printf("lanhive %s\n", version.Short())
}
