// cmd/forest-monitor/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/2223010198-web/MonicGpio/internal/auth"
	"github.com/2223010198-web/MonicGpio/internal/config"
	"github.com/2223010198-web/MonicGpio/internal/ingest"
	"github.com/2223010198-web/MonicGpio/internal/telemetry"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:          "forest-monitor",
	Short:        "Forest sensor node telemetry, risk scoring and gunshot alerts",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MQTT gateway, monitor and dashboard API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(configDir)
	},
}

var audioCmd = &cobra.Command{
	Use:       "audio on|off",
	Short:     "Enable or disable the node's gunshot detector",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configDir)
		if err != nil {
			return err
		}
		gateway := ingest.NewGateway(mqttConfig(cfg), telemetry.NewStore(telemetry.DefaultOptions()), nil)

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.MQTT.ConnectTimeout+5*time.Second)
		defer cancel()
		if err := gateway.Connect(ctx); err != nil {
			return err
		}
		defer gateway.Close()
		return gateway.PublishAudioCommand(ctx, strings.EqualFold(args[0], "on"))
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password PASSWORD",
	Short: "Print a bcrypt hash for auth.users[].password_hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashPassword(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", ".", "Path to the configuration file directory")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(audioCmd)
	rootCmd.AddCommand(hashPasswordCmd)
}

func mqttConfig(cfg *config.Config) ingest.Config {
	return ingest.Config{
		Broker:         cfg.MQTT.Broker,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		ClientIDPrefix: cfg.MQTT.ClientIDPrefix,
		KeepAlive:      cfg.MQTT.KeepAlive,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		RetryInterval:  cfg.MQTT.RetryInterval,
		Topics:         cfg.Topics,
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
