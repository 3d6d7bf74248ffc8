package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sweeney/telemetry-bridge/internal/config"
	"github.com/sweeney/telemetry-bridge/internal/device"
	"github.com/sweeney/telemetry-bridge/internal/logging"
	"github.com/sweeney/telemetry-bridge/internal/mqtt"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Emulate the sensor board",
	Long: `Publishes a wandering temperature on the temperature topic and answers
every LED command with the resulting LED state, the way the physical board
does. Useful for running the bridge without hardware.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	f := simulateCmd.Flags()
	f.Duration("interval", 0, "time between readings (default 5s)")
	f.Float64("start", 0, "first temperature (default 25)")
	f.Uint64("seed", 0, "random seed; 0 picks one")

	mustBind("device.interval", f.Lookup("interval"))
	mustBind("device.start", f.Lookup("start"))
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	seed, err := cmd.Flags().GetUint64("seed")
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "telemetry-device")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := mqtt.NewClient(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		ClientID:   cfg.MQTT.ClientID + "-device",
		Username:   cfg.MQTT.Username,
		Password:   cfg.MQTT.Password,
		BufferSize: cfg.MQTT.BufferSize,
		Logger:     logger.Named("mqtt"),
	})
	sim := device.New(client, device.Options{
		TemperatureTopic: cfg.Topics.Temperature,
		LedTopic:         cfg.Topics.Led,
		CommandTopic:     cfg.Topics.Command,
		Interval:         cfg.Device.Interval,
		Start:            cfg.Device.Start,
		Step:             cfg.Device.Step,
		Seed:             seed,
		Logger:           logger.Named("device"),
	})

	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect mqtt: %w", err)
	}
	defer client.Close()

	logger.Info("simulating device", zap.String("broker", cfg.MQTT.Broker))
	return sim.Run(ctx)
}
