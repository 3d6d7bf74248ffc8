package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sweeney/telemetry-bridge/internal/config"
	"github.com/sweeney/telemetry-bridge/internal/logic"
	"github.com/sweeney/telemetry-bridge/internal/statecache"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the control state the bridge would start with and exit",
	RunE:  runState,
}

func init() {
	rootCmd.AddCommand(stateCmd)
}

func runState(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := zap.NewNop()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	var cache *statecache.Cache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		cache = statecache.New(rdb, statecache.Options{Key: cfg.Redis.Key})
	}

	printState(cmd.OutOrStdout(), restoreState(ctx, cache, st, cfg.Control.DefaultThreshold, logger))
	return nil
}

func printState(w io.Writer, s logic.State) {
	temp := "none"
	if s.Temperature != nil {
		temp = strconv.FormatFloat(*s.Temperature, 'f', -1, 64)
	}
	led := "OFF"
	if s.Led == logic.LedOn {
		led = "ON"
	}
	fmt.Fprintf(w, "threshold: %s, led: %s, temperature: %s\n",
		strconv.FormatFloat(s.Threshold, 'f', -1, 64), led, temp)
}
