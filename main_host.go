//go:build !tinygo

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"bedrock/app"
	"bedrock/hal"
	"bedrock/internal/buildinfo"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "bedrock",
		Short: "Run cooperative threads over a simulated or real network",
		Long: `bedrock runs a scenario of cooperative threads on a single-core scheduler.

Each --thread is one scenario line:
  echo PORT [CONNS]
  ping ADDR MSG [COUNT]
  watchdog YIELDS`,
		Version:      buildinfo.Long(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			hostCfg, appCfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			err = hal.RunHost(ctx, hostCfg, func(ctx context.Context, h hal.HAL) error {
				h.Logger().WriteLineString(fmt.Sprintf("bedrock %s run %s: %d threads", buildinfo.Short(), uuid.NewString(), len(appCfg.Threads)))
				return app.Run(ctx, h, appCfg)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	addFlags(cmd)
	return cmd
}
