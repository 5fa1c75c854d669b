// Command courierd runs the courier notification workflow engine and offers
// operator commands for migrations, workflow publishing and triggering.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type rootFlags struct {
	configPath string
	token      string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "courierd:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	v := viper.New()

	root := &cobra.Command{
		Use:           "courierd",
		Short:         "Notification workflow engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default ./courier.yaml)")
	pf.StringVar(&flags.token, "token", "", "API key used for admin commands")
	pf.String("store", "", "store driver: postgres or redis")
	pf.String("postgres-url", "", "postgres connection string")
	pf.String("redis-addr", "", "redis address")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	_ = v.BindPFlag("store.driver", pf.Lookup("store"))
	_ = v.BindPFlag("store.postgres_url", pf.Lookup("postgres-url"))
	_ = v.BindPFlag("store.redis_addr", pf.Lookup("redis-addr"))
	_ = v.BindPFlag("log_level", pf.Lookup("log-level"))

	// withApp loads config, wires the engine and closes it after fn.
	withApp := func(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
		cfg, err := LoadConfig(v, flags.configPath)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(ctx, a)
	}

	root.AddCommand(
		newServeCmd(withApp),
		newMigrateCmd(withApp),
		newValidateCmd(),
		newPublishCmd(withApp, flags),
		newActivateCmd(withApp, flags),
		newIngestCmd(withApp, flags),
		newCancelCmd(withApp, flags),
		newReplayCmd(withApp, flags),
		newDrainCmd(withApp),
		newStatsCmd(withApp, flags),
	)
	return root
}
