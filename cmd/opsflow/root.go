package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	r := &runner{v: viper.New()}

	root := &cobra.Command{
		Use:   "opsflow",
		Short: "Operate org workflows and their runs",
		Long: `opsflow seeds workflow templates from packs, lets operators edit the
organization's copies, and drives runs through their steps.

Configuration is read from opsflow.yaml (working directory or
$HOME/.opsflow) and OPSFLOW_* environment variables, for example
OPSFLOW_STORE_DRIVER=postgres OPSFLOW_STORE_DSN=postgres://...`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&r.configFile, "config", "", "config file (default: ./opsflow.yaml or $HOME/.opsflow/opsflow.yaml)")
	flags.String("org", "", "organization id")
	flags.String("actor", "", "acting user id")
	flags.String("store", "", "store driver: memory, sqlite, mysql or postgres")
	flags.String("dsn", "", "store data source (sqlite file path or server DSN)")
	_ = r.v.BindPFlag("org", flags.Lookup("org"))
	_ = r.v.BindPFlag("actor", flags.Lookup("actor"))
	_ = r.v.BindPFlag("store.driver", flags.Lookup("store"))
	_ = r.v.BindPFlag("store.dsn", flags.Lookup("dsn"))

	root.AddCommand(
		newPacksCmd(r),
		newWorkflowsCmd(r),
		newRunsCmd(r),
		newStepsCmd(r),
		newOutboxCmd(r),
		newSweepCmd(r),
		newMetricsCmd(r),
	)
	return root
}
