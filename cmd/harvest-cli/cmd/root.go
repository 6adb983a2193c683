package cmd

import (
	"fmt"
	"os"

	"coursesync-backend/cmd/harvest-cli/cmd/baseline"
	"coursesync-backend/cmd/harvest-cli/globals"
	"coursesync-backend/lib/telemetry"
	"coursesync-backend/lib/util/serviceutil"
	"coursesync-backend/services/harvest"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	dumpHttp   string
)

var rootCmd = &cobra.Command{
	Use:   "harvest-cli",
	Short: "harvest-cli runs, delivers and inspects course record harvests by hand.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(verbose)

		config, err := harvest.ReadConfig(configPath)
		if err != nil {
			return fmt.Errorf("read config %s: %w", configPath, err)
		}
		cmd.SetContext(globals.Set(cmd.Context(), &globals.Value{
			Config:   config,
			DumpHttp: dumpHttp,
		}))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "harvest.json5", "Path to the harvest config.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging.")
	rootCmd.PersistentFlags().StringVar(&dumpHttp, "dump-http", "", "Write every delivery request and response into this directory.")

	rootCmd.AddCommand(baseline.RootCmd)
}

func Execute() {
	ctx := serviceutil.SignalContext()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
