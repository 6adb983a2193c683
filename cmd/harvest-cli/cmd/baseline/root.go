package baseline

import (
	"coursesync-backend/cmd/harvest-cli/globals"
	"coursesync-backend/cmd/harvest-cli/utils"
	"coursesync-backend/lib/baseline"
	"coursesync-backend/services/harvest"

	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "baseline",
	Short: "The 'baseline' subcommand inspects the recorded baselines of each partition.",
}

func openTracker(cmd *cobra.Command) (*baseline.Tracker, baseline.Repository, func()) {
	ctx := globals.Get(cmd.Context())
	repo, db, err := harvest.OpenBaselines(ctx.Config.BaselineStore)
	if err != nil {
		utils.Fatal(err)
	}
	cleanup := func() {}
	if db != nil {
		cleanup = func() { db.Close() }
	}
	return baseline.NewTracker(repo, baseline.NewDetector(ctx.Config.Baseline), nil), repo, cleanup
}
