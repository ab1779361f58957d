package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/humus/pkg/adapters/fs"
	"github.com/aretw0/humus/pkg/engine"
)

var statsCmd = &cobra.Command{
	Use:   "stats FILE",
	Short: "Print sync state and counters of a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := load(args[0])
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), struct {
			SavedAt time.Time          `json:"saved_at"`
			Format  int                `json:"format"`
			Engine  engine.EngineState `json:"engine"`
			Store   fs.StoreState      `json:"store"`
		}{
			SavedAt: r.snap.SavedAt,
			Format:  r.snap.Format,
			Engine:  r.engine.State().(engine.EngineState),
			Store:   r.store.State().(fs.StoreState),
		})
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
