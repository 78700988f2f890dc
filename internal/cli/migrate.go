package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DoyleJ11/lordfarm/internal/store/migrate"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			dir, err := migrate.ParseDirection(args[0])
			if err != nil {
				return err
			}
			res, err := migrate.Run(cfg.DatabaseURL, dir, log)
			if err != nil {
				return err
			}
			if !res.Changed() {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: already at version %d\n", dir, res.To)
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: version %d -> %d\n", dir, res.From, res.To)
			return err
		},
	}
}
