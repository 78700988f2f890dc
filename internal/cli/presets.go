package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DoyleJ11/lordfarm/internal/config"
	"github.com/DoyleJ11/lordfarm/internal/engine"
)

func newPresetsCmd() *cobra.Command {
	var catalogPath string

	cmd := &cobra.Command{
		Use:   "presets",
		Short: "Print formation presets and the character roster",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := config.LoadCatalog(catalogPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "presets:")
			for _, name := range cat.PresetNames() {
				fmt.Fprintf(out, "  %-8s %s\n", name, cat.Presets[name])
			}
			fmt.Fprintln(out, "characters:")
			for _, role := range []engine.Role{engine.RoleTank, engine.RoleDPS, engine.RoleSupport} {
				names := make([]string, 0, len(cat.Characters[role]))
				for _, c := range cat.Characters[role] {
					names = append(names, string(c))
				}
				_, err = fmt.Fprintf(out, "  %-8s %s\n", role, strings.Join(names, ", "))
			}
			return err
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", envOr("LORDFARM_CATALOG", ""), "catalog file overriding the built-in presets")
	return cmd
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
