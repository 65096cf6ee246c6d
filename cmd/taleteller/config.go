package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Config renders the fully merged configuration (defaults, profile,
custom file, flags, environment) as YAML, followed by a masked snapshot of
the API key environment variables the configured providers need.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dump, err := cfg.Dump()
		if err != nil {
			return err
		}
		fmt.Print(dump)

		snapshot := cfg.MaskedEnvSnapshot()
		if len(snapshot) == 0 {
			return nil
		}
		keys := make([]string, 0, len(snapshot))
		for k := range snapshot {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println("\n# environment")
		for _, k := range keys {
			fmt.Printf("# %s = %s\n", k, snapshot[k])
		}
		return nil
	},
}
