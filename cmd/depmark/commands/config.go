package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/depmark/depmark/pkg/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigCheckCommand())

	return cmd
}

// configSources resolves sources the same way every other command
// does: the --config flag when given, the default locations otherwise.
func configSources() ([]string, error) {
	if configPath != "" {
		return config.FindSources(configPath)
	}
	return config.DefaultSources(), nil
}

func newConfigShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON",
		Long: `Print the effective configuration as JSON, after all CUE sources
have been merged, defaults applied and constraints checked.`,
		Example: `  # What the engine will actually use
  depmark config show

  # Preview a candidate config
  depmark config show -c ./staging.cue`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := configSources()
			if err != nil {
				return err
			}

			loader := config.NewLoader()
			cfg, err := loader.Load(cmd.Context(), sources...)
			if err != nil {
				return err
			}
			data, err := loader.ExportJSON(cfg)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}

	return cmd
}

func newConfigCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration sources",
		Long: `Validate the configuration sources.

The sources are loaded exactly as a real command would load them; CUE
syntax errors, schema violations and failed constraints are reported
with file positions. Exit status is zero only for a usable
configuration.`,
		Example: `  # Check the system configuration
  depmark config check

  # Check a candidate before installing it
  depmark config check -c ./staging.cue`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := configSources()
			if err != nil {
				return err
			}

			if _, err := config.NewLoader().Load(cmd.Context(), sources...); err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(struct {
					Sources []string `json:"sources"`
					Valid   bool     `json:"valid"`
				}{sources, true})
			}
			if len(sources) == 0 {
				fmt.Println("no configuration sources found, built-in defaults apply")
			}
			for _, src := range sources {
				fmt.Printf("checked %s\n", src)
			}
			fmt.Println("configuration OK")
			return nil
		},
	}

	return cmd
}
