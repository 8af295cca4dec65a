package main

import (
	"fmt"

	"github.com/daaku/go.amdefine"
	"github.com/daaku/go.amdefine/host"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newDepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deps <file>...",
		Short: "List the dependencies each file requires or declares, with alias rewrites",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			aliases := amdefine.NewAliasTable(c.Options().Paths)
			fs := afero.NewOsFs()
			out := cmd.OutOrStdout()
			for _, file := range args {
				deps, err := host.NewFileSource(file, fs, file).Require()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s:\n", file)
				for _, dep := range deps {
					if p := aliases.CheckPath(dep); p != dep {
						fmt.Fprintf(out, "  %s -> %s\n", dep, p)
					} else {
						fmt.Fprintf(out, "  %s\n", dep)
					}
				}
			}
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			buf, err := c.TOML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(buf)
			return err
		},
	}
}
