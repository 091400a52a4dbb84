package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/humangenomedb/hgd/internal/kegg"
	"github.com/humangenomedb/hgd/internal/ncbi"
	"github.com/humangenomedb/hgd/internal/pipeline"
	"github.com/humangenomedb/hgd/pkg/config"
	"github.com/humangenomedb/hgd/pkg/hgderrors"
)

func newTablesCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List the tables each source can refresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registries := map[string]pipeline.Registry{
				kegg.SourceName: kegg.Registry(),
				ncbi.SourceName: ncbi.Registry(""),
			}
			order := []string{kegg.SourceName, ncbi.SourceName}
			if source != "" {
				if _, ok := registries[source]; !ok {
					return hgderrors.Newf(hgderrors.ErrorTypeConfig,
						"unsupported source %q, valid sources: %s, %s", source, kegg.SourceName, ncbi.SourceName)
				}
				order = []string{source}
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tTABLE\tORIGIN")
			for _, name := range order {
				reg := registries[name]
				for _, table := range reg.Names() {
					d := reg[table]
					origin := d.Locator
					if d.DB != "" {
						origin = "entrez:" + d.DB
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", name, table, origin)
				}
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "Only list tables of this source")
	return cmd
}

func newConfigCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Config resolves the active profile, the optional YAML overlay and HGD_*
environment overrides, validates the result and prints it. Secrets are
included.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.LoadOptions{Space: flags.space, File: flags.configFile})
			if err != nil {
				return err
			}
			if err := config.Write(cmd.OutOrStdout(), cfg); err != nil {
				return hgderrors.Wrap(err, hgderrors.ErrorTypeInternal, "failed to render configuration")
			}
			return nil
		},
	}
}
