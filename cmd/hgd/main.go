// Command hgd refreshes the Human Genome Database from KEGG and NCBI.
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/humangenomedb/hgd/pkg/hgderrors"
	"github.com/humangenomedb/hgd/pkg/logger"
)

var version = "0.1.0"

// Process exit codes.
const (
	exitOK            = 0
	exitInternal      = 1
	exitUsage         = 2
	exitTableNotFound = 3
	exitRemote        = 4
	exitLoad          = 5
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	space      string
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	err := execute(newRootCmd(), os.Args[1:])
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "hgd",
		Short: "Human Genome Database refresh pipeline",
		Long: `hgd extracts pathway, gene, disease, variant, module, SNP and ortholog
records from KEGG and NCBI, normalizes them into a relational schema and
loads them into a SQL database.

The configuration profile is chosen by HGD_CONFIG_SPACE (LOCAL, STAGING or
PRODUCTION) or --space.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return hgderrors.Wrap(err, hgderrors.ErrorTypeConfig, "invalid arguments")
	})

	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to a YAML configuration overlay")
	root.PersistentFlags().StringVar(&flags.space, "space", "", "Configuration profile (overrides HGD_CONFIG_SPACE)")

	root.AddCommand(
		newRefreshCmd(flags),
		newTablesCmd(),
		newConfigCmd(flags),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, _ []string) {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "hgd v%s\n", version)
				fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
				fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			},
		},
	)
	return root
}

// execute runs root with args. Subcommands return structured errors, so a
// plain error comes from cobra's own argument handling and is a usage error.
func execute(root *cobra.Command, args []string) error {
	root.SetArgs(args)
	err := root.Execute()
	var structured *hgderrors.Error
	if err != nil && !errors.As(err, &structured) {
		return hgderrors.Wrap(err, hgderrors.ErrorTypeConfig, "invalid usage")
	}
	return err
}

// exitCode maps an error to the process exit status by its type.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	switch hgderrors.TypeOf(err) {
	case hgderrors.ErrorTypeConfig, hgderrors.ErrorTypeFile:
		return exitUsage
	case hgderrors.ErrorTypeValidation:
		return exitTableNotFound
	case hgderrors.ErrorTypeRemote, hgderrors.ErrorTypeConnection, hgderrors.ErrorTypeTimeout,
		hgderrors.ErrorTypeRateLimit, hgderrors.ErrorTypeNotFound, hgderrors.ErrorTypeData:
		return exitRemote
	case hgderrors.ErrorTypeLoad:
		return exitLoad
	default:
		return exitInternal
	}
}
