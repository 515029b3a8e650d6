package cli

import (
	"github.com/spf13/cobra"

	"github.com/andreyvit/walletstore"
)

type dumpOptions struct {
	stats   bool
	records bool
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &dumpOptions{}
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print every entity of a store for debugging",
		Long: `Open the store (migrating it if needed) and print the version marker,
entity headers and, by default, every record as JSON.`,
		Args: cobra.NoArgs,

		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(rootOpts, opts, cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.stats, "stats", false, "include per-entity size statistics")
	cmd.Flags().BoolVar(&opts.records, "records", true, "include records")
	return cmd
}

func (opts *dumpOptions) flags() walletstore.DumpFlags {
	f := walletstore.DumpMarker | walletstore.DumpEntityHeaders
	if opts.records {
		f |= walletstore.DumpRecords
	}
	if opts.stats {
		f |= walletstore.DumpStats
	}
	return f
}

func runDump(rootOpts *RootOptions, opts *dumpOptions, cmd *cobra.Command) error {
	f := rootOpts.formatter(cmd)
	s, err := openStore(rootOpts, cmd)
	if err != nil {
		return f.Error(errorCode(err), err)
	}
	defer s.Close()

	var text string
	err = s.View(func(tx *walletstore.Tx) error {
		text = tx.Dump(opts.flags())
		return nil
	})
	if err != nil {
		return f.Error(errorCode(err), err)
	}
	return f.Success(map[string]string{"dump": text}, text)
}
