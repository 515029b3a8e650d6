package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andreyvit/walletstore/schemas"
)

type MigrateResult struct {
	Path    string `json:"path"`
	From    uint64 `json:"from"`
	Version uint64 `json:"version"`
	Steps   int    `json:"steps"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring a store to the latest schema version",
		Long: `Open the store, creating it when missing, and apply every pending
schema version in order. Each step commits on its own, so an interrupted or
failed run resumes from the last completed version.`,
		Args: cobra.NoArgs,

		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if err := opts.requireDB(); err != nil {
		return f.Error(errorCode(err), err)
	}

	before, err := storeStatus(opts.DB, schemas.Registry())
	if err != nil {
		return f.Error(errorCode(err), err)
	}
	f.VerboseLog("store %s is at v%d, pending %v", opts.DB, before.Version, before.Pending)

	s, err := openStore(opts, cmd)
	if err != nil {
		return f.Error(errorCode(err), err)
	}
	defer s.Close()

	res := &MigrateResult{
		Path:    opts.DB,
		From:    before.Version,
		Version: s.State().Version,
	}
	fresh := !before.Exists || before.Version == 0
	if !fresh {
		res.Steps = len(before.Pending)
	}
	var text string
	switch {
	case fresh:
		text = fmt.Sprintf("created %s at v%d\n", opts.DB, res.Version)
	case res.Steps == 0:
		text = fmt.Sprintf("%s is up to date at v%d\n", opts.DB, res.Version)
	default:
		text = fmt.Sprintf("migrated %s from v%d to v%d in %d step(s)\n", opts.DB, res.From, res.Version, res.Steps)
	}
	return f.Success(res, text)
}
