package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/andreyvit/walletstore"
	"github.com/andreyvit/walletstore/schemas"
)

// Error codes reported in CLIError.Code.
const (
	ErrCodeGeneric         = "E001"
	ErrCodeUsage           = "E002"
	ErrCodeCorrupt         = "E010"
	ErrCodeMigrationFailed = "E011"
	ErrCodeBusy            = "E012"
	ErrCodeMalformed       = "E020"
)

func errorCode(err error) string {
	var exitErr *ExitError
	switch {
	case errors.As(err, &exitErr) && exitErr.Code == ExitCommandError:
		return ErrCodeUsage
	case errors.Is(err, walletstore.ErrCorruptStore):
		return ErrCodeCorrupt
	case errors.Is(err, walletstore.ErrMigrationStepFailed):
		return ErrCodeMigrationFailed
	case errors.Is(err, walletstore.ErrAlreadyOpening):
		return ErrCodeBusy
	default:
		return ErrCodeGeneric
	}
}

// openStore opens the store at opts.DB with the wallet schema chain,
// migrating it to the latest version.
func openStore(opts *RootOptions, cmd *cobra.Command) (*walletstore.Store, error) {
	if err := opts.requireDB(); err != nil {
		return nil, err
	}
	return schemas.Open(opts.DB, walletstore.Options{
		Logger:  opts.logger(cmd),
		Verbose: opts.Verbose,
	})
}
