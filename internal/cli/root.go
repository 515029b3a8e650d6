// Package cli implements the walletstore operator commands.
package cli

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables that override flags, e.g.
// WALLETSTORE_DB.
const EnvPrefix = "WALLETSTORE"

// RootOptions holds global flags for all commands, after flag, environment
// and config file values have been merged.
type RootOptions struct {
	DB      string
	Config  string
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the walletstore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "walletstore",
		Short: "Inspect and migrate wallet stores",
		Long:  "Operator tool for versioned wallet stores: status, migration, dumps, schema and ledger transaction decoding.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(v)
		},
	}

	cmd.PersistentFlags().String("db", "", "path to the store file")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	cmd.PersistentFlags().String("format", "text", "output format (json|text)")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, name := range []string{"db", "verbose", "format"} {
		if err := v.BindPFlag(name, cmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewTxCommand(opts))

	return cmd
}

func (opts *RootOptions) load(v *viper.Viper) error {
	if opts.Config != "" {
		v.SetConfigFile(opts.Config)
		if err := v.ReadInConfig(); err != nil {
			return WrapExitError(ExitCommandError, "reading config", err)
		}
	}
	opts.DB = v.GetString("db")
	opts.Verbose = v.GetBool("verbose")
	opts.Format = v.GetString("format")

	if !slices.Contains(ValidFormats, opts.Format) {
		return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
	}
	return nil
}

func (opts *RootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func (opts *RootOptions) requireDB() error {
	if opts.DB == "" {
		return NewExitError(ExitCommandError, "no store given: pass --db or set "+EnvPrefix+"_DB")
	}
	return nil
}

func (opts *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
