package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andreyvit/walletstore/ledger"
)

// NewTxCommand creates the tx command group.
func NewTxCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Work with ledger transactions",
	}
	cmd.AddCommand(NewTxDecodeCommand(rootOpts))
	cmd.AddCommand(NewTxFieldsCommand(rootOpts))
	return cmd
}

type txDecodeOptions struct {
	defaultType string
}

// TxDecodeResult is the JSON form of a decoded transaction.
type TxDecodeResult struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Finalized bool            `json:"finalized"`
	Missing   []string        `json:"missing,omitempty"`
	Wire      json.RawMessage `json:"wire"`
}

// NewTxDecodeCommand creates the tx decode command.
func NewTxDecodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &txDecodeOptions{}
	cmd := &cobra.Command{
		Use:   "decode [file]",
		Short: "Validate a wire JSON transaction and print its fields",
		Long: `Parse a transaction in wire JSON form, read from file or from stdin when
file is omitted or "-". Fields the transaction type does not declare are
dropped; the canonical wire form is printed back.`,
		Args: cobra.MaximumNArgs(1),

		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTxDecode(rootOpts, opts, cmd, args)
		},
	}
	cmd.Flags().StringVar(&opts.defaultType, "default-type", "", "transaction type to assume when TransactionType is absent")
	return cmd
}

func runTxDecode(rootOpts *RootOptions, opts *txDecodeOptions, cmd *cobra.Command, args []string) error {
	f := rootOpts.formatter(cmd)

	data, err := readInput(cmd, args)
	if err != nil {
		return f.Error(errorCode(err), err)
	}
	f.VerboseLog("read %d bytes", len(data))

	tx, err := ledger.Parse(data, ledger.ParseOptions{DefaultType: ledger.TransactionType(opts.defaultType)})
	if err != nil {
		return f.Error(ErrCodeMalformed, WrapExitError(ExitFailure, "decoding transaction", err))
	}
	wire, err := tx.ToWire()
	if err != nil {
		return f.Error(errorCode(err), err)
	}

	res := &TxDecodeResult{
		Type:      string(tx.Type()),
		ID:        tx.ID(),
		Finalized: tx.IsFinalized(),
		Missing:   tx.Missing(),
		Wire:      wire,
	}
	return f.Success(res, describeTx(tx))
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "reading input", err)
	}
	return data, nil
}

func describeTx(tx *ledger.Transaction) string {
	var buf strings.Builder
	if tx.IsFinalized() {
		fmt.Fprintf(&buf, "%s %s\n", tx.Type(), tx.Hash())
	} else {
		fmt.Fprintf(&buf, "%s draft\n", tx.Type())
	}
	wire := tx.WireMap()
	for _, name := range tx.Present() {
		v, err := json.Marshal(wire[name])
		if err != nil {
			v = []byte(fmt.Sprint(wire[name]))
		}
		fmt.Fprintf(&buf, "  %-20s %s\n", name, v)
	}
	if missing := tx.Missing(); len(missing) > 0 {
		fmt.Fprintf(&buf, "missing: %s\n", strings.Join(missing, ", "))
	}
	if meta := tx.Meta(); len(meta) > 0 {
		fmt.Fprintf(&buf, "meta: %s\n", meta)
	}
	return buf.String()
}

// NewTxFieldsCommand creates the tx fields command.
func NewTxFieldsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fields <type>",
		Short: "List the fields a transaction type declares",
		Args:  cobra.ExactArgs(1),

		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			fields, err := ledger.FieldsFor(ledger.TransactionType(args[0]))
			if err != nil {
				return f.Error(ErrCodeMalformed, WrapExitError(ExitCommandError, "unknown type", err))
			}
			var buf strings.Builder
			for _, fld := range fields {
				req := ""
				if fld.Required {
					req = " required"
				}
				fmt.Fprintf(&buf, "%-20s %s%s\n", fld.Name, fld.Kind, req)
			}
			return f.Success(fields, buf.String())
		},
	}
}
