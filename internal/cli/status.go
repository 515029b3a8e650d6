package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/andreyvit/walletstore"
	"github.com/andreyvit/walletstore/schemas"
)

// StatusResult describes a store file relative to the built-in schema chain.
type StatusResult struct {
	Path        string         `json:"path"`
	Exists      bool           `json:"exists"`
	Version     uint64         `json:"version"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
	Latest      uint64         `json:"latest"`
	Pending     []uint64       `json:"pending,omitempty"`
	Compatible  bool           `json:"compatible"`
	Problem     string         `json:"problem,omitempty"`
	Entities    map[string]int `json:"entities,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the schema version of a store without modifying it",
		Args:  cobra.NoArgs,

		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if err := opts.requireDB(); err != nil {
		return f.Error(errorCode(err), err)
	}
	res, err := storeStatus(opts.DB, schemas.Registry())
	if err != nil {
		return f.Error(errorCode(err), err)
	}
	return f.Success(res, res.text())
}

func storeStatus(path string, reg *walletstore.Registry) (*StatusResult, error) {
	latest := reg.Latest()
	res := &StatusResult{Path: path, Latest: latest.Number()}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		res.Compatible = true
		res.Pending = []uint64{latest.Number()}
		return res, nil
	} else if err != nil {
		return nil, err
	}
	res.Exists = true

	insp, err := walletstore.Inspect(path)
	if err != nil {
		return nil, err
	}
	res.Entities = insp.Entities
	if !insp.Found {
		if len(insp.Entities) > 0 {
			res.Problem = "entity data without a version marker"
		} else {
			res.Compatible = true
			res.Pending = []uint64{latest.Number()}
		}
		return res, nil
	}

	m := insp.Marker
	res.Version = m.Version
	res.Fingerprint = fmt.Sprintf("%016x", m.Fingerprint)
	res.UpdatedAt = &m.UpdatedAt

	ver, known := reg.Version(m.Version)
	switch {
	case m.Version > latest.Number():
		res.Problem = fmt.Sprintf("store is at v%d, newer than this build (v%d)", m.Version, latest.Number())
	case !known:
		res.Problem = fmt.Sprintf("v%d is not part of the schema chain", m.Version)
	case ver.Fingerprint() != m.Fingerprint:
		res.Problem = fmt.Sprintf("fingerprint %016x does not match v%d (%016x)", m.Fingerprint, m.Version, ver.Fingerprint())
	default:
		res.Compatible = true
		for _, v := range reg.After(m.Version) {
			res.Pending = append(res.Pending, v.Number())
		}
	}
	return res, nil
}

func (res *StatusResult) text() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "store:    %s\n", res.Path)
	switch {
	case !res.Exists:
		fmt.Fprintf(&buf, "version:  none (a new store will be created at v%d)\n", res.Latest)
	case res.Version == 0:
		fmt.Fprintf(&buf, "version:  none\n")
	default:
		fmt.Fprintf(&buf, "version:  v%d (%s), written %s\n", res.Version, res.Fingerprint, res.UpdatedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&buf, "latest:   v%d\n", res.Latest)
	if res.Problem != "" {
		fmt.Fprintf(&buf, "problem:  %s\n", res.Problem)
	} else if len(res.Pending) > 0 && res.Exists {
		fmt.Fprintf(&buf, "pending:  %s\n", versionList(res.Pending))
	}
	names := make([]string, 0, len(res.Entities))
	for name := range res.Entities {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(&buf, "  %-12s %d\n", name, res.Entities[name])
	}
	return buf.String()
}

func versionList(vers []uint64) string {
	parts := make([]string, len(vers))
	for i, v := range vers {
		parts[i] = fmt.Sprintf("v%d", v)
	}
	return strings.Join(parts, " ")
}
