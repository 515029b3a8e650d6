package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/andreyvit/walletstore"
	"github.com/andreyvit/walletstore/schemas"
)

// SchemaDoc is the YAML/JSON description of one schema version.
type SchemaDoc struct {
	Version     uint64      `yaml:"version" json:"version"`
	Fingerprint string      `yaml:"fingerprint" json:"fingerprint"`
	Migration   bool        `yaml:"migration" json:"migration"`
	Entities    []EntityDoc `yaml:"entities" json:"entities"`
}

type EntityDoc struct {
	Name       string     `yaml:"name" json:"name"`
	PrimaryKey string     `yaml:"primary_key,omitempty" json:"primary_key,omitempty"`
	Singleton  bool       `yaml:"singleton,omitempty" json:"singleton,omitempty"`
	Fields     []FieldDoc `yaml:"fields" json:"fields"`
}

type FieldDoc struct {
	Name     string `yaml:"name" json:"name"`
	Kind     string `yaml:"kind" json:"kind"`
	Optional bool   `yaml:"optional,omitempty" json:"optional,omitempty"`
	Default  any    `yaml:"default,omitempty" json:"default,omitempty"`
}

type schemaOptions struct {
	version uint64
	all     bool
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &schemaOptions{}
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Describe the built-in schema versions as YAML",
		Args:  cobra.NoArgs,

		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(rootOpts, opts, cmd)
		},
	}
	cmd.Flags().Uint64Var(&opts.version, "version", 0, "schema version to describe (default: latest)")
	cmd.Flags().BoolVar(&opts.all, "all", false, "describe every version")
	return cmd
}

func runSchema(rootOpts *RootOptions, opts *schemaOptions, cmd *cobra.Command) error {
	f := rootOpts.formatter(cmd)
	docs, err := describeSchemas(schemas.Registry(), opts)
	if err != nil {
		return f.Error(errorCode(err), err)
	}
	out, err := yaml.Marshal(docs)
	if err != nil {
		return f.Error(errorCode(err), err)
	}
	return f.Success(docs, string(out))
}

func describeSchemas(reg *walletstore.Registry, opts *schemaOptions) ([]SchemaDoc, error) {
	var versions []*walletstore.SchemaVersion
	switch {
	case opts.all:
		versions = reg.AllVersions()
	case opts.version != 0:
		ver, ok := reg.Version(opts.version)
		if !ok {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown schema version %d", opts.version))
		}
		versions = append(versions, ver)
	default:
		versions = append(versions, reg.Latest())
	}

	docs := make([]SchemaDoc, 0, len(versions))
	for _, ver := range versions {
		docs = append(docs, describeVersion(ver))
	}
	return docs, nil
}

func describeVersion(ver *walletstore.SchemaVersion) SchemaDoc {
	doc := SchemaDoc{
		Version:     ver.Number(),
		Fingerprint: fmt.Sprintf("%016x", ver.Fingerprint()),
		Migration:   ver.HasMigration(),
	}
	for _, ent := range ver.Entities() {
		ed := EntityDoc{
			Name:       ent.Name(),
			PrimaryKey: ent.PrimaryKey(),
			Singleton:  ent.IsSingleton(),
		}
		for _, fld := range ent.Fields() {
			fd := FieldDoc{
				Name:     fld.Name,
				Kind:     fld.Kind.String(),
				Optional: fld.Optional,
			}
			if fld.HasDefault() {
				fd.Default = describeDefault(fld)
			}
			ed.Fields = append(ed.Fields, fd)
		}
		doc.Entities = append(doc.Entities, ed)
	}
	return doc
}

func describeDefault(fld *walletstore.Field) any {
	switch fld.Kind {
	case walletstore.KindTime:
		return "now"
	case walletstore.KindDecimal:
		return fmt.Sprint(fld.Default())
	default:
		return fld.Default()
	}
}
