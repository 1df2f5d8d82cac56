package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/rolodex/internal/contact"
)

// importFile is the YAML layout accepted by import:
//
//	contacts:
//	  - origin: carddav
//	    details:
//	      - type: name
//	        value: {first: Alice, last: Liddell}
//	      - type: phone_number
//	        value: {number: "555 0100"}
//	        modifiable: true
type importFile struct {
	Contacts []importContact `yaml:"contacts"`
}

type importContact struct {
	Origin      string         `yaml:"origin"`
	Deactivated bool           `yaml:"deactivated"`
	Details     []importDetail `yaml:"details"`
}

type importDetail struct {
	Type          contact.DetailType `yaml:"type"`
	Value         map[string]any     `yaml:"value"`
	URI           string             `yaml:"uri"`
	LinkedURIs    []string           `yaml:"linked_uris"`
	Modifiable    bool               `yaml:"modifiable"`
	NonExportable bool               `yaml:"non_exportable"`
}

// batch is a run of contacts sharing one origin.
type batch struct {
	origin   string
	contacts []*contact.Contact
}

// parseImport decodes data into save batches, one per origin, in order of
// first appearance.
func parseImport(data []byte) ([]batch, error) {
	var f importFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse import file: %w", err)
	}

	var batches []batch
	index := map[string]int{}
	for i, ic := range f.Contacts {
		c := &contact.Contact{Origin: contact.NormalizeOrigin(ic.Origin), Deactivated: ic.Deactivated}
		for j, id := range ic.Details {
			d, err := id.detail()
			if err != nil {
				return nil, fmt.Errorf("contact %d detail %d: %w", i, j, err)
			}
			c.Details = append(c.Details, d)
		}

		n, ok := index[c.Origin]
		if !ok {
			n = len(batches)
			index[c.Origin] = n
			batches = append(batches, batch{origin: c.Origin})
		}
		batches[n].contacts = append(batches[n].contacts, c)
	}
	return batches, nil
}

// detail converts the loosely typed YAML value through its JSON form.
func (id importDetail) detail() (contact.Detail, error) {
	if !id.Type.Valid() {
		return contact.Detail{}, fmt.Errorf("unknown detail type %q", id.Type)
	}
	raw, err := json.Marshal(id.Value)
	if err != nil {
		return contact.Detail{}, fmt.Errorf("encode %s value: %w", id.Type, err)
	}
	v, err := contact.DecodeValue(id.Type, raw)
	if err != nil {
		return contact.Detail{}, err
	}
	d := contact.NewDetail(v)
	d.URI = id.URI
	d.LinkedURIs = id.LinkedURIs
	d.Modifiable = id.Modifiable
	d.NonExportable = id.NonExportable
	return d, nil
}

// importResult reports the ids assigned to imported contacts.
type importResult struct {
	changeView
	Imported []contact.ID `json:"imported"`
}

func (r importResult) String() string {
	return fmt.Sprintf("imported %d contacts (%s)\n%s", len(r.Imported), joinIDs(r.Imported), r.changeView)
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Save contacts from a YAML file",
		Long: `Save contacts from a YAML file.

Contacts are saved in one batch per origin. Each saved constituent is
matched into an aggregate.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, args[0], cmd)
		},
	}
}

func runImport(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		_ = out.Error(ErrCodeInput, err.Error(), path)
		return WrapExitError(ExitCommandError, "failed to read import file", err)
	}
	batches, err := parseImport(data)
	if err != nil {
		_ = out.Error(ErrCodeInput, err.Error(), path)
		return WrapExitError(ExitCommandError, "invalid import file", err)
	}

	return withSession(cmd, opts, func(ctx context.Context, s *session) error {
		var res importResult
		for _, b := range batches {
			cs, err := s.mgr.SaveContacts(ctx, b.contacts)
			if err != nil {
				return s.out.Fail(fmt.Sprintf("failed to import %s contacts", b.origin), err)
			}
			if res.ID == "" {
				res.ChangeSet = cs
			} else {
				res.ChangeSet = res.Merge(cs)
			}
			for _, c := range b.contacts {
				res.Imported = append(res.Imported, c.ID)
			}
			s.out.VerboseLog("saved %d %s contacts", len(b.contacts), b.origin)
		}
		return s.out.Success(res)
	})
}
