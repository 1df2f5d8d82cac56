package contact

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ID is a stable contact identifier assigned by storage.
type ID int64

// Origin labels. Any other non-empty label names a sync source.
const (
	OriginLocal     = "local"
	OriginAggregate = "aggregate"
	OriginWasLocal  = "was_local"

	// SourceExport is the pseudo-source whose partial aggregates carry the
	// union of every constituent.
	SourceExport = "export"
)

// NormalizeOrigin maps the empty label to OriginLocal.
func NormalizeOrigin(origin string) string {
	if origin == "" {
		return OriginLocal
	}
	return origin
}

// IsSourceOrigin reports whether origin names a sync source.
func IsSourceOrigin(origin string) bool {
	switch NormalizeOrigin(origin) {
	case OriginLocal, OriginAggregate, OriginWasLocal:
		return false
	}
	return true
}

// Contact is a constituent or aggregate record.
type Contact struct {
	ID          ID
	Origin      string
	Deactivated bool

	// Incidental marks a local constituent the engine created to hold
	// details added through an aggregate that had none.
	Incidental bool

	// FormerAggregate is the id of the aggregate removed while this
	// constituent was deactivated. Reactivation reuses it when free.
	FormerAggregate ID

	Created  time.Time
	Modified time.Time
	Details  []Detail
}

// IsAggregate reports whether c is an engine-owned aggregate.
func (c *Contact) IsAggregate() bool {
	return c.Origin == OriginAggregate
}

// IsLocallyOriginated reports whether c holds device-owner data.
func (c *Contact) IsLocallyOriginated() bool {
	o := NormalizeOrigin(c.Origin)
	return o == OriginLocal || o == OriginWasLocal
}

// DetailsOf returns every detail of type t, in stored order.
func (c *Contact) DetailsOf(t DetailType) []Detail {
	var out []Detail
	for _, d := range c.Details {
		if d.Type == t {
			out = append(out, d)
		}
	}
	return out
}

// First returns the first detail of type t.
func (c *Contact) First(t DetailType) (Detail, bool) {
	for _, d := range c.Details {
		if d.Type == t {
			return d, true
		}
	}
	return Detail{}, false
}

// DetailByID returns the detail with the given id.
func (c *Contact) DetailByID(id int64) (Detail, bool) {
	if id == 0 {
		return Detail{}, false
	}
	for _, d := range c.Details {
		if d.ID == id {
			return d, true
		}
	}
	return Detail{}, false
}

// Name returns the contact's name payload, or the zero Name.
func (c *Contact) Name() Name {
	if d, ok := c.First(TypeName); ok {
		if n, ok := d.Value.(Name); ok {
			return n
		}
	}
	return Name{}
}

// Clone returns a deep copy of c.
func (c *Contact) Clone() *Contact {
	out := *c
	out.Details = make([]Detail, len(c.Details))
	for i, d := range c.Details {
		out.Details[i] = d.Clone()
	}
	return &out
}

// Provenance identifies the constituent detail an aggregate detail was
// promoted from.
type Provenance struct {
	ContactID ID    `json:"contact_id"`
	DetailID  int64 `json:"detail_id"`
}

// IsZero reports whether p is unset.
func (p Provenance) IsZero() bool {
	return p.ContactID == 0 && p.DetailID == 0
}

func (p Provenance) String() string {
	return fmt.Sprintf("%d:%d", p.ContactID, p.DetailID)
}

// Detail is one typed attribute of a contact.
type Detail struct {
	ID            int64
	ContactID     ID
	Type          DetailType
	Value         Value
	URI           string
	LinkedURIs    []string
	Modifiable    bool
	NonExportable bool
	Provenance    Provenance
}

// NewDetail wraps a payload in a detail envelope.
func NewDetail(v Value) Detail {
	return Detail{Type: v.Type(), Value: v}
}

// Clone returns a copy of d that shares no slices with it.
func (d Detail) Clone() Detail {
	if d.LinkedURIs != nil {
		d.LinkedURIs = append([]string(nil), d.LinkedURIs...)
	}
	return d
}

// SameContent reports whether a and b carry the same data, ignoring ids
// and provenance.
func SameContent(a, b Detail) bool {
	if a.Type != b.Type || a.URI != b.URI || a.Modifiable != b.Modifiable || a.NonExportable != b.NonExportable {
		return false
	}
	if len(a.LinkedURIs) != len(b.LinkedURIs) {
		return false
	}
	for i := range a.LinkedURIs {
		if a.LinkedURIs[i] != b.LinkedURIs[i] {
			return false
		}
	}
	return SameValue(a.Value, b.Value)
}

// detailJSON is the wire form of Detail; the payload is keyed by type.
type detailJSON struct {
	ID            int64           `json:"id,omitempty"`
	Type          DetailType      `json:"type"`
	Value         json.RawMessage `json:"value"`
	URI           string          `json:"uri,omitempty"`
	LinkedURIs    []string        `json:"linked_uris,omitempty"`
	Modifiable    bool            `json:"modifiable,omitempty"`
	NonExportable bool            `json:"non_exportable,omitempty"`
	Provenance    *Provenance     `json:"provenance,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (d Detail) MarshalJSON() ([]byte, error) {
	value, err := EncodeValue(d.Value)
	if err != nil {
		return nil, err
	}
	out := detailJSON{
		ID:            d.ID,
		Type:          d.Type,
		Value:         value,
		URI:           d.URI,
		LinkedURIs:    d.LinkedURIs,
		Modifiable:    d.Modifiable,
		NonExportable: d.NonExportable,
	}
	if !d.Provenance.IsZero() {
		p := d.Provenance
		out.Provenance = &p
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Detail) UnmarshalJSON(data []byte) error {
	var in detailJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	value, err := DecodeValue(in.Type, in.Value)
	if err != nil {
		return err
	}
	*d = Detail{
		ID:            in.ID,
		Type:          in.Type,
		Value:         value,
		URI:           in.URI,
		LinkedURIs:    in.LinkedURIs,
		Modifiable:    in.Modifiable,
		NonExportable: in.NonExportable,
	}
	if in.Provenance != nil {
		d.Provenance = *in.Provenance
	}
	return nil
}

const compositePrefix = "aggregate:"

// CompositeURI rewrites a constituent detail-uri into its aggregate form.
// Empty uris stay empty.
func CompositeURI(owner ID, uri string) string {
	if uri == "" {
		return ""
	}
	return compositePrefix + strconv.FormatInt(int64(owner), 10) + ":" + uri
}

// SplitCompositeURI reverses CompositeURI. ok is false for plain uris.
func SplitCompositeURI(uri string) (owner ID, plain string, ok bool) {
	rest, found := strings.CutPrefix(uri, compositePrefix)
	if !found {
		return 0, uri, false
	}
	idPart, plain, found := strings.Cut(rest, ":")
	if !found {
		return 0, uri, false
	}
	n, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, uri, false
	}
	return ID(n), plain, true
}

// IsCompositeURI reports whether uri uses the aggregate form.
func IsCompositeURI(uri string) bool {
	_, _, ok := SplitCompositeURI(uri)
	return ok
}
