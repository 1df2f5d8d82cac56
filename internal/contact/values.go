package contact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DetailType names an attribute group.
type DetailType string

const (
	TypeName          DetailType = "name"
	TypeNickname      DetailType = "nickname"
	TypeGender        DetailType = "gender"
	TypeBirthday      DetailType = "birthday"
	TypeFavorite      DetailType = "favorite"
	TypePhoneNumber   DetailType = "phone_number"
	TypeEmailAddress  DetailType = "email_address"
	TypeOnlineAccount DetailType = "online_account"
	TypeAddress       DetailType = "address"
	TypeURL           DetailType = "url"
	TypeOrganization  DetailType = "organization"
	TypeNote          DetailType = "note"
	TypeTag           DetailType = "tag"
	TypeHobby         DetailType = "hobby"
	TypePresence      DetailType = "presence"
	TypeGUID          DetailType = "guid"
)

// Value is the typed payload of a Detail.
type Value interface {
	// Type returns the DetailType this payload belongs to.
	Type() DetailType

	// IsEmpty reports whether the payload carries no data. Empty values
	// are never promoted into aggregates.
	IsEmpty() bool
}

// Gender values.
const (
	GenderUnspecified = ""
	GenderMale        = "male"
	GenderFemale      = "female"
)

type Name struct {
	Prefix string `json:"prefix,omitempty"`
	First  string `json:"first,omitempty"`
	Middle string `json:"middle,omitempty"`
	Last   string `json:"last,omitempty"`
	Suffix string `json:"suffix,omitempty"`
}

func (Name) Type() DetailType { return TypeName }
func (n Name) IsEmpty() bool {
	return blank(n.Prefix, n.First, n.Middle, n.Last, n.Suffix)
}

type Nickname struct {
	Nickname string `json:"nickname"`
}

func (Nickname) Type() DetailType { return TypeNickname }
func (n Nickname) IsEmpty() bool  { return blank(n.Nickname) }

// Gender holds GenderMale, GenderFemale or GenderUnspecified.
type Gender struct {
	Gender string `json:"gender"`
}

func (Gender) Type() DetailType { return TypeGender }
func (g Gender) IsEmpty() bool  { return blank(g.Gender) }

// Birthday holds an ISO-8601 calendar date.
type Birthday struct {
	Date string `json:"date"`
}

func (Birthday) Type() DetailType { return TypeBirthday }
func (b Birthday) IsEmpty() bool  { return blank(b.Date) }

// Favorite is never empty: an explicit false is data.
type Favorite struct {
	Favorite bool `json:"favorite"`
}

func (Favorite) Type() DetailType { return TypeFavorite }
func (Favorite) IsEmpty() bool    { return false }

type PhoneNumber struct {
	Number   string   `json:"number"`
	SubTypes []string `json:"sub_types,omitempty"`
}

func (PhoneNumber) Type() DetailType { return TypePhoneNumber }
func (p PhoneNumber) IsEmpty() bool  { return blank(p.Number) }

type EmailAddress struct {
	Address string `json:"address"`
}

func (EmailAddress) Type() DetailType { return TypeEmailAddress }
func (e EmailAddress) IsEmpty() bool  { return blank(e.Address) }

type OnlineAccount struct {
	AccountURI      string `json:"account_uri"`
	ServiceProvider string `json:"service_provider,omitempty"`
}

func (OnlineAccount) Type() DetailType { return TypeOnlineAccount }
func (o OnlineAccount) IsEmpty() bool  { return blank(o.AccountURI) }

type Address struct {
	Street   string `json:"street,omitempty"`
	Locality string `json:"locality,omitempty"`
	Region   string `json:"region,omitempty"`
	PostCode string `json:"post_code,omitempty"`
	Country  string `json:"country,omitempty"`
}

func (Address) Type() DetailType { return TypeAddress }
func (a Address) IsEmpty() bool {
	return blank(a.Street, a.Locality, a.Region, a.PostCode, a.Country)
}

type URL struct {
	URL string `json:"url"`
}

func (URL) Type() DetailType { return TypeURL }
func (u URL) IsEmpty() bool  { return blank(u.URL) }

type Organization struct {
	Name       string `json:"name,omitempty"`
	Title      string `json:"title,omitempty"`
	Department string `json:"department,omitempty"`
}

func (Organization) Type() DetailType { return TypeOrganization }
func (o Organization) IsEmpty() bool  { return blank(o.Name, o.Title, o.Department) }

type Note struct {
	Note string `json:"note"`
}

func (Note) Type() DetailType { return TypeNote }
func (n Note) IsEmpty() bool  { return blank(n.Note) }

type Tag struct {
	Tag string `json:"tag"`
}

func (Tag) Type() DetailType { return TypeTag }
func (t Tag) IsEmpty() bool  { return blank(t.Tag) }

type Hobby struct {
	Hobby string `json:"hobby"`
}

func (Hobby) Type() DetailType { return TypeHobby }
func (h Hobby) IsEmpty() bool  { return blank(h.Hobby) }

// Presence is the online state of one account.
type Presence struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

func (Presence) Type() DetailType { return TypePresence }
func (p Presence) IsEmpty() bool  { return blank(p.State, p.Message) }

// GUID is a source-assigned identifier. It stays on its constituent.
type GUID struct {
	GUID string `json:"guid"`
}

func (GUID) Type() DetailType { return TypeGUID }
func (g GUID) IsEmpty() bool  { return blank(g.GUID) }

func blank(fields ...string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// typeInfo describes how one DetailType behaves during aggregation.
type typeInfo struct {
	unique     bool
	promotable bool
	matching   bool
	decode     func([]byte) (Value, error)
}

var registry = map[DetailType]typeInfo{
	TypeName:          {unique: true, promotable: true, matching: true, decode: decodeAs[Name]},
	TypeNickname:      {promotable: true, matching: true, decode: decodeAs[Nickname]},
	TypeGender:        {unique: true, promotable: true, matching: true, decode: decodeAs[Gender]},
	TypeBirthday:      {unique: true, promotable: true, decode: decodeAs[Birthday]},
	TypeFavorite:      {unique: true, promotable: true, decode: decodeAs[Favorite]},
	TypePhoneNumber:   {promotable: true, matching: true, decode: decodeAs[PhoneNumber]},
	TypeEmailAddress:  {promotable: true, matching: true, decode: decodeAs[EmailAddress]},
	TypeOnlineAccount: {promotable: true, matching: true, decode: decodeAs[OnlineAccount]},
	TypeAddress:       {promotable: true, decode: decodeAs[Address]},
	TypeURL:           {promotable: true, decode: decodeAs[URL]},
	TypeOrganization:  {promotable: true, decode: decodeAs[Organization]},
	TypeNote:          {promotable: true, decode: decodeAs[Note]},
	TypeTag:           {promotable: true, decode: decodeAs[Tag]},
	TypeHobby:         {promotable: true, decode: decodeAs[Hobby]},
	TypePresence:      {promotable: true, decode: decodeAs[Presence]},
	TypeGUID:          {unique: true, decode: decodeAs[GUID]},
}

func decodeAs[T Value](data []byte) (Value, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Valid reports whether t is a registered detail type.
func (t DetailType) Valid() bool {
	_, ok := registry[t]
	return ok
}

// Unique reports whether at most one detail of this type may exist per contact.
func (t DetailType) Unique() bool {
	return registry[t].unique
}

// Promotable reports whether constituent details of this type are copied
// into the aggregate.
func (t DetailType) Promotable() bool {
	return registry[t].promotable
}

// MatchRelevant reports whether a change to this type can alter the
// outcome of matching.
func (t DetailType) MatchRelevant() bool {
	return registry[t].matching
}

// DetailTypes returns every registered type in a stable order.
func DetailTypes() []DetailType {
	return []DetailType{
		TypeName, TypeNickname, TypeGender, TypeBirthday, TypeFavorite,
		TypePhoneNumber, TypeEmailAddress, TypeOnlineAccount, TypeAddress,
		TypeURL, TypeOrganization, TypeNote, TypeTag, TypeHobby,
		TypePresence, TypeGUID,
	}
}

// EncodeValue serializes a payload for storage.
func EncodeValue(v Value) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("encode value: nil payload")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s value: %w", v.Type(), err)
	}
	return data, nil
}

// DecodeValue deserializes a stored payload of type t.
func DecodeValue(t DetailType, data []byte) (Value, error) {
	info, ok := registry[t]
	if !ok {
		return nil, fmt.Errorf("decode value: unknown detail type %q", t)
	}
	v, err := info.decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s value: %w", t, err)
	}
	return v, nil
}

// SameValue reports whether two payloads are identical. Nil and empty
// slices compare equal.
func SameValue(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Type() != b.Type() {
		return false
	}
	ea, errA := json.Marshal(a)
	eb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}
