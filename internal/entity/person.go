// Package entity defines the canonical person document exchanged with the
// registry, and the translation from source form payloads into it.
package entity

import "strings"

// Identifier systems understood by the matcher and the registry.
const (
	SystemNationalID              = "urn:regsync:id:national-id"
	SystemBirthRegistrationNumber = "urn:regsync:id:birth-registration-number"
	SystemSourceRecord            = "urn:regsync:id:source-record"
	SystemExternalReference       = "urn:regsync:id:external-reference"
)

// Name uses.
const (
	NameUseOfficial = "official"
)

type Identifier struct {
	System string `json:"system"`
	Value  string `json:"value"`
}

type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
}

// Person is the canonical entity. ID is assigned by the registry and is empty
// for entities that have never been submitted.
type Person struct {
	ID          string       `json:"id,omitempty"`
	Identifiers []Identifier `json:"identifier,omitempty"`
	Names       []HumanName  `json:"name,omitempty"`
	BirthDate   string       `json:"birthDate,omitempty"`
	Gender      string       `json:"gender,omitempty"`
}

// IdentifierValue returns the value for system, or "" when absent.
func (p *Person) IdentifierValue(system string) string {
	if p == nil {
		return ""
	}
	for _, id := range p.Identifiers {
		if id.System == system && strings.TrimSpace(id.Value) != "" {
			return id.Value
		}
	}
	return ""
}

// FamilyName returns the family name of the trailing name entry.
func (p *Person) FamilyName() string {
	if p == nil || len(p.Names) == 0 {
		return ""
	}
	return p.Names[len(p.Names)-1].Family
}

// GivenName returns the first given name of the first name entry.
func (p *Person) GivenName() string {
	if p == nil || len(p.Names) == 0 || len(p.Names[0].Given) == 0 {
		return ""
	}
	return p.Names[0].Given[0]
}

// MergeMissing fills fields absent on p from existing and adopts existing's
// identity. Fields already present on p are never overwritten.
func (p *Person) MergeMissing(existing *Person) {
	if p == nil || existing == nil {
		return
	}
	p.ID = existing.ID
	for _, id := range existing.Identifiers {
		if p.IdentifierValue(id.System) == "" {
			p.Identifiers = append(p.Identifiers, id)
		}
	}
	if len(p.Names) == 0 && len(existing.Names) > 0 {
		p.Names = append([]HumanName(nil), existing.Names...)
	}
	if p.BirthDate == "" {
		p.BirthDate = existing.BirthDate
	}
	if p.Gender == "" {
		p.Gender = existing.Gender
	}
}
