package registry

import "regsync/internal/entity"

// ParamsFor picks the lookup keys for person: the national id when present,
// otherwise the birth registration number, plus the birth date.
func ParamsFor(p *entity.Person) SearchParams {
	params := SearchParams{BirthDate: p.BirthDate}
	for _, system := range []string{entity.SystemNationalID, entity.SystemBirthRegistrationNumber} {
		if v := p.IdentifierValue(system); v != "" {
			params.Identifier = entity.Identifier{System: system, Value: v}
			break
		}
	}
	return params
}

// AffectedParams lists every lookup whose result set may change when person
// is submitted.
func AffectedParams(p *entity.Person) []SearchParams {
	out := []SearchParams{{BirthDate: p.BirthDate}}
	for _, system := range []string{entity.SystemNationalID, entity.SystemBirthRegistrationNumber} {
		v := p.IdentifierValue(system)
		if v == "" {
			continue
		}
		id := entity.Identifier{System: system, Value: v}
		out = append(out, SearchParams{Identifier: id, BirthDate: p.BirthDate}, SearchParams{Identifier: id})
	}
	return out
}
