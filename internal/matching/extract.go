package matching

import (
	"fmt"
	"strings"

	"regsync/internal/entity"
)

// ExtractorPath is the closed set of person fields a rule can compare.
type ExtractorPath int

const (
	pathUnknown ExtractorPath = iota
	PathBirthDate
	PathFamilyName
	PathGivenName
	PathGender
	PathNationalID
	PathBirthRegistrationNumber
)

var extractorNames = map[ExtractorPath]string{
	PathBirthDate:               "birth_date",
	PathFamilyName:              "family_name",
	PathGivenName:               "given_name",
	PathGender:                  "gender",
	PathNationalID:              "identifier:national_id",
	PathBirthRegistrationNumber: "identifier:birth_registration_number",
}

// ParseExtractorPath resolves a configured path name.
func ParseExtractorPath(name string) (ExtractorPath, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	for p, n := range extractorNames {
		if n == want {
			return p, nil
		}
	}
	return pathUnknown, fmt.Errorf("unknown extractor path %q", name)
}

func (p ExtractorPath) String() string {
	if n, ok := extractorNames[p]; ok {
		return n
	}
	return "unknown"
}

func (p ExtractorPath) valid() bool {
	_, ok := extractorNames[p]
	return ok
}

// Extract returns the field value and whether it is present. Blank values
// count as absent.
func (p ExtractorPath) Extract(person *entity.Person) (string, bool) {
	if person == nil {
		return "", false
	}
	var v string
	switch p {
	case PathBirthDate:
		v = person.BirthDate
	case PathFamilyName:
		v = person.FamilyName()
	case PathGivenName:
		v = person.GivenName()
	case PathGender:
		v = person.Gender
	case PathNationalID:
		v = person.IdentifierValue(entity.SystemNationalID)
	case PathBirthRegistrationNumber:
		v = person.IdentifierValue(entity.SystemBirthRegistrationNumber)
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}
