package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMissingFamilyName = errors.New("family name is required")
	ErrMissingBirthDate  = errors.New("birth date is required")
	ErrInvalidBirthDate  = errors.New("birth date must be YYYY-MM-DD")
)

// formPayload is the subset of the registration form this service reads.
type formPayload struct {
	FirstNames              string `json:"firstNames"`
	FamilyName              string `json:"familyName"`
	BirthDate               string `json:"birthDate"`
	Gender                  string `json:"gender"`
	NationalID              string `json:"nationalId"`
	BirthRegistrationNumber string `json:"birthRegistrationNumber"`
}

// Translate maps a source form payload onto a Person. sourceID is recorded as
// an identifier so the registry can trace the entity back to its row.
func Translate(sourceID string, payload json.RawMessage) (*Person, error) {
	var form formPayload
	if err := json.Unmarshal(payload, &form); err != nil {
		return nil, fmt.Errorf("decode form payload: %w", err)
	}

	family := strings.TrimSpace(form.FamilyName)
	if family == "" {
		return nil, ErrMissingFamilyName
	}
	birthDate := strings.TrimSpace(form.BirthDate)
	if birthDate == "" {
		return nil, ErrMissingBirthDate
	}
	if _, err := time.Parse(time.DateOnly, birthDate); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBirthDate, birthDate)
	}

	person := &Person{
		Names: []HumanName{{
			Use:    NameUseOfficial,
			Family: family,
			Given:  strings.Fields(form.FirstNames),
		}},
		BirthDate: birthDate,
		Gender:    normalizeGender(form.Gender),
	}
	if v := strings.TrimSpace(form.NationalID); v != "" {
		person.Identifiers = append(person.Identifiers, Identifier{System: SystemNationalID, Value: v})
	}
	if v := strings.TrimSpace(form.BirthRegistrationNumber); v != "" {
		person.Identifiers = append(person.Identifiers, Identifier{System: SystemBirthRegistrationNumber, Value: v})
	}
	if sourceID != "" {
		person.Identifiers = append(person.Identifiers, Identifier{System: SystemSourceRecord, Value: sourceID})
	}
	return person, nil
}

func normalizeGender(g string) string {
	switch strings.ToLower(strings.TrimSpace(g)) {
	case "male", "m":
		return "male"
	case "female", "f":
		return "female"
	case "":
		return ""
	default:
		return "other"
	}
}
