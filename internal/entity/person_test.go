package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslate(t *testing.T) {
	t.Run("maps form fields onto the canonical person", func(t *testing.T) {
		payload := json.RawMessage(`{
			"firstNames": "Ana  Maria",
			"familyName": " Bell ",
			"birthDate": "1990-02-03",
			"gender": "F",
			"nationalId": "NID-1",
			"birthRegistrationNumber": "BRN-7"
		}`)
		p, err := Translate("row-1", payload)
		require.NoError(t, err)

		assert.Equal(t, "Bell", p.FamilyName())
		assert.Equal(t, "Ana", p.GivenName())
		assert.Equal(t, []string{"Ana", "Maria"}, p.Names[0].Given)
		assert.Equal(t, "1990-02-03", p.BirthDate)
		assert.Equal(t, "female", p.Gender)
		assert.Equal(t, "NID-1", p.IdentifierValue(SystemNationalID))
		assert.Equal(t, "BRN-7", p.IdentifierValue(SystemBirthRegistrationNumber))
		assert.Equal(t, "row-1", p.IdentifierValue(SystemSourceRecord))
		assert.Empty(t, p.ID)
	})

	t.Run("missing family name is rejected", func(t *testing.T) {
		_, err := Translate("row-2", json.RawMessage(`{"birthDate":"1990-02-03"}`))
		assert.ErrorIs(t, err, ErrMissingFamilyName)
	})

	t.Run("missing birth date is rejected", func(t *testing.T) {
		_, err := Translate("row-3", json.RawMessage(`{"familyName":"Bell"}`))
		assert.ErrorIs(t, err, ErrMissingBirthDate)
	})

	t.Run("malformed birth date is rejected", func(t *testing.T) {
		_, err := Translate("row-4", json.RawMessage(`{"familyName":"Bell","birthDate":"03/02/1990"}`))
		assert.ErrorIs(t, err, ErrInvalidBirthDate)
	})

	t.Run("non JSON payload is rejected", func(t *testing.T) {
		_, err := Translate("row-5", json.RawMessage(`not-json`))
		assert.Error(t, err)
	})
}

func TestMergeMissing(t *testing.T) {
	existing := &Person{
		ID: "reg-1",
		Identifiers: []Identifier{
			{System: SystemNationalID, Value: "NID-OLD"},
			{System: SystemBirthRegistrationNumber, Value: "BRN-1"},
		},
		Names:     []HumanName{{Family: "Smith", Given: []string{"Jo"}}},
		BirthDate: "1980-01-01",
		Gender:    "male",
	}

	t.Run("fills absent fields and adopts identity", func(t *testing.T) {
		p := &Person{}
		p.MergeMissing(existing)
		assert.Equal(t, "reg-1", p.ID)
		assert.Equal(t, "NID-OLD", p.IdentifierValue(SystemNationalID))
		assert.Equal(t, "Smith", p.FamilyName())
		assert.Equal(t, "1980-01-01", p.BirthDate)
		assert.Equal(t, "male", p.Gender)
	})

	t.Run("never overwrites present fields", func(t *testing.T) {
		p := &Person{
			Identifiers: []Identifier{{System: SystemNationalID, Value: "NID-NEW"}},
			Names:       []HumanName{{Family: "Bell"}},
			BirthDate:   "1990-02-03",
			Gender:      "female",
		}
		p.MergeMissing(existing)
		assert.Equal(t, "reg-1", p.ID)
		assert.Equal(t, "NID-NEW", p.IdentifierValue(SystemNationalID))
		assert.Equal(t, "BRN-1", p.IdentifierValue(SystemBirthRegistrationNumber))
		assert.Equal(t, "Bell", p.FamilyName())
		assert.Equal(t, "1990-02-03", p.BirthDate)
		assert.Equal(t, "female", p.Gender)
	})

	t.Run("nil existing is a no-op", func(t *testing.T) {
		p := &Person{Gender: "other"}
		p.MergeMissing(nil)
		assert.Equal(t, "other", p.Gender)
		assert.Empty(t, p.ID)
	})
}
