package validate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/docmint/docmint/pkg/docgen/core/model"
	"github.com/docmint/docmint/pkg/docgen/validate"
)

func TestFieldPresent(t *testing.T) {
	row := model.DataRow{"name": "Ada", "amount": 0, "note": "", "gone": nil}

	assert.True(t, validate.FieldPresent(row, "name"))
	// Zero and empty string still count as present.
	assert.True(t, validate.FieldPresent(row, "amount"))
	assert.True(t, validate.FieldPresent(row, "note"))
	// A nil value and an absent key do not.
	assert.False(t, validate.FieldPresent(row, "gone"))
	assert.False(t, validate.FieldPresent(row, "missing"))
}

func TestFieldPresent_NormalizesLookup(t *testing.T) {
	row := model.DataRow{"first name": "Ada"}

	assert.True(t, validate.FieldPresent(row, "  First   Name "))
}

func TestValidate_PartitionsRowsWithStableNumbering(t *testing.T) {
	rows := []model.DataRow{
		{"name": "Ada", "email": "ada@example.com"},
		{"name": "Grace"},
		{"name": "Edsger", "email": "ewd@example.com"},
	}

	valid, invalid := validate.Validate(rows, []string{"name", "email"})

	assert.Len(t, valid, 2)
	assert.Equal(t, 1, valid[0].RowNumber)
	assert.Equal(t, 3, valid[1].RowNumber)

	assert.Len(t, invalid, 1)
	assert.Equal(t, 2, invalid[0].RowNumber)
	assert.Equal(t, []string{"email"}, invalid[0].MissingFields)
	assert.Equal(t, "missing fields: email", invalid[0].Reason())
}

func TestValidate_NoRequiredFieldsAcceptsEverything(t *testing.T) {
	rows := []model.DataRow{{"a": 1}, {}}

	valid, invalid := validate.Validate(rows, nil)

	assert.Len(t, valid, 2)
	assert.Empty(t, invalid)
}

func TestValidate_AllRowsInvalid(t *testing.T) {
	rows := []model.DataRow{{"x": 1}, {"y": 2}}

	valid, invalid := validate.Validate(rows, []string{"name", "email"})

	assert.Empty(t, valid)
	assert.Len(t, invalid, 2)
	assert.Equal(t, "missing fields: name, email", invalid[0].Reason())
}
