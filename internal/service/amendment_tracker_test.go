package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/casebook-api/internal/models"
	appErrors "github.com/noah-isme/casebook-api/pkg/errors"
)

func newAmendTracker() *AmendmentTracker {
	return NewAmendmentTracker(grants(models.RoleSales, models.ActionAmendCase), newTestTrail(nil), nil)
}

func TestAmendClassifiesChanges(t *testing.T) {
	c := bookedCase()
	record, err := newAmendTracker().Amend(c, map[string]string{
		models.FieldSurgeon:             "Dr. Lim",
		models.FieldHospital:            "General Hospital",
		models.FieldProcedureType:       "",
		models.FieldSpecialInstructions: "Bring spare kit",
	}, "surgeon swap", testActor(models.RoleSales))
	require.NoError(t, err)

	require.Len(t, record.Changes, 3)
	assert.Equal(t, models.FieldChange{Field: models.FieldSurgeon, OldValue: "Dr. Tan", NewValue: "Dr. Lim", Kind: models.FieldChangeModification}, record.Changes[0])
	assert.Equal(t, models.FieldChangeRemoval, record.Changes[1].Kind)
	assert.Equal(t, models.FieldProcedureType, record.Changes[1].Field)
	assert.Equal(t, models.FieldChangeAddition, record.Changes[2].Kind)

	assert.Equal(t, "Dr. Lim", c.Surgeon)
	assert.Equal(t, "", c.ProcedureType)
	assert.True(t, c.IsAmended)
	require.NotNil(t, c.AmendedBy)
	assert.Equal(t, "user-sales", *c.AmendedBy)
	assert.Equal(t, "surgeon swap", record.Reason)
}

func TestAmendIdenticalValuesStillRecords(t *testing.T) {
	c := bookedCase()
	record, err := newAmendTracker().Amend(c, map[string]string{models.FieldSurgeon: "Dr. Tan"}, "confirm details", testActor(models.RoleSales))
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Empty(t, record.Changes)
	assert.True(t, c.IsAmended)
	require.NotNil(t, c.AmendedAt)
	assert.Equal(t, fixedNow, *c.AmendedAt)
}

func TestAmendRejectsReadOnlyChange(t *testing.T) {
	c := bookedCase()
	_, err := newAmendTracker().Amend(c, map[string]string{
		models.FieldSurgeon:    "Dr. Lim",
		models.FieldDepartment: "Spine",
	}, "move", testActor(models.RoleSales))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Equal(t, "Dr. Tan", c.Surgeon)
	assert.False(t, c.IsAmended)
}

func TestAmendAllowsEchoedReadOnlyField(t *testing.T) {
	c := bookedCase()
	record, err := newAmendTracker().Amend(c, map[string]string{
		models.FieldCountry: "SG",
		models.FieldSurgeon: "Dr. Lim",
	}, "fix", testActor(models.RoleSales))
	require.NoError(t, err)
	assert.Len(t, record.Changes, 1)
}

func TestAmendRejectsUnknownField(t *testing.T) {
	_, err := newAmendTracker().Amend(bookedCase(), map[string]string{"billingCode": "X"}, "fix", testActor(models.RoleSales))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestAmendRequiresPermission(t *testing.T) {
	c := bookedCase()
	_, err := newAmendTracker().Amend(c, map[string]string{models.FieldSurgeon: "Dr. Lim"}, "fix", testActor(models.RoleDriver))
	assert.True(t, errors.Is(err, appErrors.ErrAuthorizationDenied))
	assert.Equal(t, "Dr. Tan", c.Surgeon)
}

func TestAmendRejectsLockedStatus(t *testing.T) {
	c := bookedCase()
	c.Status = models.StatusToBeBilled
	_, err := newAmendTracker().Amend(c, map[string]string{models.FieldSurgeon: "Dr. Lim"}, "late fix", testActor(models.RoleSales))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.False(t, c.IsAmended)
}

func TestAmendRequiresReason(t *testing.T) {
	_, err := newAmendTracker().Amend(bookedCase(), map[string]string{models.FieldSurgeon: "Dr. Lim"}, "  ", testActor(models.RoleSales))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestDiffFollowsCanonicalOrder(t *testing.T) {
	c := bookedCase()
	changes := Diff(c, map[string]string{
		models.FieldSpecialInstructions: "x",
		models.FieldSurgeryTime:         "08:00",
		models.FieldHospital:            "City",
	})
	require.Len(t, changes, 3)
	assert.Equal(t, []string{models.FieldHospital, models.FieldSurgeryTime, models.FieldSpecialInstructions},
		[]string{changes[0].Field, changes[1].Field, changes[2].Field})
}
