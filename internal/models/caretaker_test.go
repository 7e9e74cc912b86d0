package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestCaretaker_ToAssignment(t *testing.T) {
	var nilCaretaker *Caretaker
	assert.Nil(t, nilCaretaker.ToAssignment())

	c := &Caretaker{CaretakerID: "c1", Name: "Ann", AssignedElderly: []string{"D1", "", "D2", "D1"}}
	a := c.ToAssignment()
	assert.Equal(t, "c1", a.ID)
	assert.Equal(t, []string{"D1", "D2"}, a.DeviceIDs)
}

func TestSameDevices(t *testing.T) {
	assert.True(t, SameDevices([]string{"D1", "D2"}, []string{"D2", "D1"}))
	assert.False(t, SameDevices([]string{"D1", "D2"}, []string{"D1"}))
	assert.True(t, SameDevices(nil, []string{}))
}

func TestElderlyUpdate_ToInput(t *testing.T) {
	u := ElderlyUpdate{ElderlyID: "e1", Name: strPtr("Bob"), MedicalNotes: strPtr("")}
	input := u.ToInput()

	assert.Equal(t, "e1", input["elderlyID"])
	assert.Equal(t, "Bob", input["name"])
	// 显式清空与未提供是两回事
	assert.Contains(t, input, "medicalNotes")
	assert.NotContains(t, input, "deviceId")
	assert.NotContains(t, input, "age")
}

func TestElderlyUpdate_ApplyTo(t *testing.T) {
	e := &Elderly{ElderlyID: "e1", Name: "Bob", DeviceID: "D1", Age: 80, FamilyMemberEmail: "x@example.com"}
	age := 81
	ElderlyUpdate{ElderlyID: "e1", Age: &age, FamilyMemberName: strPtr("Carol")}.ApplyTo(e)

	assert.Equal(t, 81, e.Age)
	assert.Equal(t, "Carol", e.FamilyMemberName)
	assert.Equal(t, "Bob", e.Name)
	assert.Equal(t, "D1", e.DeviceID)
	assert.Equal(t, "x@example.com", e.FamilyMemberEmail)
}

func TestElderlyUpdate_Validate(t *testing.T) {
	assert.Error(t, ElderlyUpdate{Name: strPtr("Bob")}.Validate())
	assert.Error(t, ElderlyUpdate{ElderlyID: "e1"}.Validate())
	assert.Error(t, ElderlyUpdate{ElderlyID: "e1", Name: strPtr("  ")}.Validate())
	assert.Error(t, ElderlyUpdate{ElderlyID: "e1", FamilyMemberEmail: strPtr("not-an-email")}.Validate())
	assert.NoError(t, ElderlyUpdate{ElderlyID: "e1", FamilyMemberEmail: strPtr("a@b.org")}.Validate())
}

func TestAssignmentUpdate_Validate(t *testing.T) {
	assert.Error(t, AssignmentUpdate{DeviceIDs: []string{"D1"}}.Validate())
	assert.Error(t, AssignmentUpdate{CaretakerID: "c1", DeviceIDs: []string{"D1", "D1"}}.Validate())
	assert.NoError(t, AssignmentUpdate{CaretakerID: "c1", DeviceIDs: nil}.Validate())
}
