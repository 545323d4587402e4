package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy_Appointments(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleAdmin, ActionCreate, true},
		{RoleAdmin, ActionRead, true},
		{RoleAdmin, ActionUpdate, true},
		{RoleAdmin, ActionDelete, true},
		{RoleDoctor, ActionCreate, true},
		{RoleDoctor, ActionRead, true},
		{RoleDoctor, ActionUpdate, true},
		{RoleDoctor, ActionDelete, false},
		{RoleNurse, ActionCreate, false},
		{RoleNurse, ActionRead, true},
		{RoleNurse, ActionUpdate, true},
		{RoleNurse, ActionDelete, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+"_"+string(tt.action), func(t *testing.T) {
			assert.Equal(t, tt.want, p.Authorize(tt.role, tt.action))
		})
	}
}

func TestPolicy_FailsClosed(t *testing.T) {
	p := DefaultPolicy()

	assert.False(t, p.Authorize("RECEPTIONIST", ActionRead))
	assert.False(t, p.Authorize("", ActionRead))
	assert.False(t, p.Authorize(RoleAdmin, "print"))
	assert.False(t, p.Allows(RoleAdmin, "bills", ActionRead))
	assert.False(t, p.Allows(RoleDoctor, ResourceAudit, ActionRead))

	var zero Policy
	assert.False(t, zero.Authorize(RoleAdmin, ActionRead))

	var nilPolicy *Policy
	assert.False(t, nilPolicy.Authorize(RoleAdmin, ActionRead))
}

func TestPolicy_GrantRevoke(t *testing.T) {
	p := DefaultPolicy()

	p.Grant(RoleNurse, ResourceAppointments, ActionCreate)
	assert.True(t, p.Authorize(RoleNurse, ActionCreate))

	p.Revoke(RoleDoctor, ResourceAppointments, ActionUpdate)
	assert.False(t, p.Authorize(RoleDoctor, ActionUpdate))

	// revoking something never granted is a no-op
	p.Revoke("GHOST", ResourceAudit, ActionRead)

	var empty Policy
	empty.Grant(RoleDoctor, ResourceAudit, ActionRead)
	assert.True(t, empty.Allows(RoleDoctor, ResourceAudit, ActionRead))
}

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]string{"nurse:appointments:create", " DOCTOR:Audit:READ ", ""})
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, Rule{RoleNurse, ResourceAppointments, ActionCreate}, rules[0])
	assert.Equal(t, "DOCTOR:audit:read", rules[1].String())

	for _, bad := range []string{"NURSE:appointments", "JANITOR:appointments:read", "NURSE:bills:read", "NURSE:appointments:print"} {
		_, err := ParseRules([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestPolicy_Apply(t *testing.T) {
	p := DefaultPolicy()
	p.Apply(
		[]Rule{{RoleNurse, ResourceAppointments, ActionCreate}},
		[]Rule{{RoleAdmin, ResourceAppointments, ActionDelete}},
	)

	assert.True(t, p.Authorize(RoleNurse, ActionCreate))
	assert.False(t, p.Authorize(RoleAdmin, ActionDelete))
}
