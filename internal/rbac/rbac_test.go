package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleAdmin, ActionManage, true},
		{RoleAdmin, ActionRead, true},
		{RoleStaff, ActionWrite, true},
		{RoleStaff, ActionManage, false},
		{RoleResident, ActionRead, true},
		{RoleResident, ActionMessage, true},
		{RoleResident, ActionWrite, false},
		{Role("ghost"), ActionRead, false},
	}
	for _, tc := range cases {
		if got := Can(tc.role, tc.action); got != tc.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("admin") != RoleAdmin {
		t.Errorf("admin should normalize to admin")
	}
	if Normalize("") != RoleResident {
		t.Errorf("unknown role should normalize to resident")
	}
}

func TestIsAdmin(t *testing.T) {
	if !IsAdmin("admin") || !IsAdmin("staff") {
		t.Errorf("admin and staff get the admin messaging view")
	}
	if IsAdmin("resident") || IsAdmin("") {
		t.Errorf("residents do not get the admin messaging view")
	}
}
