package mariadb

import (
	"testing"

	"github.com/kozaktomas/face-attendance/internal/database"
)

func TestRoleFilter(t *testing.T) {
	cond, args := roleFilter(nil)
	if cond != "" || args != nil {
		t.Errorf("expected no condition for empty roles, got %q %v", cond, args)
	}

	cond, args = roleFilter([]database.Role{database.RoleStudent, database.RoleFaculty})
	if cond != " AND role IN (?, ?)" {
		t.Errorf("unexpected condition %q", cond)
	}
	if len(args) != 2 || args[0] != "student" || args[1] != "faculty" {
		t.Errorf("unexpected args %v", args)
	}
}

func TestSubjectsJSON(t *testing.T) {
	got, err := subjectsJSON(nil)
	if err != nil {
		t.Fatalf("subjectsJSON failed: %v", err)
	}
	if got != "[]" {
		t.Errorf("expected [], got %s", got)
	}

	got, err = subjectsJSON([]string{"ML", "TOC"})
	if err != nil {
		t.Fatalf("subjectsJSON failed: %v", err)
	}
	if got != `["ML","TOC"]` {
		t.Errorf("unexpected JSON %s", got)
	}
}
