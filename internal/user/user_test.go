// internal/user/user_test.go
package user

import (
	"testing"

	"github.com/strandweb/strand/internal/entity"
)

func TestIsBlocked(t *testing.T) {
	if (&User{Status: StatusNormal}).IsBlocked() {
		t.Fatal("normal account reported blocked")
	}
	if !(&User{Status: StatusDisabled}).IsBlocked() {
		t.Fatal("disabled account not reported blocked")
	}
}

func TestPasswordMatches(t *testing.T) {
	u := &User{Pwd: "AbC123"}
	if !u.PasswordMatches("abc123") {
		t.Fatal("hash comparison must be case-insensitive")
	}
	if u.PasswordMatches("") {
		t.Fatal("empty hash must never match")
	}
	if u.PasswordMatches("other") {
		t.Fatal("mismatched hash accepted")
	}
}

func TestMeta_FieldSparseness(t *testing.T) {
	// Empty string fields report absent so writes skip their columns.
	u := &User{Name: "dev"}
	present := map[string]bool{}
	for _, f := range Meta.Fields {
		if f.Get(u) != nil {
			present[f.Name] = true
		}
	}
	if !present["name"] {
		t.Fatal("populated name reported absent")
	}
	if present["email"] || present["pwd"] || present["ident"] {
		t.Fatalf("empty fields reported present: %v", present)
	}
	// Numeric zero-valued score is always written; it is a real value.
	if !present["score"] {
		t.Fatal("score must always be writable")
	}
}

func TestMeta_SettersPatchRecord(t *testing.T) {
	u := &User{}
	Meta.Fields[1].Set(u, "dev") // name
	var score *entity.Field
	for i := range Meta.Fields {
		if Meta.Fields[i].Name == "score" {
			score = &Meta.Fields[i]
		}
	}
	score.Set(u, int64(42))
	if u.Name != "dev" || u.Score != 42 {
		t.Fatalf("setters did not patch: %+v", u)
	}
}

func TestSame(t *testing.T) {
	a := &User{Id: 7}
	b := &User{Id: 7}
	c := &User{Id: 8}
	if !entity.Same(a, b) {
		t.Fatal("same type and id not equal")
	}
	if entity.Same(a, c) {
		t.Fatal("different ids equal")
	}
}
