package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

func TestTurnRecord_Fields(t *testing.T) {
	typ := reflect.TypeOf(TurnRecord{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "TurnID", "index")
	assertGormTag(t, typ, "EventID", "index")
	assertGormTag(t, typ, "GuildID", "index")
	assertGormTag(t, typ, "Response", "type:text")
	assertGormTag(t, typ, "Status", "default:completed")

	f, _ := typ.FieldByName("CompletedAt")
	if f.Type.String() != "*time.Time" {
		t.Errorf("CompletedAt type = %s, want *time.Time", f.Type)
	}
}

func TestFollowUpRecord_Fields(t *testing.T) {
	typ := reflect.TypeOf(FollowUpRecord{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "EventID", "index")
	assertGormTag(t, typ, "Approved", "index")
	assertGormTag(t, typ, "Reason", "type:text")

	f, _ := typ.FieldByName("ResolvedAt")
	if f.Type.String() != "*time.Time" {
		t.Errorf("ResolvedAt type = %s, want *time.Time", f.Type)
	}
}
