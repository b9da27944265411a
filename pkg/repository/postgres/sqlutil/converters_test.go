package sqlutil_test

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/workflowdev/workflowd/pkg/repository/postgres/sqlutil"
)

func TestToNullString(t *testing.T) {
	if got := sqlutil.ToNullString(nil); got.Valid {
		t.Fatalf("expected Valid=false for nil pointer")
	}
	empty := ""
	if got := sqlutil.ToNullString(&empty); got.Valid {
		t.Fatalf("expected Valid=false for empty string")
	}
	val := "test value"
	got := sqlutil.ToNullString(&val)
	if !got.Valid || got.String != "test value" {
		t.Fatalf("got %+v, want Valid=true String=test value", got)
	}
}

func TestToNullStringValue(t *testing.T) {
	if got := sqlutil.ToNullStringValue(""); got.Valid {
		t.Fatalf("expected Valid=false for empty string")
	}
	got := sqlutil.ToNullStringValue("test value")
	if !got.Valid || got.String != "test value" {
		t.Fatalf("got %+v", got)
	}
}

func TestToNullUUID(t *testing.T) {
	if got := sqlutil.ToNullUUID(nil); got.Valid {
		t.Fatalf("expected Valid=false for nil pointer")
	}
	id := uuid.New()
	got := sqlutil.ToNullUUID(&id)
	if !got.Valid || got.String != id.String() {
		t.Fatalf("got %+v, want %s", got, id.String())
	}
}

func TestToNullTime(t *testing.T) {
	if got := sqlutil.ToNullTime(nil); got.Valid {
		t.Fatalf("expected Valid=false for nil pointer")
	}
	now := time.Now()
	got := sqlutil.ToNullTime(&now)
	if !got.Valid || !got.Time.Equal(now) {
		t.Fatalf("got %+v, want %v", got, now)
	}
}

func TestToNullInt64(t *testing.T) {
	if got := sqlutil.ToNullInt64(nil); got.Valid {
		t.Fatalf("expected Valid=false for nil pointer")
	}
	zero := int64(0)
	got := sqlutil.ToNullInt64(&zero)
	if !got.Valid || got.Int64 != 0 {
		t.Fatalf("zero value should stay Valid=true, got %+v", got)
	}
	v := int64(1500)
	got = sqlutil.ToNullInt64(&v)
	if !got.Valid || got.Int64 != 1500 {
		t.Fatalf("got %+v", got)
	}
}

func TestRoundTrip(t *testing.T) {
	original := "test value"
	if got := sqlutil.FromNullString(sqlutil.ToNullString(&original)); got == nil || *got != original {
		t.Fatalf("round trip failed: %v", got)
	}
	if got := sqlutil.FromNullString(sqlutil.ToNullString(nil)); got != nil {
		t.Fatalf("expected nil round trip, got %v", got)
	}

	now := time.Now()
	if got := sqlutil.FromNullTime(sqlutil.ToNullTime(&now)); got == nil || !got.Equal(now) {
		t.Fatalf("time round trip failed: %v", got)
	}

	v := int64(1500)
	if got := sqlutil.FromNullInt64(sqlutil.ToNullInt64(&v)); got == nil || *got != v {
		t.Fatalf("int64 round trip failed: %v", got)
	}

	var nullStr sql.NullString
	if got := sqlutil.FromNullString(nullStr); got != nil {
		t.Fatalf("expected nil for invalid NullString, got %v", got)
	}
}
