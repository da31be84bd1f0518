package testutil

import (
	"context"
	"testing"
)

func TestStubUpsertReplacesRow(t *testing.T) {
	db, conn := NewStubDB()
	ctx := context.Background()
	for _, payload := range []string{"one", "two"} {
		if _, err := db.ExecContext(ctx, `INSERT INTO crm_state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, "deals", []byte(payload)); err != nil {
			t.Fatalf("exec: %v", err)
		}
	}
	got, ok := conn.Row("crm_state", "deals")
	if !ok || string(got) != "two" || len(conn.Tables["crm_state"]) != 1 {
		t.Fatalf("expected single replaced row, got %s (%d rows)", got, len(conn.Tables["crm_state"]))
	}
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM crm_state`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer func() { _ = rows.Close() }()
	count := 0
	for rows.Next() {
		count++
	}
	if count != 1 {
		t.Fatalf("expected one row, got %d", count)
	}
}
