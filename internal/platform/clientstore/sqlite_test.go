package clientstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:test-%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestSQLiteStoreRecordLifecycle(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLite(newTestSQLiteDB(t))
	if err != nil {
		t.Fatalf("NewSQLite error: %v", err)
	}

	if err := store.Put(ctx, RecordTokens, []byte(`{"access_token":"t"}`)); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	value, ok, err := store.Get(ctx, RecordTokens)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !ok || string(value) != `{"access_token":"t"}` {
		t.Fatalf("unexpected record: ok=%v value=%s", ok, value)
	}

	// Put overwrites in place.
	if err := store.Put(ctx, RecordTokens, []byte(`{"access_token":"t2"}`)); err != nil {
		t.Fatalf("Put overwrite error: %v", err)
	}
	value, _, err = store.Get(ctx, RecordTokens)
	if err != nil {
		t.Fatalf("Get after overwrite: %v", err)
	}
	if string(value) != `{"access_token":"t2"}` {
		t.Fatalf("expected overwritten value, got %s", value)
	}

	if err := store.Delete(ctx, RecordTokens); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, ok, _ := store.Get(ctx, RecordTokens); ok {
		t.Fatalf("expected record gone after delete")
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dsn := fmt.Sprintf("file:reopen-%d?mode=memory&cache=shared", time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store, err := NewSQLite(db)
	if err != nil {
		t.Fatalf("NewSQLite error: %v", err)
	}
	if err := store.Put(ctx, RecordDraft, []byte(`{"status":"drafting"}`)); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	// A second handle over the same shared-cache database simulates the
	// page-reload path: records must still be there.
	db2, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	store2, err := NewSQLite(db2)
	if err != nil {
		t.Fatalf("NewSQLite reopen error: %v", err)
	}

	value, ok, err := store2.Get(ctx, RecordDraft)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if !ok || string(value) != `{"status":"drafting"}` {
		t.Fatalf("expected persisted record, got ok=%v value=%s", ok, value)
	}
}
