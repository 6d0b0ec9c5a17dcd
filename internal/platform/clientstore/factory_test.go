package clientstore

import (
	"testing"
)

func TestFactorySelectsDrivers(t *testing.T) {
	store, err := New(Config{Driver: DriverMemory}, Dependencies{})
	if err != nil {
		t.Fatalf("memory driver: %v", err)
	}
	if store == nil {
		t.Fatalf("expected memory store")
	}

	store, err = New(Config{Driver: DriverSQLite}, Dependencies{SQLiteDB: newTestSQLiteDB(t)})
	if err != nil {
		t.Fatalf("sqlite driver: %v", err)
	}
	if store == nil {
		t.Fatalf("expected sqlite store")
	}

	if _, err := New(Config{Driver: DriverSQLite}, Dependencies{}); err == nil {
		t.Fatalf("sqlite without handle should fail")
	}

	if _, err := New(Config{Driver: "etcd"}, Dependencies{}); err == nil {
		t.Fatalf("unsupported driver should fail")
	}
}

func TestFactoryDefaultsToMemory(t *testing.T) {
	store, err := New(Config{}, Dependencies{})
	if err != nil {
		t.Fatalf("default driver: %v", err)
	}
	if store == nil {
		t.Fatalf("expected default store")
	}
}
