package config

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func TestSQLiteStorage_SaveAndLoad(t *testing.T) {
	storage, err := NewSQLiteStorage(newTestDB(t))
	if err != nil {
		t.Fatalf("NewSQLiteStorage failed: %v", err)
	}

	cfg := map[string]string{
		"test_secret_key": "sk_test_123",
		"webhook_secret":  "whsec_456",
	}

	if err := storage.SaveProviderConfig("stripe", cfg); err != nil {
		t.Fatalf("SaveProviderConfig failed: %v", err)
	}

	loaded, err := storage.LoadProviderConfig("stripe")
	if err != nil {
		t.Fatalf("LoadProviderConfig failed: %v", err)
	}

	if loaded["test_secret_key"] != "sk_test_123" {
		t.Errorf("Expected sk_test_123, got %s", loaded["test_secret_key"])
	}
	if loaded["webhook_secret"] != "whsec_456" {
		t.Errorf("Expected whsec_456, got %s", loaded["webhook_secret"])
	}
}

func TestSQLiteStorage_Upsert(t *testing.T) {
	storage, err := NewSQLiteStorage(newTestDB(t))
	if err != nil {
		t.Fatalf("NewSQLiteStorage failed: %v", err)
	}

	storage.SaveProviderConfig("paypal", map[string]string{"client_id": "old"})
	storage.SaveProviderConfig("paypal", map[string]string{"client_id": "new"})

	loaded, err := storage.LoadProviderConfig("paypal")
	if err != nil {
		t.Fatalf("LoadProviderConfig failed: %v", err)
	}

	if loaded["client_id"] != "new" {
		t.Errorf("Expected upsert to replace value, got %s", loaded["client_id"])
	}
}

func TestSQLiteStorage_LoadAll(t *testing.T) {
	storage, err := NewSQLiteStorage(newTestDB(t))
	if err != nil {
		t.Fatalf("NewSQLiteStorage failed: %v", err)
	}

	storage.SaveProviderConfig("stripe", map[string]string{"a": "1"})
	storage.SaveProviderConfig("paypal", map[string]string{"b": "2"})

	all, err := storage.LoadAllProviderConfigs()
	if err != nil {
		t.Fatalf("LoadAllProviderConfigs failed: %v", err)
	}

	if len(all) != 2 {
		t.Errorf("Expected 2 configs, got %d", len(all))
	}
	if all["stripe"]["a"] != "1" {
		t.Error("stripe config missing or wrong")
	}
	if all["paypal"]["b"] != "2" {
		t.Error("paypal config missing or wrong")
	}
}

func TestSQLiteStorage_Delete(t *testing.T) {
	storage, err := NewSQLiteStorage(newTestDB(t))
	if err != nil {
		t.Fatalf("NewSQLiteStorage failed: %v", err)
	}

	storage.SaveProviderConfig("stripe", map[string]string{"k": "v"})

	if err := storage.DeleteProviderConfig("stripe"); err != nil {
		t.Fatalf("DeleteProviderConfig failed: %v", err)
	}

	if _, err := storage.LoadProviderConfig("stripe"); err == nil {
		t.Error("Expected error after delete")
	}

	// Deleting again reports not found
	if err := storage.DeleteProviderConfig("stripe"); err == nil {
		t.Error("Expected error deleting missing config")
	}
}

func TestSQLiteStorage_Stats(t *testing.T) {
	storage, err := NewSQLiteStorage(newTestDB(t))
	if err != nil {
		t.Fatalf("NewSQLiteStorage failed: %v", err)
	}

	storage.SaveProviderConfig("stripe", map[string]string{"k": "v"})
	storage.SaveProviderConfig("paypal", map[string]string{"k": "v"})

	stats, err := storage.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}

	if stats["total_configs"] != 2 {
		t.Errorf("Expected 2 total configs, got %v", stats["total_configs"])
	}
}

func TestProviderConfig_WithStorage(t *testing.T) {
	db := newTestDB(t)

	storage, err := NewSQLiteStorage(db)
	if err != nil {
		t.Fatalf("NewSQLiteStorage failed: %v", err)
	}

	pc, err := NewProviderConfigWithStorage(storage)
	if err != nil {
		t.Fatalf("NewProviderConfigWithStorage failed: %v", err)
	}

	if err := pc.SetConfig("stripe", map[string]string{"test_secret_key": "sk"}); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}

	// A fresh instance on the same storage sees the persisted bag
	pc2, err := NewProviderConfigWithStorage(storage)
	if err != nil {
		t.Fatalf("NewProviderConfigWithStorage failed: %v", err)
	}

	got, err := pc2.GetConfig("stripe")
	if err != nil {
		t.Fatalf("GetConfig on fresh instance failed: %v", err)
	}
	if got["test_secret_key"] != "sk" {
		t.Errorf("Expected persisted value, got %s", got["test_secret_key"])
	}
}

func TestNewSQLiteStorage_NilDB(t *testing.T) {
	_, err := NewSQLiteStorage(nil)
	if err == nil {
		t.Fatal(errors.New("expected error for nil database"))
	}
}
