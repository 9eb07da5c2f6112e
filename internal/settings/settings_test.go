package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-myq/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-myq/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-myq/migrations"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

// testStoreContract runs the behaviour every backend must share.
func testStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok %v, err %v", ok, err)
	}

	if err := s.Set(ctx, "myq_token_state", `{"refreshToken":"r"}`); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	v, ok, err := s.Get(ctx, "myq_token_state")
	if err != nil || !ok || v != `{"refreshToken":"r"}` {
		t.Fatalf("Get() = %q, %v, %v", v, ok, err)
	}

	if err := s.Set(ctx, "myq_token_state", "second"); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}
	if v, _, _ := s.Get(ctx, "myq_token_state"); v != "second" {
		t.Errorf("Get() after overwrite = %q, want second", v)
	}

	// Empty values are distinct from missing keys.
	if err := s.Set(ctx, KeyError, ""); err != nil {
		t.Fatalf("Set(empty) error = %v", err)
	}
	if v, ok, _ := s.Get(ctx, KeyError); !ok || v != "" {
		t.Errorf("Get(empty) = %q, ok %v", v, ok)
	}

	if err := s.Unset(ctx, "myq_token_state"); err != nil {
		t.Fatalf("Unset() error = %v", err)
	}
	if _, ok, _ := s.Get(ctx, "myq_token_state"); ok {
		t.Error("key still present after Unset")
	}
	if err := s.Unset(ctx, "myq_token_state"); err != nil {
		t.Errorf("Unset(missing) error = %v", err)
	}

	if err := SetBool(ctx, s, KeyConfigured, true); err != nil {
		t.Fatalf("SetBool() error = %v", err)
	}
	if b, err := GetBool(ctx, s, KeyConfigured); err != nil || !b {
		t.Errorf("GetBool() = %v, %v", b, err)
	}
	if err := SetBool(ctx, s, KeyConfigured, false); err != nil {
		t.Fatalf("SetBool() error = %v", err)
	}
	if b, _ := GetBool(ctx, s, KeyConfigured); b {
		t.Error("GetBool() = true after SetBool(false)")
	}
}

func TestSQLiteStore(t *testing.T) {
	testStoreContract(t, NewSQLiteStore(openTestDB(t).DB))
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, NewMemoryStore())
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := t.TempDir() + "/settings.db"
	ctx := context.Background()

	open := func() *database.DB {
		db, err := database.Open(database.Config{Path: path, WALMode: true, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		return db
	}

	db := open()
	if err := NewSQLiteStore(db.DB).Set(ctx, "myq_account_id", "acc-1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	db.Close() //nolint:errcheck // Reopened below

	db = open()
	defer db.Close() //nolint:errcheck // Test cleanup
	v, ok, err := NewSQLiteStore(db.DB).Get(ctx, "myq_account_id")
	if err != nil || !ok || v != "acc-1" {
		t.Errorf("Get() after reopen = %q, %v, %v", v, ok, err)
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	tests := []struct {
		name    string
		cfg     config.StoreConfig
		db      *database.DB
		wantErr bool
	}{
		{"default is sqlite", config.StoreConfig{}, db, false},
		{"sqlite", config.StoreConfig{Backend: "sqlite"}, db, false},
		{"sqlite without db", config.StoreConfig{Backend: "sqlite"}, nil, true},
		{"memory", config.StoreConfig{Backend: "memory"}, nil, false},
		{"unknown", config.StoreConfig{Backend: "etcd"}, nil, true},
		{"redis unreachable", config.StoreConfig{Backend: "redis", Redis: config.RedisConfig{Addr: "127.0.0.1:1"}}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Store
			var err error
			if tt.db != nil {
				s, err = New(ctx, tt.cfg, tt.db.DB)
			} else {
				s, err = New(ctx, tt.cfg, nil)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if s != nil {
				s.Close() //nolint:errcheck // Test cleanup
			}
		})
	}

	if _, err := New(ctx, config.StoreConfig{Backend: "etcd"}, nil); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("New(etcd) error = %v, want ErrUnknownBackend", err)
	}
}
