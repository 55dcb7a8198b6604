package provider

import (
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/clerk-agent/clerk/internal/mcp"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func networkProvider(name string) *Provider {
	return &Provider{
		Name:      name,
		Transport: mcp.TransportNetwork,
		Endpoint:  "http://" + name + ".local/mcp",
		Headers:   map[string]string{"Authorization": "Bearer t"},
		Active:    true,
	}
}

func TestCreateAndGet(t *testing.T) {
	store := setupTestStore(t)

	created, err := store.Create(networkProvider("odoo"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("ID not assigned")
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}

	got, err := store.Get(created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "odoo" || got.Endpoint != "http://odoo.local/mcp" {
		t.Errorf("got = %+v", got)
	}
	if got.Headers["Authorization"] != "Bearer t" {
		t.Errorf("headers = %v", got.Headers)
	}
	if !got.Active {
		t.Error("active flag lost")
	}
}

func TestCreateValidation(t *testing.T) {
	store := setupTestStore(t)

	tests := []struct {
		name  string
		p     *Provider
		field string
	}{
		{
			name:  "missing name",
			p:     &Provider{Transport: mcp.TransportNetwork, Endpoint: "http://x"},
			field: "name",
		},
		{
			name:  "network without endpoint",
			p:     &Provider{Name: "a", Transport: mcp.TransportNetwork},
			field: "endpoint",
		},
		{
			name:  "subprocess without command",
			p:     &Provider{Name: "b", Transport: mcp.TransportSubprocess},
			field: "command",
		},
		{
			name:  "bogus transport",
			p:     &Provider{Name: "c", Transport: "telepathy", Endpoint: "http://x"},
			field: "transport",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Create(tt.p)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}

	// Nothing was stored.
	providers, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(providers) != 0 {
		t.Errorf("rejected rows reached storage: %+v", providers)
	}
}

func TestUpdate(t *testing.T) {
	store := setupTestStore(t)

	p, err := store.Create(&Provider{
		Name:      "local",
		Transport: mcp.TransportSubprocess,
		Command:   "records-server",
		Args:      []string{"--db", "prod"},
		Active:    true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	p.Args = []string{"--db", "staging"}
	p.Active = false
	if _, err := store.Update(p); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.Get(p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Args) != 2 || got.Args[1] != "staging" {
		t.Errorf("args = %v", got.Args)
	}
	if got.Active {
		t.Error("active flag not updated")
	}
	if !got.UpdatedAt.After(got.CreatedAt) && !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Errorf("updated_at = %v before created_at %v", got.UpdatedAt, got.CreatedAt)
	}
}

func TestUpdateMissing(t *testing.T) {
	store := setupTestStore(t)

	p := networkProvider("ghost")
	p.ID = "no-such-id"
	if _, err := store.Update(p); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	store := setupTestStore(t)

	p, _ := store.Create(networkProvider("tmp"))
	if err := store.Delete(p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestActiveProjection(t *testing.T) {
	store := setupTestStore(t)

	store.Create(networkProvider("first"))
	off := networkProvider("second")
	off.Active = false
	store.Create(off)
	store.Create(&Provider{
		Name:      "third",
		Transport: mcp.TransportSubprocess,
		Command:   "srv",
		Active:    true,
	})

	configs, err := store.Active()
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("got %d configs, want 2", len(configs))
	}
	if configs[0].Name != "first" || configs[1].Name != "third" {
		t.Errorf("configs = %+v", configs)
	}
	if configs[1].Transport != mcp.TransportSubprocess || configs[1].Command != "srv" {
		t.Errorf("subprocess config = %+v", configs[1])
	}
}

func TestSetActive(t *testing.T) {
	store := setupTestStore(t)

	p, _ := store.Create(networkProvider("toggler"))
	if err := store.SetActive(p.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	got, _ := store.Get(p.ID)
	if got.Active {
		t.Error("provider still active")
	}

	if err := store.SetActive("missing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
