package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Port != "8080" || c.Store.Kind != "memory" || c.Pickup.MaxServiceRadiusKm != 100 {
		t.Fatalf("unexpected defaults %#v", c)
	}
	if c.Route.Timeout != 10*time.Second || c.Route.Profile != "driving" || c.Evidence.Backend != "local" {
		t.Fatalf("unexpected route/evidence defaults %#v %#v", c.Route, c.Evidence)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collect.yaml")
	yml := `
port: "9090"
store:
  kind: sqlite
  sqlite_path: /var/lib/collect/collect.db
pickup:
  max_service_radius_km: 25
  candidate_limit: 10
route:
  profile: cycling
  timeout: 3s
evidence:
  backend: minio
  minio_endpoint: minio:9000
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("COLLECT_PORT", "7070")
	t.Setenv("COLLECT_ROUTE_TIMEOUT", "1.5")
	t.Setenv("COLLECT_MAPBOX_TOKEN", "pk.test")
	t.Setenv("COLLECT_MINIO_SECRET_KEY", "s3cr3t")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Port != "7070" {
		t.Fatalf("expected env to win for port, got %q", c.Port)
	}
	if c.Store.Kind != "sqlite" || c.Store.SQLitePath != "/var/lib/collect/collect.db" {
		t.Fatalf("unexpected store config %#v", c.Store)
	}
	if c.Pickup.MaxServiceRadiusKm != 25 || c.Pickup.CandidateLimit != 10 || c.Pickup.CreatesPerMinute != 10 {
		t.Fatalf("unexpected pickup config %#v", c.Pickup)
	}
	if c.Route.Profile != "cycling" || c.Route.Timeout != 1500*time.Millisecond || c.Route.MapboxToken != "pk.test" {
		t.Fatalf("unexpected route config %#v", c.Route)
	}
	if c.Evidence.Endpoint != "minio:9000" || c.Evidence.SecretKey != "s3cr3t" || c.Evidence.Bucket != "collect-evidence" {
		t.Fatalf("unexpected evidence config %#v", c.Evidence)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("COLLECT_STORE", "postgres")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "COLLECT_POSTGRES_DSN") {
		t.Fatalf("expected missing dsn error, got %v", err)
	}
	t.Setenv("COLLECT_STORE", "cassandra")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected unsupported store error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoaderDuration(t *testing.T) {
	t.Setenv("X_TIMEOUT", "250ms")
	t.Setenv("X_BAD", "soon")
	l := NewLoader("X")
	if got := l.Duration("TIMEOUT", time.Second); got != 250*time.Millisecond {
		t.Fatalf("unexpected duration %s", got)
	}
	if got := l.Duration("BAD", time.Second); got != time.Second {
		t.Fatalf("expected fallback, got %s", got)
	}
}
