package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/artpar/modelapi/config"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
server:
  host: "127.0.0.1"
  port: 9090
  router: gin
  public_url: "https://api.example.com"
  read_timeout: 15s

database:
  driver: "sqlite"
  dsn: ":memory:"
  auto_create_tables: false

models:
  dir: "./schemas"

resources:
  - model: products
    prefix: /catalog/products
  - model: categories

serializer:
  max_depth: 3

logging:
  level: debug
  format: console
`

	cfg := writeAndLoad(t, content)

	if cfg.Server.Addr() != "127.0.0.1:9090" {
		t.Errorf("Addr() = %s, want 127.0.0.1:9090", cfg.Server.Addr())
	}
	if cfg.Server.Router != "gin" {
		t.Errorf("Router = %s, want gin", cfg.Server.Router)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.PublicURL != "https://api.example.com" {
		t.Errorf("PublicURL = %s", cfg.Server.PublicURL)
	}
	if cfg.Database.AutoCreateTables {
		t.Error("AutoCreateTables = true, want false")
	}
	if cfg.Models.Dir != "./schemas" {
		t.Errorf("Models.Dir = %s, want ./schemas", cfg.Models.Dir)
	}
	if len(cfg.Resources) != 2 {
		t.Fatalf("len(Resources) = %d, want 2", len(cfg.Resources))
	}
	if cfg.Resources[0].Prefix != "/catalog/products" || cfg.Resources[1].Prefix != "" {
		t.Errorf("Resources = %+v", cfg.Resources)
	}
	if cfg.Serializer.MaxDepth != 3 {
		t.Errorf("MaxDepth = %d, want 3", cfg.Serializer.MaxDepth)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("Logging.Format = %s, want console", cfg.Logging.Format)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := writeAndLoad(t, "{}\n")

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Host = %s, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Router != "chi" {
		t.Errorf("default Router = %s, want chi", cfg.Server.Router)
	}
	if cfg.Server.MaxBodyBytes != 1<<20 {
		t.Errorf("default MaxBodyBytes = %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN != "modelapi.db" {
		t.Errorf("default Database = %+v", cfg.Database)
	}
	if !cfg.Database.AutoCreateTables {
		t.Error("default AutoCreateTables = false, want true")
	}
	if cfg.Models.Dir != "models" {
		t.Errorf("default Models.Dir = %s, want models", cfg.Models.Dir)
	}
	if cfg.Serializer.MaxDepth != 2 {
		t.Errorf("default MaxDepth = %d, want 2", cfg.Serializer.MaxDepth)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("default Metrics = %+v", cfg.Metrics)
	}
	if !cfg.OpenAPI.Enabled {
		t.Error("default OpenAPI.Enabled = false, want true")
	}
	if cfg.Tracing.Enabled {
		t.Error("default Tracing.Enabled = true, want false")
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("TEST_PG_DSN", "postgres://app@db/shop")

	cfg := writeAndLoad(t, `
database:
  driver: postgres
  dsn: "${TEST_PG_DSN}"
`)

	if cfg.Database.DSN != "postgres://app@db/shop" {
		t.Errorf("DSN = %s", cfg.Database.DSN)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MODELAPI_SERVER_PORT", "7070")
	t.Setenv("MODELAPI_SERVER_ROUTER", "gin")
	t.Setenv("MODELAPI_DATABASE_DRIVER", "memory")
	t.Setenv("MODELAPI_AUTO_CREATE_TABLES", "no")
	t.Setenv("MODELAPI_MAX_DEPTH", "4")
	t.Setenv("MODELAPI_METRICS_ENABLED", "false")
	t.Setenv("MODELAPI_TRACING_ENABLED", "on")

	cfg := writeAndLoad(t, `
server:
  port: 9090
database:
  driver: sqlite
`)

	if cfg.Server.Port != 7070 {
		t.Errorf("Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Server.Router != "gin" {
		t.Errorf("Router = %s, want gin", cfg.Server.Router)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("Driver = %s, want memory", cfg.Database.Driver)
	}
	if cfg.Database.AutoCreateTables {
		t.Error("AutoCreateTables = true, want false")
	}
	if cfg.Serializer.MaxDepth != 4 {
		t.Errorf("MaxDepth = %d, want 4", cfg.Serializer.MaxDepth)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = true, want false")
	}
	if !cfg.Tracing.Enabled {
		t.Error("Tracing.Enabled = false, want true")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr []string
	}{
		{
			name:    "unknown router",
			content: "server:\n  router: echo\n",
			wantErr: []string{"server.router"},
		},
		{
			name:    "unknown driver",
			content: "database:\n  driver: mysql\n",
			wantErr: []string{"database.driver"},
		},
		{
			name:    "postgres without dsn",
			content: "database:\n  driver: postgres\n",
			wantErr: []string{"database.dsn is required"},
		},
		{
			name:    "bad log format",
			content: "logging:\n  format: xml\n",
			wantErr: []string{"logging.format"},
		},
		{
			name: "resource problems reported together",
			content: `
resources:
  - prefix: /a/
  - model: products
    prefix: /shop
  - model: categories
    prefix: /shop/
`,
			wantErr: []string{"resources[0].model is required", `resources[2].prefix "/shop/" already used by products`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.content)
			_, err := config.Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %q", err, want)
				}
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	if _, err := config.Load(writeFile(t, "server: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadWithFallback(t *testing.T) {
	t.Setenv("MODELAPI_DATABASE_DRIVER", "memory")

	cfg, err := config.LoadWithFallback(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadWithFallback() error = %v", err)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("Driver = %s, want memory", cfg.Database.Driver)
	}

	path := writeFile(t, "server:\n  port: 9191\n")
	cfg, err = config.LoadWithFallback(path)
	if err != nil {
		t.Fatalf("LoadWithFallback() error = %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("Port = %d, want 9191", cfg.Server.Port)
	}
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr() = %s", cfg.Server.Addr())
	}
	if !cfg.Metrics.Enabled || !cfg.OpenAPI.Enabled {
		t.Errorf("Default() switches = %+v %+v", cfg.Metrics, cfg.OpenAPI)
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func writeAndLoad(t *testing.T, content string) *config.Config {
	t.Helper()
	cfg, err := config.Load(writeFile(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}
