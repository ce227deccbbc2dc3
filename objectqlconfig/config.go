// Package objectqlconfig loads the Runtime configuration:
// datasources, inline object definitions, remote federation targets, and
// the UPLOAD_DIR/BASE_URL attachment overrides. Grounded on
// env-var helpers (system/framework/core/env.go's EnvDefault/EnvInt,
// infrastructure/config/loader.go's SplitAndTrimCSV), dropping the
// Marble/TEE secret-sourcing half of loader.go's EnvOrSecret — ObjectQL
// has no enclave concept, so plain environment variables are the only
// configuration source this package recognizes.
package objectqlconfig

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/objectql-dev/objectql/metadata"
)

// DatasourceKind is the closed set of driver kinds a DatasourceConfig may
// select.
type DatasourceKind string

const (
	DatasourceMemory   DatasourceKind = "memory"
	DatasourcePostgres DatasourceKind = "postgres"
	DatasourceRedis    DatasourceKind = "redis"
)

// DatasourceConfig is one entry of the Runtime config's datasources map.
type DatasourceConfig struct {
	Kind     DatasourceKind `json:"driver"`
	DSN      string         `json:"dsn,omitempty"`      // postgres
	Addr     string         `json:"addr,omitempty"`      // redis
	Password string         `json:"password,omitempty"`  // redis
	DB       int            `json:"db,omitempty"`         // redis
}

// Config is the Runtime configuration: named datasources, any
// inline object definitions, remote federation base URLs, and attachment
// storage overrides.
type Config struct {
	Datasources       map[string]DatasourceConfig  `json:"datasources"`
	Objects           map[string]metadata.ObjectDefinition `json:"objects,omitempty"`
	Remotes           []string                     `json:"remotes,omitempty"`
	DefaultDatasource string                        `json:"default_datasource,omitempty"`
	UploadDir         string                        `json:"-"`
	BaseURL           string                        `json:"-"`
}

// envDefault mirrors EnvDefault: trimmed value or fallback.
func envDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// splitCSV mirrors SplitAndTrimCSV.
func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// LoadFromEnv builds a Config from environment variables:
//
//	OBJECTQL_DEFAULT_DATASOURCE  (default "default")
//	OBJECTQL_DATASOURCE_KIND     memory|postgres|redis (default memory)
//	OBJECTQL_POSTGRES_DSN        required when kind=postgres
//	OBJECTQL_REDIS_ADDR          used when kind=redis (default localhost:6379)
//	OBJECTQL_REDIS_PASSWORD
//	OBJECTQL_REDIS_DB
//	OBJECTQL_REMOTES             comma-separated federation base URLs
//	OBJECTQL_OBJECTS_FILE        optional path to a JSON file of {name: ObjectDefinition}
//	UPLOAD_DIR, BASE_URL         attachment field overrides
func LoadFromEnv() (*Config, error) {
	name := envDefault("OBJECTQL_DEFAULT_DATASOURCE", "default")
	kind := DatasourceKind(envDefault("OBJECTQL_DATASOURCE_KIND", string(DatasourceMemory)))

	ds := DatasourceConfig{Kind: kind}
	switch kind {
	case DatasourcePostgres:
		ds.DSN = envDefault("OBJECTQL_POSTGRES_DSN", "")
	case DatasourceRedis:
		ds.Addr = envDefault("OBJECTQL_REDIS_ADDR", "localhost:6379")
		ds.Password = envDefault("OBJECTQL_REDIS_PASSWORD", "")
		ds.DB = envInt("OBJECTQL_REDIS_DB", 0)
	}

	cfg := &Config{
		Datasources:       map[string]DatasourceConfig{name: ds},
		DefaultDatasource: name,
		Remotes:           splitCSV(os.Getenv("OBJECTQL_REMOTES")),
		UploadDir:         envDefault("UPLOAD_DIR", "./uploads"),
		BaseURL:           envDefault("BASE_URL", "http://localhost:8080"),
	}

	if path := strings.TrimSpace(os.Getenv("OBJECTQL_OBJECTS_FILE")); path != "" {
		objects, err := loadObjectsFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Objects = objects
	}

	return cfg, nil
}

func loadObjectsFile(path string) (map[string]metadata.ObjectDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var objects map[string]metadata.ObjectDefinition
	if err := json.Unmarshal(raw, &objects); err != nil {
		return nil, err
	}
	return objects, nil
}
