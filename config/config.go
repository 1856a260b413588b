// Package config loads engine-wide tunables from a TOML file with
// environment-variable fallback, the same NewConnectionConfigFromEnv +
// godotenv.Load pattern a SQL dialect's connection config loader uses,
// generalized from a SQL DSN to the schema.Defaults bundle plus two SQL
// connection settings (sql_driver, sql_dsn) that Load returns in File
// without reading them itself.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/ESGI-M2/docuorm/schema"
)

// File is the on-disk TOML shape.
type File struct {
	Strict                bool   `toml:"strict"`
	MutationBatchSize     int    `toml:"mutation_batch_size"`
	MutationMaxRows       int    `toml:"mutation_max_rows"`
	MutationScheduled     bool   `toml:"mutation_scheduled"`
	RelationConcurrency   int    `toml:"relation_concurrency"`
	SQLDriver             string `toml:"sql_driver"`
	SQLDSN                string `toml:"sql_dsn"`
}

// Load reads path as TOML and returns the resulting schema.Defaults plus the
// raw file for sections (like the SQL adapter DSN) that live outside the
// engine's own tunables. A missing file is not an error; Defaults falls
// back to DefaultDefaults() and environment variables.
func Load(path string) (schema.Defaults, File, error) {
	_ = godotenv.Load() // best-effort; absence of a .env file is not an error

	defaults := schema.DefaultDefaults()
	var f File
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &f); err != nil {
				return defaults, f, fmt.Errorf("config: decoding %q: %w", path, err)
			}
		}
	}

	if f.MutationBatchSize > 0 {
		defaults.MutationBatchSize = f.MutationBatchSize
	}
	if f.MutationMaxRows > 0 {
		defaults.MutationMaxRows = f.MutationMaxRows
	}
	if f.RelationConcurrency > 0 {
		defaults.RelationConcurrency = f.RelationConcurrency
	}
	defaults.Strict = f.Strict || defaults.Strict
	if f.MutationScheduled {
		defaults.MutationExecutionMode = schema.ExecScheduled
	}

	applyEnvOverrides(&defaults)
	return defaults, f, nil
}

// applyEnvOverrides lets deployment environments override the file-derived
// defaults without editing the TOML, the same escape hatch a connection
// config loader exposes for its DSN components (DB_HOST, DB_PORT, ...).
func applyEnvOverrides(d *schema.Defaults) {
	if v := os.Getenv("DOCUORM_STRICT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			d.Strict = b
		}
	}
	if v := os.Getenv("DOCUORM_MUTATION_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			d.MutationBatchSize = n
		}
	}
	if v := os.Getenv("DOCUORM_MUTATION_MAX_ROWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			d.MutationMaxRows = n
		}
	}
	if v := os.Getenv("DOCUORM_RELATION_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			d.RelationConcurrency = n
		}
	}
}
