package postgres

import (
	"fmt"
	"net/url"
	"strings"

	postgresopts "github.com/kart-io/lexica/pkg/options/postgres"
)

// BuildDSN creates a PostgreSQL DSN from the provided options.
//
// The password is escaped so values with special characters cannot break the
// space-separated key=value DSN format.
func BuildDSN(opts *postgresopts.Options) string {
	if opts == nil {
		return ""
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		opts.Host,
		opts.Port,
		opts.Username,
		escapePostgresValue(opts.Password),
		opts.Database,
		opts.SSLMode,
	)
}

// BuildURI creates a PostgreSQL connection URI from the provided options,
// for drivers that prefer URI format over DSN.
func BuildURI(opts *postgresopts.Options) string {
	if opts == nil {
		return ""
	}

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		opts.Username,
		url.QueryEscape(opts.Password),
		opts.Host,
		opts.Port,
		opts.Database,
		opts.SSLMode,
	)
}

// escapePostgresValue escapes a value for PostgreSQL DSN format. Values with
// spaces or quotes are wrapped in single quotes, with inner quotes doubled.
func escapePostgresValue(value string) string {
	if value == "" {
		return "''"
	}

	if strings.ContainsAny(value, " '\\") {
		escaped := strings.ReplaceAll(value, "'", "''")
		escaped = strings.ReplaceAll(escaped, "\\", "\\\\")
		return "'" + escaped + "'"
	}

	return value
}
