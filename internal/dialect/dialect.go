// Package dialect supplies the SQL text and identifier-quoting rules that
// differ between the MySQL-wire and PostgreSQL-wire Accelerator endpoints.
package dialect

import (
	"fmt"
	"strings"

	"github.com/perconalab/readyset-scheduler/internal/config"
)

// Dialect abstracts the handful of SQL fragments that differ by backend
// wire protocol when talking to the Accelerator. The Proxy admin interface
// is always MySQL-wire regardless of Dialect.
type Dialect interface {
	// Driver is the database/sql driver name to use for this dialect.
	Driver() string
	// DSN builds a driver-specific connection string.
	DSN(user, pass, host string, port int, timeoutSeconds int) string
	// StatusQuery returns the SQL that reports Accelerator health.
	StatusQuery() string
	// ExplainCacheQuery returns the SQL that probes cache support for the
	// given verbatim query text.
	ExplainCacheQuery(queryText string) string
	// CreateCacheStatement returns the SQL that installs a cache for the
	// given verbatim query text.
	CreateCacheStatement(queryText string) string
	// QuoteIdent quotes a bare identifier per this dialect's rules.
	QuoteIdent(name string) string
	// UseSchemaStatement returns the SQL that scopes the session to schema,
	// since digest_text is schema-unqualified.
	UseSchemaStatement(schema string) string
}

// For resolves the Dialect implementation for a configured database type.
func For(dt config.Dialect) Dialect {
	switch dt {
	case config.PostgreSQL:
		return postgres{}
	default:
		return mysql{}
	}
}

type mysql struct{}

func (mysql) Driver() string { return "mysql" }

func (mysql) DSN(user, pass, host string, port int, timeoutSeconds int) string {
	timeout := fmt.Sprintf("%ds", timeoutSeconds)
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/?interpolateParams=true&timeout=%s&readTimeout=%s&writeTimeout=%s",
		user, pass, host, port, timeout, timeout, timeout,
	)
}

func (mysql) StatusQuery() string { return "SHOW READYSET STATUS" }

func (mysql) ExplainCacheQuery(queryText string) string {
	return fmt.Sprintf("EXPLAIN CREATE CACHE FROM %s", queryText)
}

func (mysql) CreateCacheStatement(queryText string) string {
	return fmt.Sprintf("CREATE CACHE FROM %s", queryText)
}

func (mysql) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (m mysql) UseSchemaStatement(schema string) string {
	return fmt.Sprintf("USE %s", m.QuoteIdent(schema))
}

type postgres struct{}

func (postgres) Driver() string { return "postgres" }

func (postgres) DSN(user, pass, host string, port int, timeoutSeconds int) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/?sslmode=prefer&connect_timeout=%d&statement_timeout=%d",
		user, pass, host, port, timeoutSeconds, timeoutSeconds*1000,
	)
}

func (postgres) StatusQuery() string { return "SHOW READYSET STATUS" }

func (postgres) ExplainCacheQuery(queryText string) string {
	return fmt.Sprintf("EXPLAIN CREATE CACHE FROM %s", queryText)
}

func (postgres) CreateCacheStatement(queryText string) string {
	return fmt.Sprintf("CREATE CACHE FROM %s", queryText)
}

func (postgres) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (p postgres) UseSchemaStatement(schema string) string {
	return fmt.Sprintf("SET search_path TO %s", p.QuoteIdent(schema))
}
