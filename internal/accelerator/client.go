// Package accelerator wraps a connection to the Accelerator's SQL endpoint:
// the status probe, the cache-support probe, and the cache installer.
package accelerator

import (
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/perconalab/readyset-scheduler/internal/dialect"
	"github.com/perconalab/readyset-scheduler/internal/errs"
)

// Client wraps a single connection to one Accelerator backend.
type Client struct {
	db *sql.DB
	d  dialect.Dialect

	currentSchema string
}

// Dial opens a connection to (host, port) using the given dialect and
// credentials.
func Dial(d dialect.Dialect, user, pass, host string, port int, timeoutSeconds int) (*Client, error) {
	entity := hostPort(host, port)

	db, err := sql.Open(d.Driver(), d.DSN(user, pass, host, port, timeoutSeconds))
	if err != nil {
		return nil, errs.New(errs.AcceleratorConnect, entity, errors.Wrap(err, "open accelerator connection"))
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errs.New(errs.AcceleratorConnect, entity, errors.Wrap(err, "ping accelerator connection"))
	}

	return &Client{db: db, d: d}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.db.Close() }

// Status issues the dialect's status query and returns the raw Status
// field, unparsed.
func (c *Client) Status() (string, error) {
	row := c.db.QueryRow(c.d.StatusQuery())

	var status string
	if err := row.Scan(&status); err != nil {
		return "", errs.New(errs.ParseStatus, "", errors.Wrap(err, "scan accelerator status"))
	}

	return status, nil
}

// UseSchema scopes the session to schema so that subsequent digest-text
// operations, which are schema-unqualified, resolve against the right
// tables. A no-op once the session is already scoped to schema.
func (c *Client) UseSchema(schema string) error {
	if schema == "" || schema == c.currentSchema {
		return nil
	}
	if _, err := c.db.Exec(c.d.UseSchemaStatement(schema)); err != nil {
		return errs.New(errs.AcceleratorQuery, schema, errors.Wrap(err, "select schema"))
	}
	c.currentSchema = schema
	return nil
}

// ProbeCacheSupport runs the dialect-appropriate EXPLAIN CREATE CACHE probe
// against queryText. A single row whose support column, lowercased and
// trimmed, equals "yes" or "cached" denotes support; anything else,
// including a query error, denotes unsupported.
func (c *Client) ProbeCacheSupport(queryText string) (bool, error) {
	row := c.db.QueryRow(c.d.ExplainCacheQuery(queryText))

	var support string
	if err := row.Scan(&support); err != nil {
		return false, nil // unsupported, not an error: probe errors mean unsupported per spec
	}

	support = strings.ToLower(strings.TrimSpace(support))
	return support == "yes" || support == "cached", nil
}

// CreateCache issues CREATE CACHE FROM against queryText, embedded verbatim:
// digests contain only parameter placeholders, never literal values, so no
// per-parameter escaping is performed.
func (c *Client) CreateCache(queryText string) error {
	if _, err := c.db.Exec(c.d.CreateCacheStatement(queryText)); err != nil {
		return errs.New(errs.AcceleratorQuery, queryText, errors.Wrap(err, "create cache"))
	}
	return nil
}

func hostPort(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}
