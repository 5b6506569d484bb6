// Package proxysql wraps the Proxy's admin-interface connection with the
// typed operations the scheduler needs.
package proxysql

import (
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/perconalab/readyset-scheduler/internal/errs"
)

// Client wraps a single admin-interface connection to the Proxy. A Client
// is used for exactly one tick and tracks whether servers or rules were
// changed so that flushes can be batched per §4.2/§5. Runtime-flush and
// disk-persist are tracked separately because HealthReconciler and
// DiscoveryEngine each call FlushRuntime once per tick against the same
// Client; only the category each of them actually touched should be
// reloaded, and only once, while the need to persist-to-disk at end of tick
// must survive across both of those calls.
type Client struct {
	db *sql.DB

	serversNeedFlush bool
	rulesNeedFlush   bool

	serversNeedSave bool
	rulesNeedSave   bool
}

// Dial opens the admin connection. timeoutSeconds bounds connect, read, and
// write operations.
func Dial(user, pass, host string, port int, timeoutSeconds int) (*Client, error) {
	timeout := fmt.Sprintf("%ds", timeoutSeconds)
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = pass
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", host, port)
	cfg.Params = map[string]string{
		"interpolateParams": "true",
		"timeout":           timeout,
		"readTimeout":       timeout,
		"writeTimeout":      timeout,
	}

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, errs.New(errs.ProxyConnect, cfg.Addr, errors.Wrap(err, "open proxy admin connection"))
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errs.New(errs.ProxyConnect, cfg.Addr, errors.Wrap(err, "ping proxy admin connection"))
	}

	return &Client{db: db}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.db.Close() }

// ListAcceleratorServers selects rows where comment = 'readyset'
// (case-insensitive) and hostgroup_id = readysetHostgroup.
func (c *Client) ListAcceleratorServers(readysetHostgroup int) ([]AcceleratorServer, error) {
	rows, err := c.db.Query(
		`SELECT hostgroup_id, hostname, port, status, comment
		 FROM mysql_servers
		 WHERE LOWER(comment) = 'readyset' AND hostgroup_id = ?`,
		readysetHostgroup,
	)
	if err != nil {
		return nil, errs.New(errs.ProxyQuery, "mysql_servers", errors.Wrap(err, "list accelerator servers"))
	}
	defer rows.Close()

	var out []AcceleratorServer
	for rows.Next() {
		var s AcceleratorServer
		if err := rows.Scan(&s.HostgroupID, &s.Hostname, &s.Port, &s.Status, &s.Comment); err != nil {
			return nil, errs.New(errs.ProxyQuery, "mysql_servers", errors.Wrap(err, "scan accelerator server"))
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.ProxyQuery, "mysql_servers", errors.Wrap(err, "iterate accelerator servers"))
	}

	return out, nil
}

// SetServerState updates the in-memory mysql_servers row for (hostgroup,
// host, port). It does not flush; FlushRuntime/PersistToDisk batch that at
// end of tick.
func (c *Client) SetServerState(hostgroup int, host string, port int, state ServerState) error {
	entity := fmt.Sprintf("%s:%d", host, port)

	res, err := c.db.Exec(
		`UPDATE mysql_servers SET status = ? WHERE hostgroup_id = ? AND hostname = ? AND port = ?`,
		string(state), hostgroup, host, port,
	)
	if err != nil {
		return errs.New(errs.ProxyQuery, entity, errors.Wrap(err, "update server state"))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errs.New(errs.ProxyQuery, entity, errors.Wrap(err, "rows affected"))
	}
	if n > 0 {
		c.serversNeedFlush = true
		c.serversNeedSave = true
	}

	return nil
}

// ReadDigests returns rows filtered by hostgroup and username, excluding
// digests already covered by a managed rule.
func (c *Client) ReadDigests(sourceHostgroup int, readysetUser string) ([]QueryDigest, error) {
	rows, err := c.db.Query(
		`SELECT d.digest, d.schemaname, d.digest_text, d.hostgroup, d.username,
		        d.count_star, d.sum_time, d.min_time, d.max_time, d.sum_rows_sent
		 FROM stats_mysql_query_digest d
		 WHERE d.hostgroup = ? AND d.username = ?
		   AND d.digest NOT IN (
		       SELECT r.digest FROM mysql_query_rules r
		       WHERE r.comment LIKE ?
		   )`,
		sourceHostgroup, readysetUser, Sentinel+"%",
	)
	if err != nil {
		return nil, errs.New(errs.ProxyQuery, "stats_mysql_query_digest", errors.Wrap(err, "read digests"))
	}
	defer rows.Close()

	var out []QueryDigest
	for rows.Next() {
		var d QueryDigest
		if err := rows.Scan(&d.Digest, &d.SchemaName, &d.DigestText, &d.Hostgroup, &d.Username,
			&d.CountStar, &d.SumTime, &d.MinTime, &d.MaxTime, &d.SumRowsSent); err != nil {
			return nil, errs.New(errs.ProxyQuery, "stats_mysql_query_digest", errors.Wrap(err, "scan digest"))
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.ProxyQuery, "stats_mysql_query_digest", errors.Wrap(err, "iterate digests"))
	}

	return out, nil
}

// ListManagedRules returns rules whose comment carries this system's tag,
// with Shape/MirrorAt populated.
func (c *Client) ListManagedRules() ([]QueryRule, error) {
	rows, err := c.db.Query(
		`SELECT rule_id, active, username, schemaname, digest,
		        destination_hostgroup, mirror_hostgroup, apply, comment
		 FROM mysql_query_rules
		 WHERE comment LIKE ?`,
		Sentinel+"%",
	)
	if err != nil {
		return nil, errs.New(errs.ProxyQuery, "mysql_query_rules", errors.Wrap(err, "list managed rules"))
	}
	defer rows.Close()

	var out []QueryRule
	for rows.Next() {
		var r QueryRule
		var mirrorHG sql.NullInt64
		if err := rows.Scan(&r.RuleID, &r.Active, &r.Username, &r.SchemaName, &r.Digest,
			&r.DestinationHostgroup, &mirrorHG, &r.Apply, &r.Comment); err != nil {
			return nil, errs.New(errs.ProxyQuery, "mysql_query_rules", errors.Wrap(err, "scan rule"))
		}
		if mirrorHG.Valid {
			r.MirrorHostgroup = int(mirrorHG.Int64)
		}

		shape, t0, ok := ParseTag(r.Comment)
		if !ok {
			continue
		}
		r.Shape = shape
		r.MirrorAt = t0

		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.ProxyQuery, "mysql_query_rules", errors.Wrap(err, "iterate rules"))
	}

	return out, nil
}

func (c *Client) nextRuleID() (int, error) {
	var max sql.NullInt64
	row := c.db.QueryRow(`SELECT MAX(rule_id) FROM mysql_query_rules`)
	if err := row.Scan(&max); err != nil {
		return 0, errs.New(errs.ProxyQuery, "mysql_query_rules", errors.Wrap(err, "select max rule_id"))
	}
	return int(max.Int64) + 1, nil
}

// InsertRedirectRule assigns a fresh rule_id and inserts a redirect-shaped
// managed rule sending digest traffic to destHostgroup.
func (c *Client) InsertRedirectRule(digest, schemaName, username string, destHostgroup int) error {
	id, err := c.nextRuleID()
	if err != nil {
		return err
	}

	_, err = c.db.Exec(
		`INSERT INTO mysql_query_rules
		   (rule_id, active, username, schemaname, digest, destination_hostgroup, apply, comment)
		 VALUES (?, 1, ?, ?, ?, ?, 1, ?)`,
		id, username, schemaName, digest, destHostgroup, FormatRedirectTag(),
	)
	if err != nil {
		return errs.New(errs.ProxyQuery, digest, errors.Wrap(err, "insert redirect rule"))
	}

	c.rulesNeedFlush = true
	c.rulesNeedSave = true
	return nil
}

// InsertMirrorRule assigns a fresh rule_id and inserts a mirror-shaped
// managed rule sending digest traffic to sourceHostgroup with a mirror copy
// to mirrorHostgroup, tagged with installation timestamp t0.
func (c *Client) InsertMirrorRule(digest, schemaName, username string, sourceHostgroup, mirrorHostgroup int, t0 int64) error {
	id, err := c.nextRuleID()
	if err != nil {
		return err
	}

	_, err = c.db.Exec(
		`INSERT INTO mysql_query_rules
		   (rule_id, active, username, schemaname, digest, destination_hostgroup, mirror_hostgroup, apply, comment)
		 VALUES (?, 1, ?, ?, ?, ?, ?, 1, ?)`,
		id, username, schemaName, digest, sourceHostgroup, mirrorHostgroup, FormatMirrorTag(t0),
	)
	if err != nil {
		return errs.New(errs.ProxyQuery, digest, errors.Wrap(err, "insert mirror rule"))
	}

	c.rulesNeedFlush = true
	c.rulesNeedSave = true
	return nil
}

// PromoteRule transitions an existing mirror rule into a redirect rule,
// clearing mirror_hostgroup and retargeting destination_hostgroup. The
// comment is rewritten to the plain redirect tag, so the rule stays managed
// but its mirror t0 timestamp is not kept.
func (c *Client) PromoteRule(ruleID int, readysetHostgroup int) error {
	entity := fmt.Sprintf("rule:%d", ruleID)

	_, err := c.db.Exec(
		`UPDATE mysql_query_rules
		 SET destination_hostgroup = ?, mirror_hostgroup = NULL, comment = ?
		 WHERE rule_id = ?`,
		readysetHostgroup, FormatRedirectTag(), ruleID,
	)
	if err != nil {
		return errs.New(errs.ProxyQuery, entity, errors.Wrap(err, "promote mirror rule"))
	}

	c.rulesNeedFlush = true
	c.rulesNeedSave = true
	return nil
}

// FlushRuntime issues LOAD ... TO RUNTIME for servers and/or rules, each at
// most once per tick, only for categories with pending changes. Once
// issued, the corresponding category is cleared so a second caller within
// the same tick (HealthReconciler and DiscoveryEngine both call this on the
// same Client) does not reload a category it did not itself touch.
func (c *Client) FlushRuntime() error {
	if c.serversNeedFlush {
		if _, err := c.db.Exec("LOAD MYSQL SERVERS TO RUNTIME"); err != nil {
			return errs.New(errs.ProxyQuery, "mysql_servers", errors.Wrap(err, "load servers to runtime"))
		}
		c.serversNeedFlush = false
	}
	if c.rulesNeedFlush {
		if _, err := c.db.Exec("LOAD MYSQL QUERY RULES TO RUNTIME"); err != nil {
			return errs.New(errs.ProxyQuery, "mysql_query_rules", errors.Wrap(err, "load rules to runtime"))
		}
		c.rulesNeedFlush = false
	}
	return nil
}

// PersistToDisk issues SAVE ... TO DISK for whichever categories changed
// this tick, each at most once, then clears the pending-save flags.
func (c *Client) PersistToDisk() error {
	if c.serversNeedSave {
		if _, err := c.db.Exec("SAVE MYSQL SERVERS TO DISK"); err != nil {
			return errs.New(errs.ProxyQuery, "mysql_servers", errors.Wrap(err, "save servers to disk"))
		}
		c.serversNeedSave = false
	}
	if c.rulesNeedSave {
		if _, err := c.db.Exec("SAVE MYSQL QUERY RULES TO DISK"); err != nil {
			return errs.New(errs.ProxyQuery, "mysql_query_rules", errors.Wrap(err, "save rules to disk"))
		}
		c.rulesNeedSave = false
	}
	return nil
}

// Dirty reports whether any server or rule change is still pending a
// disk-persist.
func (c *Client) Dirty() bool { return c.serversNeedSave || c.rulesNeedSave }
