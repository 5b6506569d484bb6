// Package config parses and validates the scheduler's line-oriented
// key=value configuration file.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/perconalab/readyset-scheduler/internal/errs"
)

// Dialect selects the SQL dialect used to talk to the Accelerator.
type Dialect string

const (
	MySQL      Dialect = "MySQL"
	PostgreSQL Dialect = "PostgreSQL"
)

// OperationMode controls which phases Tick runs.
type OperationMode string

const (
	All            OperationMode = "All"
	HealthCheck    OperationMode = "HealthCheck"
	QueryDiscovery OperationMode = "QueryDiscovery"
)

// DiscoveryMode is one of the nine ranking modes of §4.6.
type DiscoveryMode string

const (
	CountStar             DiscoveryMode = "CountStar"
	SumTime               DiscoveryMode = "SumTime"
	SumRowsSent           DiscoveryMode = "SumRowsSent"
	MeanTime              DiscoveryMode = "MeanTime"
	ExecutionTimeDistance DiscoveryMode = "ExecutionTimeDistance"
	QueryThroughput       DiscoveryMode = "QueryThroughput"
	WorstBestCase         DiscoveryMode = "WorstBestCase"
	WorstWorstCase        DiscoveryMode = "WorstWorstCase"
	DistanceMeanMax       DiscoveryMode = "DistanceMeanMax"
)

// Config is the immutable, validated configuration for one tick.
type Config struct {
	DatabaseType Dialect

	ProxySQLUser     string
	ProxySQLPassword string
	ProxySQLHost     string
	ProxySQLPort     int

	ReadysetUser     string
	ReadysetPassword string

	SourceHostgroup   int
	ReadysetHostgroup int

	WarmupTimeS int

	LockFile string

	OperationMode OperationMode

	NumberOfQueries int

	QueryDiscoveryMode         DiscoveryMode
	QueryDiscoveryMinExecution uint64
	QueryDiscoveryMinRowSent   uint64

	sourceHostgroupSet   bool
	readysetHostgroupSet bool
}

func defaults() Config {
	return Config{
		DatabaseType:       MySQL,
		LockFile:           "/etc/readyset_scheduler.lock",
		OperationMode:      All,
		NumberOfQueries:    10,
		QueryDiscoveryMode: CountStar,
	}
}

var recognizedKeys = map[string]bool{
	"database_type":                 true,
	"proxysql_user":                 true,
	"proxysql_password":             true,
	"proxysql_host":                 true,
	"proxysql_port":                 true,
	"readyset_user":                 true,
	"readyset_password":             true,
	"source_hostgroup":              true,
	"readyset_hostgroup":            true,
	"warmup_time_s":                 true,
	"lock_file":                     true,
	"operation_mode":                true,
	"number_of_queries":             true,
	"query_discovery_mode":          true,
	"query_discovery_min_execution": true,
	"query_discovery_min_row_sent":  true,
}

// Load reads, parses, and validates the config file at path.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errs.New(errs.Config, path, errors.Wrap(err, "open config file"))
	}
	defer f.Close()

	raw, err := parse(f)
	if err != nil {
		return Config{}, errs.New(errs.Config, path, err)
	}

	cfg, err := fromRaw(raw)
	if err != nil {
		return Config{}, errs.New(errs.Config, path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, errs.New(errs.Config, path, err)
	}

	return cfg, nil
}

// parse reads a UTF-8 line-oriented key=value stream. '#' introduces a
// comment that runs to end of line; whitespace around '=' is ignored; blank
// lines are skipped.
func parse(f *os.File) (map[string]string, error) {
	out := make(map[string]string)

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, errors.Errorf("line %d: missing '='", lineNo)
		}

		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" {
			return nil, errors.Errorf("line %d: empty key", lineNo)
		}

		if !recognizedKeys[key] {
			return nil, errors.Errorf("line %d: unknown key %q", lineNo, key)
		}

		out[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	return out, nil
}

func fromRaw(raw map[string]string) (Config, error) {
	cfg := defaults()

	if v, ok := raw["database_type"]; ok {
		switch strings.ToLower(v) {
		case "mysql":
			cfg.DatabaseType = MySQL
		case "postgresql", "postgres":
			cfg.DatabaseType = PostgreSQL
		default:
			return cfg, errors.Errorf("database_type: unrecognized value %q", v)
		}
	}

	cfg.ProxySQLUser = raw["proxysql_user"]
	cfg.ProxySQLPassword = raw["proxysql_password"]
	cfg.ProxySQLHost = raw["proxysql_host"]

	var err error
	if cfg.ProxySQLPort, err = intField(raw, "proxysql_port", 0); err != nil {
		return cfg, err
	}

	cfg.ReadysetUser = raw["readyset_user"]
	cfg.ReadysetPassword = raw["readyset_password"]

	cfg.sourceHostgroupSet = hasKey(raw, "source_hostgroup")
	if cfg.SourceHostgroup, err = intField(raw, "source_hostgroup", 0); err != nil {
		return cfg, err
	}
	cfg.readysetHostgroupSet = hasKey(raw, "readyset_hostgroup")
	if cfg.ReadysetHostgroup, err = intField(raw, "readyset_hostgroup", 0); err != nil {
		return cfg, err
	}
	if cfg.WarmupTimeS, err = intField(raw, "warmup_time_s", 0); err != nil {
		return cfg, err
	}

	if v, ok := raw["lock_file"]; ok && v != "" {
		cfg.LockFile = v
	}

	if v, ok := raw["operation_mode"]; ok {
		switch v {
		case string(All), string(HealthCheck), string(QueryDiscovery):
			cfg.OperationMode = OperationMode(v)
		default:
			return cfg, errors.Errorf("operation_mode: unrecognized value %q", v)
		}
	}

	if cfg.NumberOfQueries, err = intField(raw, "number_of_queries", cfg.NumberOfQueries); err != nil {
		return cfg, err
	}

	if v, ok := raw["query_discovery_mode"]; ok {
		if !validDiscoveryMode(DiscoveryMode(v)) {
			return cfg, errors.Errorf("query_discovery_mode: unrecognized value %q", v)
		}
		cfg.QueryDiscoveryMode = DiscoveryMode(v)
	}

	if cfg.QueryDiscoveryMinExecution, err = uintField(raw, "query_discovery_min_execution", 0); err != nil {
		return cfg, err
	}
	if cfg.QueryDiscoveryMinRowSent, err = uintField(raw, "query_discovery_min_row_sent", 0); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func validDiscoveryMode(m DiscoveryMode) bool {
	switch m {
	case CountStar, SumTime, SumRowsSent, MeanTime, ExecutionTimeDistance,
		QueryThroughput, WorstBestCase, WorstWorstCase, DistanceMeanMax:
		return true
	default:
		return false
	}
}

func hasKey(raw map[string]string, key string) bool {
	_, ok := raw[key]
	return ok
}

func intField(raw map[string]string, key string, def int) (int, error) {
	v, ok := raw[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, errors.Wrapf(err, "%s: invalid integer %q", key, v)
	}
	return n, nil
}

func uintField(raw map[string]string, key string, def uint64) (uint64, error) {
	v, ok := raw[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: invalid non-negative integer %q", key, v)
	}
	return n, nil
}

// Validate applies every constraint named in the data model: required
// fields, ranges, and enum membership.
func (c Config) Validate() error {
	var missing []string
	if c.ProxySQLUser == "" {
		missing = append(missing, "proxysql_user")
	}
	if c.ProxySQLHost == "" {
		missing = append(missing, "proxysql_host")
	}
	if c.ProxySQLPort == 0 {
		missing = append(missing, "proxysql_port")
	}
	if c.ProxySQLPassword == "" {
		missing = append(missing, "proxysql_password")
	}
	if c.ReadysetUser == "" {
		missing = append(missing, "readyset_user")
	}
	if c.ReadysetPassword == "" {
		missing = append(missing, "readyset_password")
	}
	if !c.sourceHostgroupSet {
		missing = append(missing, "source_hostgroup")
	}
	if !c.readysetHostgroupSet {
		missing = append(missing, "readyset_hostgroup")
	}
	if len(missing) > 0 {
		return errors.Errorf("missing required config keys: %s", strings.Join(missing, ", "))
	}

	if c.WarmupTimeS < 0 {
		return errors.New("warmup_time_s must be non-negative")
	}
	if c.NumberOfQueries < 0 {
		return errors.New("number_of_queries must be non-negative")
	}
	if c.ProxySQLPort <= 0 || c.ProxySQLPort > 65535 {
		return errors.New("proxysql_port out of range")
	}

	switch c.OperationMode {
	case All, HealthCheck, QueryDiscovery:
	default:
		return errors.Errorf("invalid operation_mode %q", c.OperationMode)
	}

	switch c.DatabaseType {
	case MySQL, PostgreSQL:
	default:
		return errors.Errorf("invalid database_type %q", c.DatabaseType)
	}

	if !validDiscoveryMode(c.QueryDiscoveryMode) {
		return errors.Errorf("invalid query_discovery_mode %q", c.QueryDiscoveryMode)
	}

	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("Config{dialect=%s proxysql=%s:%d source_hg=%d readyset_hg=%d mode=%s discovery=%s}",
		c.DatabaseType, c.ProxySQLHost, c.ProxySQLPort, c.SourceHostgroup, c.ReadysetHostgroup,
		c.OperationMode, c.QueryDiscoveryMode)
}
