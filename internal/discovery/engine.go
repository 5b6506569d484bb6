// Package discovery implements the promote -> discover -> install phases
// that find candidate queries, cache them in the Accelerator, and install
// progressively-promoted routing rules.
package discovery

import (
	"go.uber.org/zap"

	"github.com/perconalab/readyset-scheduler/internal/config"
	"github.com/perconalab/readyset-scheduler/internal/proxysql"
	"github.com/perconalab/readyset-scheduler/internal/ranker"
)

// ProxyStore is the subset of proxysql.Client the engine needs.
type ProxyStore interface {
	ReadDigests(sourceHostgroup int, readysetUser string) ([]proxysql.QueryDigest, error)
	ListManagedRules() ([]proxysql.QueryRule, error)
	InsertRedirectRule(digest, schemaName, username string, destHostgroup int) error
	InsertMirrorRule(digest, schemaName, username string, sourceHostgroup, mirrorHostgroup int, t0 int64) error
	PromoteRule(ruleID int, readysetHostgroup int) error
	FlushRuntime() error
}

// CacheProbe is the subset of accelerator.Client the engine needs.
type CacheProbe interface {
	UseSchema(schema string) error
	ProbeCacheSupport(queryText string) (bool, error)
	CreateCache(queryText string) error
}

// Clock returns the current wall-clock time as unix seconds. A field so
// tests can control it without sleeping.
type Clock func() int64

// Engine runs the per-tick discovery phase.
type Engine struct {
	Proxy       ProxyStore
	Accelerator CacheProbe
	Now         Clock
	Logger      *zap.Logger
}

// Run executes promote, discover, install in order and returns the
// non-fatal errors encountered along the way.
func (e *Engine) Run(cfg config.Config) []error {
	var errs []error

	if err := e.promote(cfg.WarmupTimeS); err != nil {
		errs = append(errs, err...)
	}

	candidates, err := e.discover(cfg)
	if err != nil {
		errs = append(errs, err)
		return errs
	}

	if err := e.install(cfg, candidates); err != nil {
		errs = append(errs, err...)
	}

	if flushErr := e.Proxy.FlushRuntime(); flushErr != nil {
		errs = append(errs, flushErr)
	}

	return errs
}

// promote enumerates managed mirror rules and promotes those whose warmup
// has elapsed. One rule's failure does not abort the others.
func (e *Engine) promote(warmupTimeS int) []error {
	rules, err := e.Proxy.ListManagedRules()
	if err != nil {
		return []error{err}
	}

	var errs []error
	now := e.Now()
	for _, r := range rules {
		if r.Shape != proxysql.ShapeMirror {
			continue
		}
		if now < r.MirrorAt+int64(warmupTimeS) {
			continue
		}

		if err := e.Proxy.PromoteRule(r.RuleID, r.MirrorHostgroup); err != nil {
			errs = append(errs, err)
			continue
		}
		e.Logger.Info("promoted mirror rule to redirect", zap.Int("rule_id", r.RuleID), zap.String("digest", r.Digest))
	}

	return errs
}

// discover reads digests and ranks them per cfg's discovery mode, returning
// a prefix of at most cfg.NumberOfQueries candidates.
func (e *Engine) discover(cfg config.Config) ([]proxysql.QueryDigest, error) {
	digests, err := e.Proxy.ReadDigests(cfg.SourceHostgroup, cfg.ReadysetUser)
	if err != nil {
		return nil, err
	}

	ranked := ranker.Rank(digests, cfg.QueryDiscoveryMode, cfg.QueryDiscoveryMinExecution, cfg.QueryDiscoveryMinRowSent, cfg.NumberOfQueries)
	return ranked, nil
}

// install probes, caches, and installs a rule for each candidate in order.
// A candidate that fails probing or caching is skipped, not retried within
// this tick.
func (e *Engine) install(cfg config.Config, candidates []proxysql.QueryDigest) []error {
	var errs []error

	for _, d := range candidates {
		if err := e.Accelerator.UseSchema(d.SchemaName); err != nil {
			errs = append(errs, err)
			continue
		}

		supported, err := e.Accelerator.ProbeCacheSupport(d.DigestText)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !supported {
			e.Logger.Info("digest unsupported by accelerator, skipping", zap.String("digest", d.Digest))
			continue
		}

		if err := e.Accelerator.CreateCache(d.DigestText); err != nil {
			errs = append(errs, err)
			continue
		}

		if cfg.WarmupTimeS == 0 {
			if err := e.Proxy.InsertRedirectRule(d.Digest, d.SchemaName, d.Username, cfg.ReadysetHostgroup); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		if err := e.Proxy.InsertMirrorRule(d.Digest, d.SchemaName, d.Username, cfg.SourceHostgroup, cfg.ReadysetHostgroup, e.Now()); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}
