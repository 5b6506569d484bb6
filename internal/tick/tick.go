// Package tick sequences one complete scheduler run under the lock.
package tick

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/perconalab/readyset-scheduler/internal/accelerator"
	"github.com/perconalab/readyset-scheduler/internal/config"
	"github.com/perconalab/readyset-scheduler/internal/dialect"
	"github.com/perconalab/readyset-scheduler/internal/discovery"
	"github.com/perconalab/readyset-scheduler/internal/errs"
	"github.com/perconalab/readyset-scheduler/internal/health"
	"github.com/perconalab/readyset-scheduler/internal/lock"
	"github.com/perconalab/readyset-scheduler/internal/proxysql"
)

// proxyTickClient is the full surface tick needs from proxysql.Client: the
// union of health.ProxyWriter and discovery.ProxyStore plus the end-of-tick
// persist and lifecycle methods. *proxysql.Client satisfies it.
type proxyTickClient interface {
	health.ProxyWriter
	discovery.ProxyStore
	PersistToDisk() error
	Dirty() bool
	Close() error
}

// statementTimeoutSeconds bounds each outbound SQL connection, recommended
// at no more than a quarter of the scheduler's invocation interval; this
// core does not own the interval (that is the external scheduler's job), so
// it uses a conservative fixed timeout.
const statementTimeoutSeconds = 10

// Run executes exactly one tick: acquire the lock, run the enabled phases,
// persist, and release. It returns the most severe error kind encountered
// (empty if none; LockContention, with no errors, when another process holds
// the lock) and the errors themselves for logging.
func Run(cfg config.Config, logger *zap.Logger) (errs.Kind, []error) {
	l, ok, err := lock.Acquire(cfg.LockFile)
	if err != nil {
		return errs.Lock, []error{err}
	}
	if !ok {
		logger.Info("lock contended, declining to run this tick")
		return errs.LockContention, nil
	}
	defer l.Release()

	pc, err := proxysql.Dial(cfg.ProxySQLUser, cfg.ProxySQLPassword, cfg.ProxySQLHost, cfg.ProxySQLPort, statementTimeoutSeconds)
	if err != nil {
		return errs.ProxyConnect, []error{err}
	}
	defer pc.Close()

	d := dialect.For(cfg.DatabaseType)

	cacheClientFactory := func() (discovery.CacheProbe, func() error, error) {
		client, err := dialFirstAccelerator(pc, d, cfg)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}

	return runPhases(cfg, logger, pc, acceleratorDialer(d, cfg), cacheClientFactory)
}

// runPhases runs the enabled phases against an already-dialed proxy client,
// using acceleratorDial for health's per-server status probes and
// cacheClientFactory to obtain discovery's cache-operations connection.
// Split out from Run so phase sequencing and operation-mode gating can be
// exercised with fakes, without a live Proxy or Accelerator connection.
func runPhases(cfg config.Config, logger *zap.Logger, proxy proxyTickClient, acceleratorDial health.AcceleratorDialer, cacheClientFactory func() (discovery.CacheProbe, func() error, error)) (errs.Kind, []error) {
	var all []error
	worst := errs.Kind("")
	record := func(e error) {
		all = append(all, e)
		worst = errs.Worst(worst, kindOf(e))
	}

	if cfg.OperationMode == config.All || cfg.OperationMode == config.HealthCheck {
		reconciler := &health.Reconciler{
			Proxy:  proxy,
			Logger: logger,
			Dial:   acceleratorDial,
		}

		for _, e := range reconciler.Run(cfg.ReadysetHostgroup) {
			record(e)
			logger.Warn("health reconciliation error", zap.Error(e))
		}
	}

	if cfg.OperationMode == config.All || cfg.OperationMode == config.QueryDiscovery {
		cacheClient, closeFn, err := cacheClientFactory()
		if err != nil {
			record(err)
		} else {
			defer closeFn()

			engine := &discovery.Engine{
				Proxy:       proxy,
				Accelerator: cacheClient,
				Now:         func() int64 { return time.Now().Unix() },
				Logger:      logger,
			}

			for _, e := range engine.Run(cfg) {
				record(e)
				logger.Warn("discovery error", zap.Error(e))
			}
		}
	}

	if proxy.Dirty() {
		if err := proxy.PersistToDisk(); err != nil {
			record(err)
		}
	}

	return worst, all
}

// acceleratorDialer returns the dial function HealthReconciler uses to
// probe each Accelerator server's status, opening and closing a short-lived
// connection per server.
func acceleratorDialer(d dialect.Dialect, cfg config.Config) health.AcceleratorDialer {
	return func(host string, port int) (string, error) {
		client, err := accelerator.Dial(d, cfg.ReadysetUser, cfg.ReadysetPassword, host, port, statementTimeoutSeconds)
		if err != nil {
			return "", err
		}
		defer client.Close()
		return client.Status()
	}
}

// dialFirstAccelerator connects to the first Accelerator server reported
// for the configured readyset hostgroup; DiscoveryEngine's cache operations
// target this single connection for the duration of the tick.
func dialFirstAccelerator(proxy *proxysql.Client, d dialect.Dialect, cfg config.Config) (*accelerator.Client, error) {
	servers, err := proxy.ListAcceleratorServers(cfg.ReadysetHostgroup)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, errs.New(errs.AcceleratorConnect, "", errors.New("no accelerator servers registered"))
	}

	s := servers[0]
	return accelerator.Dial(d, cfg.ReadysetUser, cfg.ReadysetPassword, s.Hostname, s.Port, statementTimeoutSeconds)
}

func kindOf(err error) errs.Kind {
	if e, ok := err.(*errs.Error); ok {
		return e.Kind
	}
	return ""
}
