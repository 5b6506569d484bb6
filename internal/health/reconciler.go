// Package health maps Accelerator-reported status onto Proxy server state.
package health

import (
	"go.uber.org/zap"

	"github.com/perconalab/readyset-scheduler/internal/accelerator"
	"github.com/perconalab/readyset-scheduler/internal/proxysql"
)

// ProxyWriter is the subset of proxysql.Client the reconciler needs.
type ProxyWriter interface {
	ListAcceleratorServers(readysetHostgroup int) ([]proxysql.AcceleratorServer, error)
	SetServerState(hostgroup int, host string, port int, state proxysql.ServerState) error
	FlushRuntime() error
}

// AcceleratorDialer opens a connection to one Accelerator backend and
// returns its reported status, or an error classified as AcceleratorConnect
// or ParseStatus.
type AcceleratorDialer func(host string, port int) (string, error)

// Reconciler runs the per-tick health reconciliation phase.
type Reconciler struct {
	Proxy  ProxyWriter
	Dial   AcceleratorDialer
	Logger *zap.Logger
}

// Run processes every Accelerator server independently; one server's
// failure does not abort the phase. It returns the non-fatal errors
// encountered, if any.
func (r *Reconciler) Run(readysetHostgroup int) []error {
	servers, err := r.Proxy.ListAcceleratorServers(readysetHostgroup)
	if err != nil {
		return []error{err}
	}

	var errors []error
	for _, s := range servers {
		target, raw, err := r.targetState(s)
		if err != nil {
			errors = append(errors, err)
			r.Logger.Warn("accelerator health probe failed", zap.String("host", s.Hostname), zap.Int("port", s.Port), zap.Error(err))
			target = proxysql.Shunned
		} else if target == "" {
			r.Logger.Warn("unrecognized accelerator status, leaving target unchanged",
				zap.String("host", s.Hostname), zap.Int("port", s.Port), zap.String("status", raw))
			continue
		}

		if target == s.Status {
			continue
		}

		if err := r.Proxy.SetServerState(s.HostgroupID, s.Hostname, s.Port, target); err != nil {
			errors = append(errors, err)
		}
	}

	if err := r.Proxy.FlushRuntime(); err != nil {
		errors = append(errors, err)
	}

	return errors
}

// targetState connects to s and maps its reported status to a target Proxy
// state. An empty target with a nil error means "leave unchanged" (the
// Unknown status case).
func (r *Reconciler) targetState(s proxysql.AcceleratorServer) (proxysql.ServerState, string, error) {
	raw, err := r.Dial(s.Hostname, s.Port)
	if err != nil {
		return proxysql.Shunned, "", err
	}

	switch accelerator.ParseStatus(raw) {
	case accelerator.StatusOnline:
		return proxysql.Online, raw, nil
	case accelerator.StatusMaintenanceMode:
		return proxysql.OfflineSoft, raw, nil
	case accelerator.StatusSnapshotInProgress:
		return proxysql.Shunned, raw, nil
	default:
		return "", raw, nil
	}
}
