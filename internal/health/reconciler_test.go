package health

import (
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/perconalab/readyset-scheduler/internal/proxysql"
)

type fakeProxy struct {
	servers     []proxysql.AcceleratorServer
	setCalls    []proxysql.ServerState
	flushCalled int
	setErr      error
}

func (f *fakeProxy) ListAcceleratorServers(int) ([]proxysql.AcceleratorServer, error) {
	return f.servers, nil
}

func (f *fakeProxy) SetServerState(_ int, _ string, _ int, state proxysql.ServerState) error {
	f.setCalls = append(f.setCalls, state)
	return f.setErr
}

func (f *fakeProxy) FlushRuntime() error {
	f.flushCalled++
	return nil
}

func TestReconcilerHealthTransitions(t *testing.T) {
	proxy := &fakeProxy{
		servers: []proxysql.AcceleratorServer{
			{Hostname: "a", Port: 1, Status: proxysql.Shunned},
			{Hostname: "b", Port: 2, Status: proxysql.Online},
			{Hostname: "c", Port: 3, Status: proxysql.Online},
		},
	}

	responses := map[string]string{
		"a": "Online",
		"b": "Maintenance Mode",
		"c": "Snapshot In Progress",
	}

	r := &Reconciler{
		Proxy: proxy,
		Dial: func(host string, port int) (string, error) {
			return responses[host], nil
		},
		Logger: zap.NewNop(),
	}

	errs := r.Run(99)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	if len(proxy.setCalls) != 3 {
		t.Fatalf("expected 3 state changes, got %d", len(proxy.setCalls))
	}
	if proxy.setCalls[0] != proxysql.Online || proxy.setCalls[1] != proxysql.OfflineSoft || proxy.setCalls[2] != proxysql.Shunned {
		t.Fatalf("unexpected target states: %v", proxy.setCalls)
	}
	if proxy.flushCalled != 1 {
		t.Fatalf("expected exactly one flush, got %d", proxy.flushCalled)
	}
}

func TestReconcilerEmptyServerListIsNoOp(t *testing.T) {
	proxy := &fakeProxy{}
	r := &Reconciler{Proxy: proxy, Dial: func(string, int) (string, error) { return "", nil }, Logger: zap.NewNop()}

	errs := r.Run(99)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(proxy.setCalls) != 0 {
		t.Fatalf("expected no state changes for empty server list")
	}
}

func TestReconcilerConnectFailureShunsAndContinues(t *testing.T) {
	proxy := &fakeProxy{
		servers: []proxysql.AcceleratorServer{
			{Hostname: "down", Port: 1, Status: proxysql.Online},
			{Hostname: "up", Port: 2, Status: proxysql.Shunned},
		},
	}

	r := &Reconciler{
		Proxy: proxy,
		Dial: func(host string, port int) (string, error) {
			if host == "down" {
				return "", errors.New("connection refused")
			}
			return "Online", nil
		},
		Logger: zap.NewNop(),
	}

	errs := r.Run(99)
	if len(errs) != 1 {
		t.Fatalf("expected one error for the unreachable server, got %v", errs)
	}
	if len(proxy.setCalls) != 2 {
		t.Fatalf("expected both servers to still receive a target state, got %v", proxy.setCalls)
	}
}

func TestReconcilerUnknownStatusLeavesUnchanged(t *testing.T) {
	proxy := &fakeProxy{
		servers: []proxysql.AcceleratorServer{
			{Hostname: "weird", Port: 1, Status: proxysql.Online},
		},
	}

	r := &Reconciler{
		Proxy:  proxy,
		Dial:   func(string, int) (string, error) { return "some unrecognized status", nil },
		Logger: zap.NewNop(),
	}

	errs := r.Run(99)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(proxy.setCalls) != 0 {
		t.Fatalf("expected unknown status to leave state unchanged, got %v", proxy.setCalls)
	}
}
