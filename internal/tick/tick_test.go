package tick

import (
	"testing"

	"go.uber.org/zap"

	"github.com/perconalab/readyset-scheduler/internal/config"
	"github.com/perconalab/readyset-scheduler/internal/discovery"
	"github.com/perconalab/readyset-scheduler/internal/proxysql"
)

type fakeProxyClient struct {
	servers []proxysql.AcceleratorServer
	digests []proxysql.QueryDigest
	rules   []proxysql.QueryRule

	readDigestsCalled int
	flushCalled       int
	persistCalled     int
	dirty             bool
}

func (f *fakeProxyClient) ListAcceleratorServers(int) ([]proxysql.AcceleratorServer, error) {
	return f.servers, nil
}

func (f *fakeProxyClient) SetServerState(int, string, int, proxysql.ServerState) error {
	f.dirty = true
	return nil
}

func (f *fakeProxyClient) ReadDigests(int, string) ([]proxysql.QueryDigest, error) {
	f.readDigestsCalled++
	return f.digests, nil
}

func (f *fakeProxyClient) ListManagedRules() ([]proxysql.QueryRule, error) { return f.rules, nil }

func (f *fakeProxyClient) InsertRedirectRule(string, string, string, int) error {
	f.dirty = true
	return nil
}

func (f *fakeProxyClient) InsertMirrorRule(string, string, string, int, int, int64) error {
	f.dirty = true
	return nil
}

func (f *fakeProxyClient) PromoteRule(int, int) error { return nil }

func (f *fakeProxyClient) FlushRuntime() error { f.flushCalled++; return nil }

func (f *fakeProxyClient) PersistToDisk() error { f.persistCalled++; f.dirty = false; return nil }

func (f *fakeProxyClient) Dirty() bool { return f.dirty }

func (f *fakeProxyClient) Close() error { return nil }

type fakeCacheProbe struct{}

func (fakeCacheProbe) UseSchema(string) error { return nil }

func (fakeCacheProbe) ProbeCacheSupport(string) (bool, error) { return false, nil }

func (fakeCacheProbe) CreateCache(string) error { return nil }

func noopAcceleratorDial(string, int) (string, error) { return "Online", nil }

// S6: when operation_mode=HealthCheck, discovery never runs, so ReadDigests
// must never be called and the cache-client factory must never be invoked.
func TestRunPhasesHealthCheckModeSkipsDiscovery(t *testing.T) {
	proxy := &fakeProxyClient{}
	factoryCalled := false
	factory := func() (discovery.CacheProbe, func() error, error) {
		factoryCalled = true
		return fakeCacheProbe{}, func() error { return nil }, nil
	}

	cfg := config.Config{OperationMode: config.HealthCheck, ReadysetHostgroup: 2}
	_, errList := runPhases(cfg, zap.NewNop(), proxy, noopAcceleratorDial, factory)

	if len(errList) != 0 {
		t.Fatalf("unexpected errors: %v", errList)
	}
	if proxy.readDigestsCalled != 0 {
		t.Fatalf("expected ReadDigests never called under HealthCheck mode, got %d calls", proxy.readDigestsCalled)
	}
	if factoryCalled {
		t.Fatal("expected cache client factory never invoked under HealthCheck mode")
	}
}

// S6 inverse: QueryDiscovery mode never touches the health phase, so the
// Proxy's server list is never consulted for status reconciliation.
func TestRunPhasesQueryDiscoveryModeSkipsHealth(t *testing.T) {
	proxy := &fakeProxyClient{digests: []proxysql.QueryDigest{{Digest: "a", DigestText: "SELECT 1", CountStar: 1}}}
	factory := func() (discovery.CacheProbe, func() error, error) {
		return fakeCacheProbe{}, func() error { return nil }, nil
	}

	cfg := config.Config{
		OperationMode:      config.QueryDiscovery,
		SourceHostgroup:    1,
		ReadysetHostgroup:  2,
		NumberOfQueries:    10,
		QueryDiscoveryMode: config.CountStar,
	}
	_, errList := runPhases(cfg, zap.NewNop(), proxy, noopAcceleratorDial, factory)

	if len(errList) != 0 {
		t.Fatalf("unexpected errors: %v", errList)
	}
	if proxy.readDigestsCalled != 1 {
		t.Fatalf("expected ReadDigests called once under QueryDiscovery mode, got %d", proxy.readDigestsCalled)
	}
	if proxy.flushCalled != 1 {
		t.Fatalf("expected only discovery's FlushRuntime under QueryDiscovery mode, got %d calls", proxy.flushCalled)
	}
}

// With operation_mode=All, both phases run against the same Proxy client
// within one tick; FlushRuntime is called once per phase but PersistToDisk
// must only run once, after both phases, and only while something is dirty.
func TestRunPhasesAllModeFlushesOncePerPhaseAndPersistsOnce(t *testing.T) {
	proxy := &fakeProxyClient{
		servers: []proxysql.AcceleratorServer{{Hostname: "readyset-1", Port: 3307}},
		digests: []proxysql.QueryDigest{{Digest: "a", DigestText: "SELECT 1", CountStar: 1}},
	}
	factory := func() (discovery.CacheProbe, func() error, error) {
		return fakeCacheProbe{}, func() error { return nil }, nil
	}

	cfg := config.Config{
		OperationMode:      config.All,
		SourceHostgroup:    1,
		ReadysetHostgroup:  2,
		NumberOfQueries:    10,
		QueryDiscoveryMode: config.CountStar,
	}
	_, errList := runPhases(cfg, zap.NewNop(), proxy, noopAcceleratorDial, factory)

	if len(errList) != 0 {
		t.Fatalf("unexpected errors: %v", errList)
	}
	if proxy.flushCalled != 2 {
		t.Fatalf("expected FlushRuntime called once by health and once by discovery, got %d", proxy.flushCalled)
	}
	if proxy.persistCalled != 1 {
		t.Fatalf("expected PersistToDisk called exactly once at end of tick, got %d", proxy.persistCalled)
	}
}

func TestRunPhasesSkipsPersistWhenNotDirty(t *testing.T) {
	proxy := &fakeProxyClient{}
	factory := func() (discovery.CacheProbe, func() error, error) {
		return fakeCacheProbe{}, func() error { return nil }, nil
	}

	cfg := config.Config{OperationMode: config.HealthCheck, ReadysetHostgroup: 2}
	_, _ = runPhases(cfg, zap.NewNop(), proxy, noopAcceleratorDial, factory)

	if proxy.persistCalled != 0 {
		t.Fatalf("expected PersistToDisk not called when nothing is dirty, got %d calls", proxy.persistCalled)
	}
}
