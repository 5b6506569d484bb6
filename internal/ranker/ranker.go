// Package ranker implements the pure ranking algebra over per-digest
// statistics. Rank performs no I/O.
package ranker

import (
	"sort"

	"github.com/perconalab/readyset-scheduler/internal/config"
	"github.com/perconalab/readyset-scheduler/internal/proxysql"
)

// key computes the ranking key for mode against d, returning ok=false when
// the key is undefined (e.g. division by zero).
func key(mode config.DiscoveryMode, d proxysql.QueryDigest) (float64, bool) {
	c := float64(d.CountStar)
	st := float64(d.SumTime)
	sr := float64(d.SumRowsSent)
	mn := float64(d.MinTime)
	mx := float64(d.MaxTime)

	switch mode {
	case config.CountStar:
		return c, true
	case config.SumTime:
		return st, true
	case config.SumRowsSent:
		return sr, true
	case config.MeanTime:
		if d.CountStar == 0 {
			return 0, false
		}
		return st / c, true
	case config.ExecutionTimeDistance:
		return mx - mn, true
	case config.QueryThroughput:
		if d.SumTime == 0 {
			return 0, false
		}
		return c / st, true
	case config.WorstBestCase:
		return mn, true
	case config.WorstWorstCase:
		return mx, true
	case config.DistanceMeanMax:
		if d.CountStar == 0 {
			return 0, false
		}
		return mx - (st / c), true
	default:
		return 0, false
	}
}

// Rank filters digests below the execution/row-sent thresholds, drops
// digests whose ranking key is undefined, sorts the remainder descending by
// key (ties broken by digest ascending), and truncates to limit.
func Rank(digests []proxysql.QueryDigest, mode config.DiscoveryMode, minExec, minRows uint64, limit int) []proxysql.QueryDigest {
	type scored struct {
		digest proxysql.QueryDigest
		k      float64
	}

	var candidates []scored
	for _, d := range digests {
		if d.CountStar < minExec {
			continue
		}
		if d.SumRowsSent < minRows {
			continue
		}
		k, ok := key(mode, d)
		if !ok {
			continue
		}
		candidates = append(candidates, scored{digest: d, k: k})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].k != candidates[j].k {
			return candidates[i].k > candidates[j].k
		}
		return candidates[i].digest.Digest < candidates[j].digest.Digest
	})

	if limit >= 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]proxysql.QueryDigest, len(candidates))
	for i, c := range candidates {
		out[i] = c.digest
	}
	return out
}
