package perf

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/crewnet-hq/crewnet/internal/identity"
	"github.com/crewnet-hq/crewnet/internal/relationships"
	"github.com/crewnet-hq/crewnet/internal/statuscache"
	_ "github.com/crewnet-hq/crewnet/internal/testing/guard"
)

type slowSource struct {
	delay time.Duration
}

func (s slowSource) ResolveStatus(ctx context.Context, viewer identity.Persona, target identity.Endpoint) (relationships.RelationshipStatus, error) {
	time.Sleep(s.delay)
	st := relationships.EmptyStatus()
	st.Connection = relationships.ConnectionViewAccepted
	return st, nil
}

func (s slowSource) ResolveStatusBatch(ctx context.Context, viewer identity.Persona, targets []identity.Endpoint) map[string]relationships.RelationshipStatus {
	out := make(map[string]relationships.RelationshipStatus, len(targets))
	for _, t := range targets {
		st, _ := s.ResolveStatus(ctx, viewer, t)
		out[t.Key()] = st
	}
	return out
}

// Warm lookups must stay far below the cost of hitting the resolver; this
// guards against accidentally reintroducing a resolver round trip on the
// hot path.
func TestStatusLookupLatencyTargets(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := statuscache.NewCache(slowSource{delay: 5 * time.Millisecond}, rdb, time.Minute, logger)

	viewer := identity.PersonalPersona(7)
	target := identity.UserEndpoint(8)
	ctx := context.Background()

	// first lookup pays the resolver cost
	cache.Get(ctx, viewer, target)

	const samples = 50
	warm := make([]time.Duration, 0, samples)
	for i := 0; i < samples; i++ {
		start := time.Now()
		st := cache.Get(ctx, viewer, target)
		warm = append(warm, time.Since(start))
		if st.Connection != relationships.ConnectionViewAccepted {
			t.Fatalf("unexpected status on warm lookup: %+v", st)
		}
	}

	cold := make([]time.Duration, 0, samples/5)
	for i := 0; i < samples/5; i++ {
		start := time.Now()
		cache.Get(ctx, viewer, identity.UserEndpoint(int64(100+i)))
		cold = append(cold, time.Since(start))
	}

	warmP95 := percentile95(warm)
	coldP95 := percentile95(cold)
	if warmP95 > 5*time.Millisecond {
		t.Fatalf("warm lookup regression: p95=%s", warmP95)
	}
	if coldP95 > 250*time.Millisecond {
		t.Fatalf("cold lookup regression: p95=%s", coldP95)
	}
	if warmP95 >= coldP95 {
		t.Fatalf("warm lookups (%s) should be cheaper than cold ones (%s)", warmP95, coldP95)
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
