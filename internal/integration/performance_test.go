package integration

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aporthq/aport-go/internal/demo"
	"github.com/aporthq/aport-go/pkg/aport"
	"github.com/aporthq/aport-go/pkg/guard"
)

// newBenchGate builds a gate over the zero-latency in-process mock, so the
// measurements cover the gate itself rather than a network round trip.
func newBenchGate(tb testing.TB) *guard.Gate {
	tb.Helper()
	verifier := aport.NewMock(aport.MockLatency(0), aport.MockLogger(testLogger()))
	return guard.New(verifier,
		guard.WithDefaultPolicy("bench.op.v1"),
		guard.WithLogger(testLogger()),
	)
}

// --- Benchmarks ---

// BenchmarkGateCheck measures one in-process verification through the gate
// under single-threaded load.
func BenchmarkGateCheck(b *testing.B) {
	gate := newBenchGate(b)
	ctx := context.Background()

	b.ResetTimer()
	for b.Loop() {
		_, _ = gate.Check(ctx, "bench_op", "agt_bench", nil)
	}
}

// BenchmarkGateCheckParallel measures gate verifications under parallel load
// with GOMAXPROCS goroutines.
func BenchmarkGateCheckParallel(b *testing.B) {
	gate := newBenchGate(b)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			_, _ = gate.Check(ctx, "bench_op", "agt_bench", nil)
		}
	})
}

// BenchmarkBasicWorkflow measures a complete gated workflow run: graph
// compile, two verified nodes, and the conditional route.
func BenchmarkBasicWorkflow(b *testing.B) {
	verifier := aport.NewMock(aport.MockLatency(0), aport.MockLogger(testLogger()))
	runner := demo.NewRunner(verifier, demo.WithLogger(testLogger()))
	ctx := context.Background()

	b.ResetTimer()
	for b.Loop() {
		_, _ = runner.RunWorkflow(ctx, demo.WorkflowBasic, demo.AuthorizedAgent, "bench", true)
	}
}

// --- P99 latency budget ---

// TestGateCheckP99 runs parallel in-process verifications and asserts the
// p50/p99 latency budget (thresholds differ under the race detector).
func TestGateCheckP99(t *testing.T) {
	gate := newBenchGate(t)

	numGoroutines := runtime.GOMAXPROCS(0)
	if numGoroutines < 2 {
		numGoroutines = 2
	}
	iterationsPerGoroutine := 500 / numGoroutines
	if iterationsPerGoroutine < 50 {
		iterationsPerGoroutine = 50
	}
	totalExpected := numGoroutines * iterationsPerGoroutine

	var mu sync.Mutex
	latencies := make([]time.Duration, 0, totalExpected)

	// Warm up allocator and instrument caches.
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, _ = gate.Check(ctx, "warmup_op", "agt_bench", nil)
	}

	var wg sync.WaitGroup
	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			localLatencies := make([]time.Duration, 0, iterationsPerGoroutine)
			for i := 0; i < iterationsPerGoroutine; i++ {
				start := time.Now()
				_, err := gate.Check(ctx, "bench_op", "agt_bench", nil)
				elapsed := time.Since(start)
				if err != nil {
					t.Errorf("Check() returned error: %v", err)
					return
				}
				localLatencies = append(localLatencies, elapsed)
			}
			mu.Lock()
			latencies = append(latencies, localLatencies...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(latencies) == 0 {
		t.Fatal("no latencies collected")
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	p50Idx := len(latencies) * 50 / 100
	p99Idx := len(latencies) * 99 / 100
	if p99Idx >= len(latencies) {
		p99Idx = len(latencies) - 1
	}

	p50 := latencies[p50Idx]
	p99 := latencies[p99Idx]
	pMax := latencies[len(latencies)-1]

	t.Logf("Gate check latency (n=%d, goroutines=%d):", len(latencies), numGoroutines)
	t.Logf("  p50:  %v", p50)
	t.Logf("  p99:  %v", p99)
	t.Logf("  max:  %v", pMax)
	t.Logf("  p99 threshold: %v", perfP99Threshold)
	t.Logf("  p50 threshold: %v", perfP50Threshold)

	if p99 > perfP99Threshold {
		t.Errorf("p99 latency %v exceeds threshold %v", p99, perfP99Threshold)
	}
	if p50 > perfP50Threshold {
		t.Errorf("p50 latency %v exceeds threshold %v", p50, perfP50Threshold)
	}
}
