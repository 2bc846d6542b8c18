package shardmgr

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/RogerFelipeNsk/crabcache-sub001/store"
)

// TestConcurrentSubmitIsRace exercises many goroutines hammering PUT/GET/DEL
// across all shards at once. Run with -race: Submit is the only path
// allowed to touch a ShardStore, so this must never trip the detector even
// though ShardStore itself carries no lock.
func TestConcurrentSubmitIsRace(t *testing.T) {
	m := New(Config{Shards: 4, CapacityBytesTotal: 1 << 20, UseEviction: true})
	defer m.Shutdown(nil)

	const goroutines = 32
	const opsPerGoroutine = 200
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < opsPerGoroutine; i++ {
				key := []byte(fmt.Sprintf("k-%d-%d", g, i%8))
				switch i % 3 {
				case 0:
					m.SubmitByKey(ctx, key, func(s *store.ShardStore) {
						s.Put(key, []byte("v"), false, 0)
					})
				case 1:
					m.SubmitByKey(ctx, key, func(s *store.ShardStore) {
						s.Get(key)
					})
				case 2:
					m.SubmitByKey(ctx, key, func(s *store.ShardStore) {
						s.Del(key)
					})
				}
			}
		}(g)
	}
	wg.Wait()

	if _, err := m.Stats(ctx); err != nil {
		t.Fatalf("Stats after concurrent load: %v", err)
	}
}
