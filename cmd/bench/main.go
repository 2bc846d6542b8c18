// Command bench runs a synthetic PUT/GET workload against an Engine and
// exposes a Prometheus metrics endpoint plus an optional pprof endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RogerFelipeNsk/crabcache-sub001/cache"
	pmet "github.com/RogerFelipeNsk/crabcache-sub001/metrics/prom"
	"github.com/RogerFelipeNsk/crabcache-sub001/protocol"
	"github.com/RogerFelipeNsk/crabcache-sub001/wal"
)

func main() {
	var (
		capBytes = flag.Int64("cap-bytes", 256<<20, "total resident-bytes capacity")
		shards   = flag.Int("shards", 0, "number of shards (0=auto)")
		dir      = flag.String("dir", "", "wal directory (empty = temp dir)")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")

		keys    = flag.Int("keys", 1_000_000, "keyspace size")
		zipfS   = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV   = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed    = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		preload = flag.Int("preload", 0, "preload entries (0 = keys/2)")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	metrics := pmet.New(nil, "crabcache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	walDir := *dir
	if walDir == "" {
		var err error
		walDir, err = os.MkdirTemp("", "crabcache-bench-*")
		if err != nil {
			log.Fatalf("create wal dir: %v", err)
		}
		defer os.RemoveAll(walDir)
	}

	eng, err := cache.New(cache.Options{
		Dir:           walDir,
		CapacityBytes: *capBytes,
		Shards:        *shards,
		WALPolicy:     wal.SyncNone, // benchmark throughput, not durability
		Metrics:       metrics,
	})
	if err != nil {
		log.Fatalf("cache.New: %v", err)
	}
	defer eng.Close()

	ctx := context.Background()

	pl := *preload
	if pl == 0 {
		pl = *keys / 2
	}
	for i := 0; i < pl; i++ {
		k := "k:" + strconv.Itoa(i)
		eng.Process(ctx, protocol.Command{Kind: protocol.KindPut, Key: []byte(k), Value: []byte("v" + strconv.Itoa(i))})
	}

	readPctVal := *readPct
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	var reads, writes, hits, misses, total uint64
	runCtx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, keysMax)

			keyByZipf := func() []byte {
				return []byte("k:" + strconv.FormatUint(localZipf.Uint64(), 10))
			}

			for {
				select {
				case <-runCtx.Done():
					return
				default:
				}

				atomic.AddUint64(&total, 1)
				if int(localR.Int31n(100)) < readPctVal {
					atomic.AddUint64(&reads, 1)
					resp := eng.Process(runCtx, protocol.Command{Kind: protocol.KindGet, Key: keyByZipf()})
					if resp.Kind == protocol.RespValue {
						atomic.AddUint64(&hits, 1)
					} else {
						atomic.AddUint64(&misses, 1)
					}
				} else {
					atomic.AddUint64(&writes, 1)
					eng.Process(runCtx, protocol.Command{
						Kind:  protocol.KindPut,
						Key:   keyByZipf(),
						Value: []byte("v" + strconv.Itoa(localR.Int())),
					})
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	ops := atomic.LoadUint64(&total)
	readsN := atomic.LoadUint64(&reads)
	writesN := atomic.LoadUint64(&writes)
	hitsN := atomic.LoadUint64(&hits)
	missesN := atomic.LoadUint64(&misses)

	hitRate := 0.0
	if readsN > 0 {
		hitRate = float64(hitsN) / float64(readsN) * 100
	}

	stats, _ := eng.PollStats(context.Background())
	fmt.Printf("cap-bytes=%d shards=%d workers=%d keys=%d dur=%v seed=%d\n",
		*capBytes, *shards, workersN, *keys, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, writesN)
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%\n", hitsN, missesN, hitRate)
	fmt.Printf("entries=%d memory_used=%d\n", stats.Entries, stats.MemoryUsedBytes)
}
