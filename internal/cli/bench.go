package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/casengine"
	asynchook "github.com/unkn0wn-root/casengine/hooks/async"
	zaplog "github.com/unkn0wn-root/casengine/log/zap"
	pr "github.com/unkn0wn-root/casengine/provider"
	bcp "github.com/unkn0wn-root/casengine/provider/bigcache"
	rdp "github.com/unkn0wn-root/casengine/provider/redis"
	rp "github.com/unkn0wn-root/casengine/provider/ristretto"
	"github.com/unkn0wn-root/casengine/seq"
	"github.com/unkn0wn-root/casengine/sloghooks"
)

type benchFlags struct {
	config    string
	workers   int
	ops       int
	keys      int
	valueSize string
	getRatio  float64
	tier      string
	redis     string
	redisSeq  bool
}

const benchItemFlags uint32 = 0xbe

type benchResult struct {
	gets, hits, writes, conflicts, blocked atomic.Uint64
}

func newBenchCmd(rf *rootFlags) *cobra.Command {
	f := &benchFlags{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a mixed GET / CAS workload against an engine",
		Long: `Run a mixed workload against a fresh engine and print throughput and stats.

Reads are plain GETs. Writes read the key and store it back with CAS; a lost
race counts as a conflict and a missing key is created with ADD.

Examples:
  casengine bench --workers 8 --ops 100000
  casengine bench --config "cache_size=8MiB" --tier ristretto
  casengine bench --tier redis --redis localhost:6379 --redis-seq`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBench(cmd.Context(), cmd.OutOrStdout(), rf, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.config, "config", "c", "", "engine config string")
	fl.IntVarP(&f.workers, "workers", "w", 4, "concurrent workers")
	fl.IntVarP(&f.ops, "ops", "n", 10000, "operations per worker")
	fl.IntVarP(&f.keys, "keys", "k", 1000, "distinct keys")
	fl.StringVar(&f.valueSize, "value-size", "256B", "value size (humanized)")
	fl.Float64Var(&f.getRatio, "get-ratio", 0.8, "fraction of operations that are reads")
	fl.StringVar(&f.tier, "tier", "none", "second tier: none, ristretto, bigcache or redis")
	fl.StringVar(&f.redis, "redis", "localhost:6379", "redis address for --tier redis and --redis-seq")
	fl.BoolVar(&f.redisSeq, "redis-seq", false, "lease CAS identifiers from redis")
	return cmd
}

func (f *benchFlags) validate() (int, error) {
	switch {
	case f.workers < 1:
		return 0, fmt.Errorf("--workers must be positive")
	case f.ops < 1:
		return 0, fmt.Errorf("--ops must be positive")
	case f.keys < 1:
		return 0, fmt.Errorf("--keys must be positive")
	case f.getRatio < 0 || f.getRatio > 1:
		return 0, fmt.Errorf("--get-ratio must be in [0, 1]")
	}
	n, err := humanize.ParseBytes(f.valueSize)
	if err != nil {
		return 0, fmt.Errorf("--value-size: %w", err)
	}
	return int(n), nil
}

func runBench(ctx context.Context, out io.Writer, rf *rootFlags, f *benchFlags) error {
	size, err := f.validate()
	if err != nil {
		return err
	}
	zl, err := newLogger(rf.verbose)
	if err != nil {
		return err
	}
	defer zl.Sync()

	opts := casengine.Options{Logger: zaplog.New(zl)}
	var rdb goredis.UniversalClient
	if f.tier == "redis" || f.redisSeq {
		rdb = goredis.NewClient(&goredis.Options{Addr: f.redis})
		defer rdb.Close()
	}
	if opts.Tier, err = newTier(ctx, f.tier, rdb); err != nil {
		return err
	}
	config := f.config
	if opts.Tier != nil {
		config = strings.TrimSuffix(config, ";") + ";spill=true"
	}
	if f.redisSeq {
		s, err := seq.NewRedis(seq.RedisConfig{Client: rdb, Namespace: "bench"})
		if err != nil {
			return err
		}
		opts.Sequencer = s
	}
	if rf.verbose {
		h := asynchook.New(sloghooks.New(slog.Default(), sloghooks.Options{EvictedEvery: 100, ReclaimedEvery: 1000}), 1, 4096)
		defer h.Close()
		opts.Hooks = h
	}

	eng, err := casengine.New(config, opts)
	if err != nil {
		return err
	}
	defer eng.Destroy(context.Background(), false)

	var res benchResult
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < f.workers; w++ {
		rng := rand.New(rand.NewPCG(uint64(w), uint64(start.UnixNano())))
		g.Go(func() error {
			return benchWorker(gctx, eng, f, size, rng, &res)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)
	zl.Debug("bench finished", zap.Duration("elapsed", elapsed))

	total := uint64(f.workers * f.ops)
	fmt.Fprintf(out, "ops        %s in %s (%s ops/s)\n",
		humanize.Comma(int64(total)), elapsed.Round(time.Millisecond),
		humanize.Comma(int64(float64(total)/elapsed.Seconds())))
	fmt.Fprintf(out, "gets       %s (%s hits)\n", humanize.Comma(int64(res.gets.Load())), humanize.Comma(int64(res.hits.Load())))
	fmt.Fprintf(out, "writes     %s (%s cas conflicts)\n", humanize.Comma(int64(res.writes.Load())), humanize.Comma(int64(res.conflicts.Load())))
	if b := res.blocked.Load(); b > 0 {
		fmt.Fprintf(out, "deferred   %s\n", humanize.Comma(int64(b)))
	}
	fmt.Fprintln(out)
	return printStats(ctx, out, eng)
}

func newTier(ctx context.Context, kind string, rdb goredis.UniversalClient) (pr.Provider, error) {
	switch kind {
	case "", "none":
		return nil, nil
	case "ristretto":
		return rp.New(rp.Config{NumCounters: 1e6, MaxCost: 256 << 20, BufferItems: 64})
	case "bigcache":
		return bcp.New(ctx, bcp.Config{LifeWindow: 10 * time.Minute, MaxEntrySize: 1 << 10})
	case "redis":
		return rdp.New(rdp.Config{Client: rdb, MaxTTL: time.Hour})
	}
	return nil, fmt.Errorf("unknown tier %q", kind)
}

func benchWorker(ctx context.Context, eng casengine.Engine, f *benchFlags, size int, rng *rand.Rand, res *benchResult) error {
	cookie, sc := casengine.NewCookie(), casengine.NewSyncCookie()
	value := []byte(strings.Repeat("x", size))
	for i := 0; i < f.ops; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := []byte("bench:" + strconv.Itoa(rng.IntN(f.keys)))
		if rng.Float64() < f.getRatio {
			res.gets.Add(1)
			h, err := eng.Get(ctx, cookie, key)
			switch {
			case err == nil:
				res.hits.Add(1)
				eng.Release(cookie, h)
			case errors.Is(err, casengine.ErrWouldBlock):
				res.blocked.Add(1)
				_ = cookie.Wait(ctx)
			case !casengine.IsMiss(err):
				return err
			}
			continue
		}
		res.writes.Add(1)
		if err := benchWrite(ctx, eng, sc, cookie, key, value, res); err != nil {
			return err
		}
	}
	return nil
}

// benchWrite is one read-modify-write cycle. Reads go through a sync cookie
// so a write never waits on the second tier.
func benchWrite(ctx context.Context, eng casengine.Engine, sc, cookie *casengine.Cookie, key, value []byte, res *benchResult) error {
	var (
		observed uint64
		found    bool
	)
	if h, err := eng.Get(ctx, sc, key); err == nil {
		observed, found = h.CAS(), true
		eng.Release(sc, h)
	}
	h, err := eng.Allocate(ctx, cookie, key, len(value), benchItemFlags, 0)
	if err != nil {
		return nonFatal(err)
	}
	defer eng.Release(cookie, h)
	copy(h.Value(), value)

	op := casengine.OpAdd
	switch {
	case observed != 0:
		op = casengine.OpCAS
		h.SetCAS(observed)
	case found:
		op = casengine.OpSet // use_cas=false
	}
	_, err = eng.Store(ctx, cookie, h, op)
	if errors.Is(err, casengine.ErrKeyExists) || errors.Is(err, casengine.ErrKeyNotFound) {
		res.conflicts.Add(1)
		return nil
	}
	return nonFatal(err)
}

// nonFatal drops outcomes a loaded cache produces under normal operation.
func nonFatal(err error) error {
	if errors.Is(err, casengine.ErrNoMemory) || errors.Is(err, casengine.ErrTooBig) {
		return nil
	}
	return err
}

func printStats(ctx context.Context, out io.Writer, eng casengine.Engine) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, group := range []string{casengine.StatsGeneral, casengine.StatsSlabs} {
		err := eng.GetStats(ctx, nil, group, func(k, v string) {
			if isByteStat(k) {
				if n, err := strconv.ParseUint(v, 10, 64); err == nil {
					v = humanize.IBytes(n)
				}
			}
			fmt.Fprintf(tw, "%s\t%s\n", k, v)
		})
		if err != nil {
			return err
		}
	}
	return tw.Flush()
}

func isByteStat(k string) bool {
	return k == "bytes" || k == "limit_maxbytes" || k == "total_malloced" || strings.HasSuffix(k, ":total_bytes")
}
