package seq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

const defaultBlock = 1024

// Redis leases blocks of identifiers from a shared counter with INCRBY, so
// engines sharing one Redis never hand out the same CAS and a restarted engine
// continues above everything issued before.
type Redis struct {
	rdb   redis.UniversalClient
	key   string
	block uint64

	mu   sync.Mutex
	next uint64 // next id to hand out
	end  uint64 // last id of the current lease (inclusive)
	last atomic.Uint64

	closeClient bool
}

var _ Sequencer = (*Redis)(nil)

type RedisConfig struct {
	Client      redis.UniversalClient
	Namespace   string // counter lives at "cas:<namespace>"
	Block       uint64 // ids per lease; 0 => 1024
	CloseClient bool   // set true only if the sequencer owns the client
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("seq: redis client is required")
	}
	block := cfg.Block
	if block == 0 {
		block = defaultBlock
	}
	return &Redis{
		rdb:         cfg.Client,
		key:         "cas:" + cfg.Namespace,
		block:       block,
		closeClient: cfg.CloseClient,
	}, nil
}

func (s *Redis) Next(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next == 0 || s.next > s.end {
		if err := s.leaseLocked(ctx); err != nil {
			return 0, err
		}
	}
	id := s.next
	s.next++
	s.last.Store(id)
	return id, nil
}

// leaseLocked takes the range (hi-block, hi] returned by INCRBY.
func (s *Redis) leaseLocked(ctx context.Context) error {
	hi, err := s.rdb.IncrBy(ctx, s.key, int64(s.block)).Uint64()
	if err != nil {
		return fmt.Errorf("seq: lease block: %w", err)
	}
	if hi < s.block {
		return fmt.Errorf("seq: counter %q below block size (%d < %d)", s.key, hi, s.block)
	}
	s.next = hi - s.block + 1
	s.end = hi
	return nil
}

func (s *Redis) Last() uint64 { return s.last.Load() }

func (s *Redis) Close(context.Context) error {
	if s.closeClient {
		return s.rdb.Close()
	}
	return nil
}
