package casengine

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The engine calls some of them while holding a shard lock.
type Hooks interface {
	// An item was unlinked to make room or because it was dead.
	// reason ∈ {"lru", "expired", "flushed"}
	Evicted(key []byte, reason string)

	// Item memory went back to the allocator.
	Reclaimed(bytes int)

	// An allocation failed even after eviction (or eviction is disabled).
	OutOfMemory(nbytes int)

	// Reading from the second tier failed.
	TierFetchError(key []byte, err error)

	// A spill or delete could not be queued for the second tier.
	TierSpillDropped(key []byte)

	// The CAS sequencer failed to issue an identifier.
	SequencerError(err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Evicted([]byte, string)       {}
func (NopHooks) Reclaimed(int)                {}
func (NopHooks) OutOfMemory(int)              {}
func (NopHooks) TierFetchError([]byte, error) {}
func (NopHooks) TierSpillDropped([]byte)      {}
func (NopHooks) SequencerError(error)         {}
