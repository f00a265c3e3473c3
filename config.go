package casengine

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// ByteSize is a byte count. Config values accept plain integers and
// humanized sizes ("64MiB", "512kB").
type ByteSize uint64

func (b ByteSize) String() string { return humanize.IBytes(uint64(b)) }

// Config is the engine configuration accepted by Initialize as
// "key=value;key=value".
type Config struct {
	CacheSize    ByteSize      `mapstructure:"cache_size"`    // memory budget for items
	ItemSizeMax  ByteSize      `mapstructure:"item_size_max"` // largest key+value
	KeyMax       int           `mapstructure:"key_max"`
	ChunkSize    int           `mapstructure:"chunk_size"` // smallest size class
	Factor       float64       `mapstructure:"factor"`     // size class growth
	Eviction     bool          `mapstructure:"eviction"`   // false => ENOMEM when full
	UseCAS       bool          `mapstructure:"use_cas"`
	Shards       int           `mapstructure:"shards"`
	EvictMax     int           `mapstructure:"evict_max"`     // victims per allocation
	ReapInterval time.Duration `mapstructure:"reap_interval"` // 0 => no background reaper
	TierTimeout  time.Duration `mapstructure:"tier_timeout"`
	Spill        bool          `mapstructure:"spill"` // write evictions to the tier
	Namespace    string        `mapstructure:"namespace"`
	Verbose      bool          `mapstructure:"verbose"`
}

var configDefaults = map[string]any{
	"cache_size":    ByteSize(64 << 20),
	"item_size_max": ByteSize(1 << 20),
	"key_max":       250,
	"chunk_size":    48,
	"factor":        1.25,
	"eviction":      true,
	"use_cas":       true,
	"shards":        16,
	"evict_max":     64,
	"reap_interval": time.Duration(0),
	"tier_timeout":  250 * time.Millisecond,
	"spill":         false,
	"namespace":     "default",
	"verbose":       false,
}

// DefaultConfig returns the configuration used for an empty config string.
func DefaultConfig() Config {
	cfg, err := ParseConfig("")
	if err != nil {
		panic(err) // defaults are static
	}
	return cfg
}

// ParseConfig parses "key=value[;key=value...]". Unknown keys and malformed
// values are invalid-argument errors.
func ParseConfig(s string) (Config, error) {
	v := viper.NewWithOptions(viper.WithDecodeHook(mapstructure.ComposeDecodeHookFunc(
		byteSizeHook,
		mapstructure.StringToTimeDurationHookFunc(),
	)))
	for k, d := range configDefaults {
		v.SetDefault(k, d)
	}

	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, val, ok := strings.Cut(part, "=")
		if !ok {
			return Config{}, configErr(fmt.Errorf("missing '=' in %q", part))
		}
		k = strings.ToLower(strings.TrimSpace(k))
		if _, known := configDefaults[k]; !known {
			return Config{}, configErr(fmt.Errorf("unknown key %q", k))
		}
		v.Set(k, strings.TrimSpace(val))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) { dc.ErrorUnused = true }); err != nil {
		return Config{}, configErr(err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, configErr(err)
	}
	cfg.Shards = nextPow2(cfg.Shards)
	return cfg, nil
}

func configErr(cause error) error {
	return &OpError{Op: "initialize", Err: ErrInvalid, Cause: cause}
}

func (c Config) validate() error {
	switch {
	case c.CacheSize == 0 || c.CacheSize > math.MaxInt64:
		return fmt.Errorf("cache_size out of range: %d", c.CacheSize)
	case c.ItemSizeMax < 1024:
		return fmt.Errorf("item_size_max must be at least 1KiB, got %d", c.ItemSizeMax)
	case c.ItemSizeMax > c.CacheSize:
		return fmt.Errorf("item_size_max %s exceeds cache_size %s", c.ItemSizeMax, c.CacheSize)
	case c.KeyMax < 1 || c.KeyMax > math.MaxUint16:
		return fmt.Errorf("key_max out of range: %d", c.KeyMax)
	case c.ChunkSize < 8 || uint64(c.ChunkSize) > uint64(c.ItemSizeMax):
		return fmt.Errorf("chunk_size out of range: %d", c.ChunkSize)
	case c.Factor <= 1.0 || c.Factor > 4.0:
		return fmt.Errorf("factor must be in (1, 4], got %v", c.Factor)
	case c.Shards < 1 || c.Shards > 1024:
		return fmt.Errorf("shards out of range: %d", c.Shards)
	case c.EvictMax < 1:
		return fmt.Errorf("evict_max must be positive, got %d", c.EvictMax)
	case c.ReapInterval < 0 || c.TierTimeout < 0:
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

func byteSizeHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(ByteSize(0)) {
		return data, nil
	}
	switch d := data.(type) {
	case ByteSize:
		return d, nil
	case string:
		n, err := humanize.ParseBytes(strings.TrimSpace(d))
		if err != nil {
			return nil, err
		}
		return ByteSize(n), nil
	case int:
		if d < 0 {
			return nil, fmt.Errorf("negative size %d", d)
		}
		return ByteSize(d), nil
	case int64:
		if d < 0 {
			return nil, fmt.Errorf("negative size %d", d)
		}
		return ByteSize(d), nil
	case uint64:
		return ByteSize(d), nil
	}
	return data, nil
}

// settings pushes the effective configuration, in a stable order.
func (c Config) settings(add AddStat) {
	add("cache_size", strconv.FormatUint(uint64(c.CacheSize), 10))
	add("item_size_max", strconv.FormatUint(uint64(c.ItemSizeMax), 10))
	add("key_max", strconv.Itoa(c.KeyMax))
	add("chunk_size", strconv.Itoa(c.ChunkSize))
	add("factor", strconv.FormatFloat(c.Factor, 'f', 2, 64))
	add("eviction", onOff(c.Eviction))
	add("use_cas", onOff(c.UseCAS))
	add("shards", strconv.Itoa(c.Shards))
	add("evict_max", strconv.Itoa(c.EvictMax))
	add("reap_interval", c.ReapInterval.String())
	add("tier_timeout", c.TierTimeout.String())
	add("spill", onOff(c.Spill))
	add("namespace", c.Namespace)
	add("verbose", onOff(c.Verbose))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
