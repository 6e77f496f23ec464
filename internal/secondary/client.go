// Package secondary implements the optional shared-fleet tier:
// write-through plus a pub/sub bus a small fleet of Synapse instances use
// to converge on the same set of recently-written entries.
//
// Built on github.com/redis/go-redis/v9, the same client family the
// teacher package depends on.
package secondary

import (
	"context"
	"time"

	"github.com/klauspost/compress/s2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	uuid "github.com/satori/go.uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/sabirovruslan/synapse/internal/config"
	"github.com/sabirovruslan/synapse/internal/metrics"
)

const tracerName = "synapse/secondary"

// Update is the compact event payload published on every write-through.
// It carries no value: recipients fetch the value themselves from the
// secondary store.
type Update struct {
	Key     string  `msgpack:"key"`
	TTLSecs *uint64 `msgpack:"ttl_secs"`
}

// Client is the optional secondary-store tier. Cheaply clonable by
// sharing the pointer (go-redis's UniversalClient is itself a
// connection-multiplexing, concurrency-safe handle).
type Client struct {
	id      string
	rdb     redis.UniversalClient
	prefix  string
	channel string
	metrics *metrics.Set
	tracer  trace.Tracer
}

// New builds a Client from cfg. Returns an error only for a malformed
// URL or connection-options failure.
func New(cfg config.SecondaryConfig, m *metrics.Set) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	return &Client{
		id:      uuid.NewV4().String(),
		rdb:     redis.NewClient(opts),
		prefix:  cfg.Prefix,
		channel: cfg.Channel,
		metrics: m,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// PrefixedKey applies the configured key prefix.
func (c *Client) PrefixedKey(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + key
}

// Channel returns the configured pub/sub channel name.
func (c *Client) Channel() string {
	return c.channel
}

// ID returns this client's instance id, used only for log correlation;
// it is never part of the wire-visible Update payload.
func (c *Client) ID() string {
	return c.id
}

// Set writes value under key's prefixed form and publishes an Update
// event, as a single atomic pipeline: either both are observed by peers,
// or neither is.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttlSecs uint64) error {
	ctx, span := c.tracer.Start(ctx, "secondary.Set")
	defer span.End()

	redisKey := c.PrefixedKey(key)
	compressed := s2.Encode(nil, value)

	var ttlPtr *uint64
	var expiry time.Duration
	if ttlSecs != 0 {
		ttl := ttlSecs
		ttlPtr = &ttl
		expiry = time.Duration(ttlSecs) * time.Second
	}

	payload, err := msgpack.Marshal(Update{Key: key, TTLSecs: ttlPtr})
	if err != nil {
		return err
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, redisKey, compressed, expiry)
	pipe.Publish(ctx, c.channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		if c.metrics != nil {
			c.metrics.Error.WithLabelValues("secondary_set").Inc()
		}
		log.Error().Err(err).Str("client_id", c.id).Str("key", key).
			Msg("secondary: write-through pipeline failed")
		return err
	}
	return nil
}

// Get reads and decompresses the value stored at a prefixed key. The
// bool is false on a clean cache miss.
func (c *Client) Get(ctx context.Context, prefixedKey string) ([]byte, bool, error) {
	ctx, span := c.tracer.Start(ctx, "secondary.Get")
	defer span.End()

	compressed, err := c.rdb.Get(ctx, prefixedKey).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	value, err := s2.Decode(nil, compressed)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Subscribe opens a subscription to the configured channel. Callers own
// the returned handle's lifetime.
func (c *Client) Subscribe(ctx context.Context) *redis.PubSub {
	return c.rdb.Subscribe(ctx, c.channel)
}

// Close releases the underlying Redis connections.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// DecodeUpdate defensively decodes a pub/sub payload; a decode failure
// is the caller's to log and skip, never fatal.
func DecodeUpdate(payload []byte) (Update, error) {
	var u Update
	if err := msgpack.Unmarshal(payload, &u); err != nil {
		return Update{}, err
	}
	return u, nil
}
