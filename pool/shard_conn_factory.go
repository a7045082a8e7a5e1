package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/bitleak/go-flexihash"
	"github.com/bitleak/go-flexihash/hashkit"
)

var (
	errNoShards         = errors.New("no shards available")
	errEmptyShardConfig = errors.New("shard options shouldn't be empty")
	errCrossMultiShards = errors.New("cross multi shards was not allowed")

	// ErrShardNotFound is returned when removing a shard that was never added.
	ErrShardNotFound = errors.New("shard not found")
)

// Shard is a redis server on the ring.
type Shard struct {
	Name    string         // identity on the ring, defaults to Options.Addr
	Weight  float64        // multiplier of the ring replicas, defaults to 1
	Options *redis.Options // redis options, Addr is required
}

type ShardConfig struct {
	Shards   []*Shard
	Replicas int            // ring positions per shard, defaults to flexihash.DefaultReplicas
	Hasher   hashkit.Hasher // defaults to hashkit.Crc32

	AutoEjectHost      bool          // take the failing shard off the ring or not
	ServerFailureLimit int32         // eject after `ServerFailureLimit` consecutive network failures
	ServerRetryTimeout time.Duration // put the ejected shard back after `ServerRetryTimeout`
	MinServerNum       int           // never eject below this many shards

	Logger *slog.Logger
}

func (cfg *ShardConfig) init() error {
	if cfg.Hasher == nil {
		cfg.Hasher = hashkit.HashFunc(hashkit.Crc32)
	}
	if cfg.ServerFailureLimit <= 0 {
		cfg.ServerFailureLimit = 3
	}
	if cfg.ServerRetryTimeout <= 0 {
		cfg.ServerRetryTimeout = 5 * time.Second
	}
	if cfg.MinServerNum <= 0 {
		cfg.MinServerNum = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	for _, shard := range cfg.Shards {
		if err := shard.init(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Shard) init() error {
	if s == nil || s.Options == nil {
		return errEmptyShardConfig
	}
	if s.Name == "" {
		s.Name = s.Options.Addr
	}
	if s.Weight == 0 {
		s.Weight = 1
	}
	return nil
}

type shardConn struct {
	shard   *Shard
	client  *redis.Client
	ejected bool
}

// ShardConnFactory dispatches keys to redis clients with a consistent hashing
// ring. It is safe for concurrent use.
type ShardConnFactory struct {
	cfg    *ShardConfig
	logger *slog.Logger

	// mu guards ring and conns. Lookups take the write lock since they may
	// rebuild the ring's sorted index.
	mu    sync.RWMutex
	ring  *flexihash.Ring
	conns map[string]*shardConn
}

func NewShardConnFactory(cfg *ShardConfig) (*ShardConnFactory, error) {
	if cfg == nil {
		return nil, errors.New("factory cfg shouldn't be empty")
	}
	if err := cfg.init(); err != nil {
		return nil, err
	}
	ring, err := flexihash.New(&flexihash.Config{
		Hasher:   cfg.Hasher,
		Replicas: cfg.Replicas,
		HashTags: true,
	})
	if err != nil {
		return nil, err
	}
	factory := &ShardConnFactory{
		cfg:    cfg,
		logger: cfg.Logger,
		ring:   ring,
		conns:  make(map[string]*shardConn, len(cfg.Shards)),
	}
	for _, shard := range cfg.Shards {
		if err := factory.AddShard(shard); err != nil {
			factory.Close()
			return nil, err
		}
	}
	return factory, nil
}

// AddShard connects to shard and puts it on the ring.
func (factory *ShardConnFactory) AddShard(shard *Shard) error {
	if err := shard.init(); err != nil {
		return err
	}

	factory.mu.Lock()
	defer factory.mu.Unlock()
	if _, exists := factory.conns[shard.Name]; exists {
		return fmt.Errorf("%w: %q", flexihash.ErrDuplicateTarget, shard.Name)
	}
	if err := factory.ring.AddWeightedTarget(shard.Name, shard.Weight); err != nil {
		return err
	}
	conn := &shardConn{
		shard:  shard,
		client: redis.NewClient(shard.Options),
	}
	if factory.cfg.AutoEjectHost {
		name := shard.Name
		conn.client.AddHook(newAutoEjectHostHook(factory.cfg.ServerRetryTimeout, factory.cfg.ServerFailureLimit, func() {
			factory.eject(name)
		}, func() {
			factory.rejoin(name)
		}))
	}
	factory.conns[shard.Name] = conn
	factory.logger.Info("shard added", "shard", shard.Name, "addr", shard.Options.Addr, "weight", shard.Weight)
	return nil
}

// RemoveShard takes the shard off the ring and closes its client.
func (factory *ShardConnFactory) RemoveShard(name string) error {
	factory.mu.Lock()
	conn, exists := factory.conns[name]
	if !exists {
		factory.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrShardNotFound, name)
	}
	if !conn.ejected {
		if err := factory.ring.RemoveTarget(name); err != nil {
			factory.mu.Unlock()
			return err
		}
	}
	delete(factory.conns, name)
	factory.mu.Unlock()

	factory.logger.Info("shard removed", "shard", name)
	return conn.client.Close()
}

// Shards returns the names of the shards currently on the ring, ejected
// shards excluded.
func (factory *ShardConnFactory) Shards() []string {
	factory.mu.RLock()
	defer factory.mu.RUnlock()
	return factory.ring.Targets()
}

func (factory *ShardConnFactory) eject(name string) {
	factory.mu.Lock()
	defer factory.mu.Unlock()
	conn, exists := factory.conns[name]
	if !exists || conn.ejected {
		return
	}
	if factory.ring.Len() <= factory.cfg.MinServerNum {
		factory.logger.Warn("shard kept on the ring, min server num reached", "shard", name, "min", factory.cfg.MinServerNum)
		return
	}
	if err := factory.ring.RemoveTarget(name); err != nil {
		factory.logger.Error("failed to eject shard", "shard", name, "err", err)
		return
	}
	conn.ejected = true
	factory.logger.Warn("shard ejected", "shard", name, "retry", factory.cfg.ServerRetryTimeout)
}

func (factory *ShardConnFactory) rejoin(name string) {
	factory.mu.Lock()
	defer factory.mu.Unlock()
	conn, exists := factory.conns[name]
	if !exists || !conn.ejected {
		return
	}
	if err := factory.ring.AddWeightedTarget(name, conn.shard.Weight); err != nil {
		factory.logger.Error("failed to rejoin shard", "shard", name, "err", err)
		return
	}
	conn.ejected = false
	factory.logger.Info("shard rejoined", "shard", name)
}

// ShardName returns the name of the shard key belongs to. Only the {tag}
// part of the key is hashed when present.
func (factory *ShardConnFactory) ShardName(key string) (string, error) {
	factory.mu.Lock()
	defer factory.mu.Unlock()
	name, err := factory.ring.Lookup(key)
	if errors.Is(err, flexihash.ErrEmptyRing) {
		return "", errNoShards
	}
	return name, err
}

func (factory *ShardConnFactory) GetConn(key string) (*redis.Client, error) {
	conns, err := factory.GetConns(key, 1)
	if err != nil {
		return nil, err
	}
	return conns[0], nil
}

// GetConns returns up to n clients for key in order of precedence, the first
// one being the owner of the key and the rest its fallbacks.
func (factory *ShardConnFactory) GetConns(key string, n int) ([]*redis.Client, error) {
	factory.mu.Lock()
	defer factory.mu.Unlock()
	names := factory.ring.LookupList(key, n)
	if len(names) == 0 {
		return nil, errNoShards
	}
	clients := make([]*redis.Client, 0, len(names))
	for _, name := range names {
		clients = append(clients, factory.conns[name].client)
	}
	return clients, nil
}

// Close closes the clients of all shards, ejected ones included.
func (factory *ShardConnFactory) Close() error {
	factory.mu.Lock()
	defer factory.mu.Unlock()
	var firstErr error
	for name, conn := range factory.conns {
		if err := conn.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(factory.conns, name)
	}
	return firstErr
}

// keyGroup holds the keys owned by one shard.
type keyGroup struct {
	shard string
	conn  *redis.Client
	keys  []string
}

// groupKeys dispatches all keys under one lock, so an ejection can't split
// the groups over two versions of the ring.
func (factory *ShardConnFactory) groupKeys(keys ...string) ([]*keyGroup, error) {
	factory.mu.Lock()
	defer factory.mu.Unlock()
	index := make(map[string]*keyGroup)
	var groups []*keyGroup
	for _, key := range keys {
		name, err := factory.ring.Lookup(key)
		if err != nil {
			return nil, errNoShards
		}
		group, exists := index[name]
		if !exists {
			group = &keyGroup{shard: name, conn: factory.conns[name].client}
			index[name] = group
			groups = append(groups, group)
		}
		group.keys = append(group.keys, key)
	}
	return groups, nil
}

// GroupKeys returns the keys grouped by the name of their shard.
func (factory *ShardConnFactory) GroupKeys(keys ...string) (map[string][]string, error) {
	groups, err := factory.groupKeys(keys...)
	if err != nil {
		return nil, err
	}
	shard2Keys := make(map[string][]string, len(groups))
	for _, group := range groups {
		shard2Keys[group.shard] = group.keys
	}
	return shard2Keys, nil
}

// IsCrossMultiShards reports whether keys belong to more than one shard.
func (factory *ShardConnFactory) IsCrossMultiShards(keys ...string) bool {
	groups, err := factory.groupKeys(keys...)
	return err == nil && len(groups) > 1
}

// getSameShardConn returns the client owning all keys, or errCrossMultiShards.
func (factory *ShardConnFactory) getSameShardConn(keys ...string) (*redis.Client, error) {
	groups, err := factory.groupKeys(keys...)
	if err != nil {
		return nil, err
	}
	if len(groups) > 1 {
		return nil, errCrossMultiShards
	}
	if len(groups) == 0 {
		return nil, errNoShards
	}
	return groups[0].conn, nil
}

type multiKeyFn func(conn *redis.Client, keys ...string) redis.Cmder

func (factory *ShardConnFactory) doMultiKeys(fn multiKeyFn, keys ...string) []redis.Cmder {
	groups, err := factory.groupKeys(keys...)
	if err != nil {
		return []redis.Cmder{newErrorCmd(err)}
	}
	if len(groups) == 1 {
		return []redis.Cmder{fn(groups[0].conn, groups[0].keys...)}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	var results []redis.Cmder
	for _, group := range groups {
		wg.Add(1)
		go func(group *keyGroup) {
			defer wg.Done()
			result := fn(group.conn, group.keys...)
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}(group)
	}
	wg.Wait()
	return results
}

func (factory *ShardConnFactory) doMultiIntCommand(fn multiKeyFn, keys ...string) (int64, error) {
	var err error
	total := int64(0)
	results := factory.doMultiKeys(fn, keys...)
	for _, result := range results {
		if result.Err() != nil {
			err = result.Err()
			continue
		}
		if cmd, ok := result.(*redis.IntCmd); ok {
			total += cmd.Val()
		}
	}
	return total, err
}
