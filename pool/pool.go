package pool

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

func newErrorCmd(err error) *redis.Cmd {
	cmd := &redis.Cmd{}
	cmd.SetErr(err)
	return cmd
}

func newErrorStringCmd(err error) *redis.StringCmd {
	cmd := &redis.StringCmd{}
	cmd.SetErr(err)
	return cmd
}

func newErrorStatusCmd(err error) *redis.StatusCmd {
	cmd := &redis.StatusCmd{}
	cmd.SetErr(err)
	return cmd
}

func newErrorBoolCmd(err error) *redis.BoolCmd {
	cmd := &redis.BoolCmd{}
	cmd.SetErr(err)
	return cmd
}

func newErrorIntCmd(err error) *redis.IntCmd {
	cmd := &redis.IntCmd{}
	cmd.SetErr(err)
	return cmd
}

// Pool runs redis commands on the shard that owns the key.
type Pool struct {
	connFactory *ShardConnFactory
}

func NewShard(cfg *ShardConfig) (*Pool, error) {
	factory, err := NewShardConnFactory(cfg)
	if err != nil {
		return nil, err
	}
	return &Pool{
		connFactory: factory,
	}, nil
}

func (p *Pool) Close() error {
	return p.connFactory.Close()
}

// Factory exposes the shard set for adding and removing shards at runtime.
func (p *Pool) Factory() *ShardConnFactory {
	return p.connFactory
}

// WithShard returns the client owning key.
func (p *Pool) WithShard(key string) (*redis.Client, error) {
	return p.connFactory.GetConn(key)
}

func (p *Pool) Get(ctx context.Context, key string) *redis.StringCmd {
	conn, err := p.connFactory.GetConn(key)
	if err != nil {
		return newErrorStringCmd(err)
	}
	return conn.Get(ctx, key)
}

// GetWithFallback reads key from the shards in order of precedence, trying
// up to tries shards and moving on only when a shard can't be reached. It
// serves reads of keys written to several shards of the fallback chain.
func (p *Pool) GetWithFallback(ctx context.Context, key string, tries int) *redis.StringCmd {
	conns, err := p.connFactory.GetConns(key, tries)
	if err != nil {
		return newErrorStringCmd(err)
	}
	var cmd *redis.StringCmd
	for _, conn := range conns {
		cmd = conn.Get(ctx, key)
		if !isNetworkError(cmd.Err()) {
			return cmd
		}
	}
	return cmd
}

func (p *Pool) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	conn, err := p.connFactory.GetConn(key)
	if err != nil {
		return newErrorStatusCmd(err)
	}
	return conn.Set(ctx, key, value, expiration)
}

func (p *Pool) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	conn, err := p.connFactory.GetConn(key)
	if err != nil {
		return newErrorBoolCmd(err)
	}
	return conn.Expire(ctx, key, expiration)
}

func (p *Pool) Incr(ctx context.Context, key string) *redis.IntCmd {
	conn, err := p.connFactory.GetConn(key)
	if err != nil {
		return newErrorIntCmd(err)
	}
	return conn.Incr(ctx, key)
}

// Rename requires key and newkey to live on the same shard, e.g. by sharing
// a {tag}.
func (p *Pool) Rename(ctx context.Context, key, newkey string) *redis.StatusCmd {
	conn, err := p.connFactory.getSameShardConn(key, newkey)
	if err != nil {
		return newErrorStatusCmd(err)
	}
	return conn.Rename(ctx, key, newkey)
}

func (p *Pool) RenameNX(ctx context.Context, key, newkey string) *redis.BoolCmd {
	conn, err := p.connFactory.getSameShardConn(key, newkey)
	if err != nil {
		return newErrorBoolCmd(err)
	}
	return conn.RenameNX(ctx, key, newkey)
}

func (p *Pool) SMove(ctx context.Context, source, destination string, member interface{}) *redis.BoolCmd {
	conn, err := p.connFactory.getSameShardConn(source, destination)
	if err != nil {
		return newErrorBoolCmd(err)
	}
	return conn.SMove(ctx, source, destination, member)
}

func (p *Pool) RPopLPush(ctx context.Context, source, destination string) *redis.StringCmd {
	conn, err := p.connFactory.getSameShardConn(source, destination)
	if err != nil {
		return newErrorStringCmd(err)
	}
	return conn.RPopLPush(ctx, source, destination)
}

func (p *Pool) Del(ctx context.Context, keys ...string) (int64, error) {
	fn := func(conn *redis.Client, keyList ...string) redis.Cmder {
		return conn.Del(ctx, keyList...)
	}
	return p.connFactory.doMultiIntCommand(fn, keys...)
}

func (p *Pool) Exists(ctx context.Context, keys ...string) (int64, error) {
	fn := func(conn *redis.Client, keyList ...string) redis.Cmder {
		return conn.Exists(ctx, keyList...)
	}
	return p.connFactory.doMultiIntCommand(fn, keys...)
}

func (p *Pool) MGet(ctx context.Context, keys ...string) ([]interface{}, error) {
	fn := func(conn *redis.Client, keyList ...string) redis.Cmder {
		return conn.MGet(ctx, keyList...)
	}

	results := p.connFactory.doMultiKeys(fn, keys...)
	keyVals := make(map[string]interface{}, len(keys))
	for _, result := range results {
		if result.Err() != nil {
			return nil, result.Err()
		}
		args := result.Args()
		for i, val := range result.(*redis.SliceCmd).Val() {
			keyVals[args[i+1].(string)] = val
		}
	}
	vals := make([]interface{}, len(keys))
	for i, key := range keys {
		vals[i] = keyVals[key]
	}
	return vals, nil
}

// MSet writes the key/value pairs, grouped per shard. Unlike a single redis
// MSET it is not atomic across shards.
func (p *Pool) MSet(ctx context.Context, pairs map[string]interface{}) error {
	keys := make([]string, 0, len(pairs))
	for key := range pairs {
		keys = append(keys, key)
	}
	fn := func(conn *redis.Client, keyList ...string) redis.Cmder {
		args := make([]interface{}, 0, 2*len(keyList))
		for _, key := range keyList {
			args = append(args, key, pairs[key])
		}
		return conn.MSet(ctx, args...)
	}
	for _, result := range p.connFactory.doMultiKeys(fn, keys...) {
		if result.Err() != nil {
			return result.Err()
		}
	}
	return nil
}
