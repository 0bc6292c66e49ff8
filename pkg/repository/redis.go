package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 16

// Redis keeps session attributes in a hash and the history in a list, so a
// message append is an RPUSH plus an HSET in one MULTI transaction.
type Redis struct {
	client    *redis.Client
	prefix    string
	ttl       time.Duration
	closeOnce sync.Once
}

type RedisOption func(*Redis)

// WithTTL expires idle sessions after d; zero keeps them forever
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = d
	}
}

func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

func NewRedis(redisURL string, opts ...RedisOption) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse redis url")
	}
	return NewRedisWithClient(redis.NewClient(opt), opts...), nil
}

func NewRedisWithClient(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: "docent:session:",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) metaKey(id model.SessionID) string    { return r.prefix + id.String() }
func (r *Redis) historyKey(id model.SessionID) string { return r.prefix + id.String() + ":history" }

func (r *Redis) Create(ctx context.Context, userID string) (*model.Session, error) {
	session := model.NewSession(userID)
	key := r.metaKey(session.ID)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"user_id", session.UserID,
			"status", string(session.Status),
			"created_at", session.CreatedAt.Format(time.RFC3339Nano),
			"updated_at", session.UpdatedAt.Format(time.RFC3339Nano),
		)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create session", goerr.V("session_id", session.ID))
	}
	return session, nil
}

func (r *Redis) Get(ctx context.Context, id model.SessionID) (*model.Session, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return r.get(ctx, id)
}

func (r *Redis) get(ctx context.Context, id model.SessionID) (*model.Session, error) {
	var (
		metaCmd    *redis.MapStringStringCmd
		historyCmd *redis.StringSliceCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		metaCmd = pipe.HGetAll(ctx, r.metaKey(id))
		historyCmd = pipe.LRange(ctx, r.historyKey(id), 0, -1)
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get session", goerr.V("session_id", id))
	}

	meta := metaCmd.Val()
	if len(meta) == 0 {
		return nil, nil
	}

	session := &model.Session{
		ID:          id,
		UserID:      meta["user_id"],
		Status:      model.SessionStatus(meta["status"]),
		ChatHistory: make([]model.ChatMessage, 0, len(historyCmd.Val())),
	}
	if session.CreatedAt, err = time.Parse(time.RFC3339Nano, meta["created_at"]); err != nil {
		return nil, goerr.Wrap(err, "broken created_at", goerr.V("session_id", id))
	}
	if session.UpdatedAt, err = time.Parse(time.RFC3339Nano, meta["updated_at"]); err != nil {
		return nil, goerr.Wrap(err, "broken updated_at", goerr.V("session_id", id))
	}

	for _, raw := range historyCmd.Val() {
		var msg model.ChatMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, goerr.Wrap(err, "broken chat message", goerr.V("session_id", id))
		}
		session.ChatHistory = append(session.ChatHistory, msg)
	}
	return session, nil
}

// mutate runs fn in a MULTI block guarded by WATCH on the session hash, so a
// session deleted concurrently is reported as not found instead of being
// recreated with a partial hash.
func (r *Redis) mutate(ctx context.Context, id model.SessionID, fn func(pipe redis.Pipeliner)) (*model.Session, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	key := r.metaKey(id)
	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return goerr.Wrap(err, "failed to check session", goerr.V("session_id", id))
		}
		if n == 0 {
			return notFound(id)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			fn(pipe)
			pipe.HSet(ctx, key, "updated_at", time.Now().UTC().Format(time.RFC3339Nano))
			if r.ttl > 0 {
				pipe.Expire(ctx, key, r.ttl)
				pipe.Expire(ctx, r.historyKey(id), r.ttl)
			}
			return nil
		})
		return err
	}

	// optimistic lock: another writer touched the hash between WATCH and EXEC
	var err error
	for i := 0; i < maxTxRetries; i++ {
		if err = r.client.Watch(ctx, txf, key); !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		return nil, goerr.Wrap(err, "failed to update session", goerr.V("session_id", id))
	}

	session, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, notFound(id)
	}
	return session, nil
}

func (r *Redis) AddMessage(ctx context.Context, id model.SessionID, msg *model.ChatMessage) (*model.Session, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode chat message")
	}
	return r.mutate(ctx, id, func(pipe redis.Pipeliner) {
		pipe.RPush(ctx, r.historyKey(id), raw)
	})
}

func (r *Redis) UpdateStatus(ctx context.Context, id model.SessionID, st model.SessionStatus) (*model.Session, error) {
	if err := st.Validate(); err != nil {
		return nil, err
	}
	return r.mutate(ctx, id, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, r.metaKey(id), "status", string(st))
	})
}

func (r *Redis) ClearHistory(ctx context.Context, id model.SessionID) (*model.Session, error) {
	return r.mutate(ctx, id, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, r.historyKey(id))
	})
}

func (r *Redis) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if cerr := r.client.Close(); cerr != nil {
			err = goerr.Wrap(cerr, "failed to close redis client")
		}
	})
	return err
}
