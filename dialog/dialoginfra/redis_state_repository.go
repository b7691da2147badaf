package dialoginfra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/convo/pkg/kernel"
	"github.com/Abraxas-365/craftable/errx"
	"github.com/go-redis/redis/v8"
)

const defaultKeyPrefix = "convo"

// RedisStateRepository guarda el estado como JSON en <prefix>:state:<bot>:<conv>.
// The sorted set <prefix>:inactive indexes conversations by ExpiresAt.
type RedisStateRepository struct {
	redis  *redis.Client
	prefix string
}

var _ dialog.StateRepository = (*RedisStateRepository)(nil)

func NewRedisStateRepository(client *redis.Client, prefix string) *RedisStateRepository {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStateRepository{redis: client, prefix: strings.TrimSuffix(prefix, ":")}
}

func (r *RedisStateRepository) stateKey(key kernel.ConversationKey) string {
	return fmt.Sprintf("%s:state:%s", r.prefix, key.String())
}

func (r *RedisStateRepository) inactiveKey() string {
	return r.prefix + ":inactive"
}

func (r *RedisStateRepository) Get(ctx context.Context, key kernel.ConversationKey) (*dialog.State, error) {
	data, err := r.redis.Get(ctx, r.stateKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, dialog.ErrStateNotFound().WithDetail("conversation", key.String())
		}
		return nil, errx.Wrap(err, "failed to get conversation state", errx.TypeInternal).
			WithDetail("conversation", key.String())
	}

	var state dialog.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, dialog.ErrStateCorrupted().
			WithDetail("conversation", key.String()).
			WithCause(err)
	}
	state.BotID = key.BotID
	state.ConversationID = key.ConversationID
	return &state, nil
}

func (r *RedisStateRepository) Save(ctx context.Context, state *dialog.State) error {
	key := state.Key()
	data, err := json.Marshal(state)
	if err != nil {
		return errx.Wrap(err, "failed to marshal conversation state", errx.TypeInternal).
			WithDetail("conversation", key.String())
	}

	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, r.stateKey(key), data, 0)
	if state.ExpiresAt.IsZero() {
		pipe.ZRem(ctx, r.inactiveKey(), key.String())
	} else {
		pipe.ZAdd(ctx, r.inactiveKey(), &redis.Z{
			Score:  float64(state.ExpiresAt.UnixMilli()),
			Member: key.String(),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errx.Wrap(err, "failed to save conversation state", errx.TypeInternal).
			WithDetail("conversation", key.String())
	}
	return nil
}

func (r *RedisStateRepository) Delete(ctx context.Context, key kernel.ConversationKey) error {
	pipe := r.redis.TxPipeline()
	del := pipe.Del(ctx, r.stateKey(key))
	pipe.ZRem(ctx, r.inactiveKey(), key.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return errx.Wrap(err, "failed to delete conversation state", errx.TypeInternal).
			WithDetail("conversation", key.String())
	}
	if del.Val() == 0 {
		return dialog.ErrStateNotFound().WithDetail("conversation", key.String())
	}
	return nil
}

func (r *RedisStateRepository) FindInactive(ctx context.Context, now time.Time, limit int) ([]kernel.ConversationKey, error) {
	members, err := r.redis.ZRangeByScore(ctx, r.inactiveKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, errx.Wrap(err, "failed to find inactive conversations", errx.TypeInternal)
	}

	keys := make([]kernel.ConversationKey, 0, len(members))
	for _, m := range members {
		// the first ':' separates bot and conversation
		botID, convID, ok := strings.Cut(m, ":")
		if !ok {
			continue
		}
		keys = append(keys, kernel.NewConversationKey(kernel.BotID(botID), kernel.ConversationID(convID)))
	}
	return keys, nil
}
