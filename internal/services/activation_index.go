package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/lunovey/simshop/internal/infrastructure/redis"
)

// ActivationIndex keeps the ordered set of activation IDs a user purchased,
// newest first. The provider has no "list mine" endpoint, so this index is the
// only way to reconstruct the list — but it stays advisory: the authoritative
// record of each activation is the provider's. Redis failures therefore read
// as an empty index instead of failing the request.
type ActivationIndex struct {
	redis redis.RedisClient
}

func NewActivationIndex(client redis.RedisClient) *ActivationIndex {
	return &ActivationIndex{redis: client}
}

func (i *ActivationIndex) key(userID int32) string {
	return fmt.Sprintf("user:%d:activations", userID)
}

// Add inserts the ID at the front. Removing any existing occurrence first
// keeps set semantics on membership despite the list representation.
func (i *ActivationIndex) Add(ctx context.Context, userID int32, id int64) {
	key := i.key(userID)
	if err := i.redis.LRem(ctx, key, 0, id); err != nil {
		slog.Warn("activation index dedup failed", "user_id", userID, "activation_id", id, "error", err)
	}
	if err := i.redis.LPush(ctx, key, id); err != nil {
		slog.Warn("activation index push failed", "user_id", userID, "activation_id", id, "error", err)
	}
}

// Remove drops the ID if present. Absent IDs are a no-op.
func (i *ActivationIndex) Remove(ctx context.Context, userID int32, id int64) {
	if err := i.redis.LRem(ctx, i.key(userID), 0, id); err != nil {
		slog.Warn("activation index remove failed", "user_id", userID, "activation_id", id, "error", err)
	}
}

// List returns the current snapshot, newest first. Read or parse failures
// yield an empty slice.
func (i *ActivationIndex) List(ctx context.Context, userID int32) []int64 {
	entries, err := i.redis.LRange(ctx, i.key(userID), 0, -1)
	if err != nil {
		slog.Warn("activation index read failed", "user_id", userID, "error", err)
		return nil
	}

	ids := make([]int64, 0, len(entries))
	for _, entry := range entries {
		id, err := strconv.ParseInt(entry, 10, 64)
		if err != nil {
			slog.Warn("activation index entry malformed", "user_id", userID, "entry", entry)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
