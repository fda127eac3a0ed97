package kv

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence tracks live stream listeners in Redis sorted sets, one set per
// stream, member = session ID, score = last-seen unix seconds. Lets any
// process in the deployment see who is connected where.
type Presence struct {
	rdb *redis.Client
}

// NewPresence returns a presence tracker backed by the shared store.
func NewPresence(store *Store) *Presence {
	return &Presence{rdb: store.Client()}
}

func presenceKey(stream string) string {
	return "presence:" + stream
}

// Touch registers or refreshes a session on the given stream.
func (p *Presence) Touch(ctx context.Context, stream, session string, at time.Time) error {
	return p.rdb.ZAdd(ctx, presenceKey(stream), redis.Z{
		Score:  float64(at.Unix()),
		Member: session,
	}).Err()
}

// Remove drops a session from the given stream.
func (p *Presence) Remove(ctx context.Context, stream, session string) error {
	return p.rdb.ZRem(ctx, presenceKey(stream), session).Err()
}

// TrimBefore removes sessions last seen strictly before cutoff and returns
// how many were dropped. Called by the retention sweep to clear listeners
// that disconnected without unregistering.
func (p *Presence) TrimBefore(ctx context.Context, stream string, cutoff time.Time) (int64, error) {
	maxScore := "(" + strconv.FormatInt(cutoff.Unix(), 10)
	return p.rdb.ZRemRangeByScore(ctx, presenceKey(stream), "-inf", maxScore).Result()
}

// Count returns the number of sessions currently registered on the stream.
func (p *Presence) Count(ctx context.Context, stream string) (int64, error) {
	return p.rdb.ZCard(ctx, presenceKey(stream)).Result()
}

// Sessions returns all registered session IDs on the stream, oldest first.
func (p *Presence) Sessions(ctx context.Context, stream string) ([]string, error) {
	return p.rdb.ZRange(ctx, presenceKey(stream), 0, -1).Result()
}
