package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/redis/go-redis/v9"

	"github.com/nexus-vanguard/vanguard/internal/kv"
)

const (
	// DefaultTTL bounds how long a record stays replayable.
	DefaultTTL = 24 * time.Hour

	// FailedCooldown is the window after a failure during which replays
	// are refused instead of retried.
	FailedCooldown = 2 * time.Second

	// RetryAfter is advertised on refused replays.
	RetryAfter = 2 * time.Second

	// MaxStoredBody caps response snapshots. Larger bodies are stored as
	// an oversize sentinel and replayed as an acknowledgement.
	MaxStoredBody = 128 << 10
)

// Outcome tells the middleware how to proceed after Begin.
type Outcome int

const (
	// OutcomeProceed means the key was claimed; run the handler.
	OutcomeProceed Outcome = iota
	// OutcomeReplay means a completed record exists for the same body.
	OutcomeReplay
	// OutcomeInFlight means the same mutation is running or cooling down.
	OutcomeInFlight
	// OutcomeMismatch means the key was reused with a different body.
	OutcomeMismatch
)

// claimIfFailed swaps a FAILED record for a fresh IN_FLIGHT claim only when
// the stored bytes are unchanged, so concurrent retries cannot both win.
var claimIfFailed = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[2], 'EX', ARGV[3])
  return 1
end
return 0`)

// Store persists records in the shared key-value store with native TTLs
// and falls back to a process-local map when it is unreachable. Fallback
// records carry an explicit expiry and are dropped by Sweep.
type Store struct {
	kv    *kv.Store
	local *xsync.Map[string, Record]
	ttl   time.Duration

	failedCooldown time.Duration
}

// New creates a Store. store may be nil, which pins every record to the
// local map. ttl <= 0 selects DefaultTTL.
func New(store *kv.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		kv:             store,
		local:          xsync.NewMap[string, Record](),
		ttl:            ttl,
		failedCooldown: FailedCooldown,
	}
}

func redisKey(key string) string { return "idem:" + key }

// Begin claims key for a mutation with the given body hash. The returned
// record is the fresh claim on OutcomeProceed and the pre-existing record
// otherwise.
func (s *Store) Begin(ctx context.Context, key, bodyHash string) (Outcome, Record) {
	fresh := Record{
		State:           StateInFlight,
		RequestBodyHash: bodyHash,
		StartedAtNs:     time.Now().UnixNano(),
	}
	if s.kv != nil {
		out, rec, err := s.beginShared(ctx, key, fresh)
		if err == nil {
			return out, rec
		}
		log.Printf("[idempotency] shared store unavailable, using local fallback: %v", err)
	}
	return s.beginLocal(key, fresh)
}

func (s *Store) beginShared(ctx context.Context, key string, fresh Record) (Outcome, Record, error) {
	payload, err := json.Marshal(fresh)
	if err != nil {
		return 0, Record{}, err
	}
	rkey := redisKey(key)
	rdb := s.kv.Client()
	for attempt := 0; attempt < 3; attempt++ {
		claimed, err := rdb.SetNX(ctx, rkey, payload, s.ttl).Result()
		if err != nil {
			return 0, Record{}, err
		}
		if claimed {
			return OutcomeProceed, fresh, nil
		}
		raw, err := rdb.Get(ctx, rkey).Bytes()
		if errors.Is(err, redis.Nil) {
			// Expired between the claim attempt and the read.
			continue
		}
		if err != nil {
			return 0, Record{}, err
		}
		var cur Record
		if err := json.Unmarshal(raw, &cur); err != nil {
			// Unreadable record: drop it and retry the claim.
			rdb.Del(ctx, rkey)
			continue
		}
		if cur.RequestBodyHash != fresh.RequestBodyHash {
			return OutcomeMismatch, cur, nil
		}
		switch cur.State {
		case StateCompleted:
			return OutcomeReplay, cur, nil
		case StateFailed:
			if time.Since(time.Unix(0, cur.FailedAtNs)) < s.failedCooldown {
				return OutcomeInFlight, cur, nil
			}
			swapped, err := claimIfFailed.Run(ctx, rdb, []string{rkey}, raw, payload, s.ttlSeconds()).Int64()
			if err != nil {
				return 0, Record{}, err
			}
			if swapped == 1 {
				return OutcomeProceed, fresh, nil
			}
			// Lost the retry race; re-read.
			continue
		default:
			return OutcomeInFlight, cur, nil
		}
	}
	// Persistent contention resolves as an in-flight conflict.
	return OutcomeInFlight, fresh, nil
}

func (s *Store) beginLocal(key string, fresh Record) (Outcome, Record) {
	fresh.ExpiresAtNs = time.Now().Add(s.ttl).UnixNano()
	for attempt := 0; attempt < 3; attempt++ {
		claimed := false
		cur, _ := s.local.Compute(key, func(old Record, loaded bool) (Record, xsync.ComputeOp) {
			if loaded && old.ExpiresAtNs > time.Now().UnixNano() {
				return old, xsync.CancelOp
			}
			claimed = true
			return fresh, xsync.UpdateOp
		})
		if claimed {
			return OutcomeProceed, fresh
		}
		if cur.RequestBodyHash != fresh.RequestBodyHash {
			return OutcomeMismatch, cur
		}
		switch cur.State {
		case StateCompleted:
			return OutcomeReplay, cur
		case StateFailed:
			if time.Since(time.Unix(0, cur.FailedAtNs)) < s.failedCooldown {
				return OutcomeInFlight, cur
			}
			swapped := false
			s.local.Compute(key, func(old Record, loaded bool) (Record, xsync.ComputeOp) {
				if loaded && old.State == StateFailed && old.FailedAtNs == cur.FailedAtNs {
					swapped = true
					return fresh, xsync.UpdateOp
				}
				return old, xsync.CancelOp
			})
			if swapped {
				return OutcomeProceed, fresh
			}
		default:
			return OutcomeInFlight, cur
		}
	}
	return OutcomeInFlight, fresh
}

// Complete stores the response snapshot for a finished mutation.
func (s *Store) Complete(ctx context.Context, key string, rec Record, code int, contentType string, body []byte) {
	rec.State = StateCompleted
	rec.CompletedAtNs = time.Now().UnixNano()
	rec.ResponseCode = code
	if len(body) > MaxStoredBody {
		rec.Oversize = true
		rec.ContentType = ""
		rec.ResponseBody = nil
	} else {
		rec.ContentType = contentType
		rec.ResponseBody = body
	}
	s.put(ctx, key, rec)
}

// Fail marks the record failed, starting the retry cooldown.
func (s *Store) Fail(ctx context.Context, key string, rec Record) {
	rec.State = StateFailed
	rec.FailedAtNs = time.Now().UnixNano()
	s.put(ctx, key, rec)
}

// Evict removes the record so a corrected request can retry at once.
func (s *Store) Evict(ctx context.Context, key string) {
	s.local.Delete(key)
	if s.kv == nil {
		return
	}
	if err := s.kv.Client().Del(ctx, redisKey(key)).Err(); err != nil {
		log.Printf("[idempotency] evict %s: %v", key, err)
	}
}

func (s *Store) put(ctx context.Context, key string, rec Record) {
	if s.kv != nil && s.putShared(ctx, key, rec) {
		return
	}
	rec.ExpiresAtNs = time.Now().Add(s.ttl).UnixNano()
	s.local.Store(key, rec)
}

func (s *Store) putShared(ctx context.Context, key string, rec Record) bool {
	rec.ExpiresAtNs = 0
	payload, err := json.Marshal(rec)
	if err != nil {
		return false
	}
	if err := s.kv.Client().Set(ctx, redisKey(key), payload, s.ttl).Err(); err != nil {
		log.Printf("[idempotency] shared store write failed, keeping record local: %v", err)
		return false
	}
	// A local copy from an earlier outage would shadow nothing, but keep
	// the map clean.
	s.local.Delete(key)
	return true
}

func (s *Store) ttlSeconds() int {
	sec := int(s.ttl / time.Second)
	if sec < 1 {
		sec = 1
	}
	return sec
}

// Sweep drops expired records from the local fallback map and returns the
// number removed.
func (s *Store) Sweep(now time.Time) int {
	nowNs := now.UnixNano()
	removed := 0
	s.local.Range(func(key string, _ Record) bool {
		s.local.Compute(key, func(cur Record, loaded bool) (Record, xsync.ComputeOp) {
			if loaded && cur.ExpiresAtNs <= nowNs {
				removed++
				return cur, xsync.DeleteOp
			}
			return cur, xsync.CancelOp
		})
		return true
	})
	return removed
}

// LocalSize reports how many records the fallback map holds.
func (s *Store) LocalSize() int {
	return s.local.Size()
}
