package store

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lymdgit/relay/model"
)

// Redis key layout. Clients live in one Hash per id plus two Sets for
// uniqueness/enumeration; messages live in one Sorted Set per recipient
// scored by message id, directly generalizing the teacher's
// service.OfflineManager ZSet design — except here the store is durable
// state, not an expiring presence cache, so no TTL is applied.
const (
	clientNamesKey = "client_names" // Set of registered names
	clientIDsKey   = "client_ids"   // Set of registered 16-byte ids
	messageSeqKey  = "message_id_seq"

	maxIDCollisionRetries = 8
)

func clientKey(id model.ClientID) string {
	return "client:" + hex.EncodeToString(id[:])
}

func queueKey(to model.ClientID) string {
	return "msgqueue:" + hex.EncodeToString(to[:])
}

// redisCommander is the narrow slice of go-redis's Cmdable that
// RedisStore actually calls. Depending on this instead of the concrete
// *redis.Client lets store tests run against an in-memory fake with no
// live Redis (see redis_store_test.go) while production code still
// hands in a real connection, unchanged.
type redisCommander interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd

	// PopAndDelete atomically reads and clears a sorted set, returning
	// its prior contents. On *redis.Client this is implemented with
	// TxPipelined (ZRANGE WITHSCORES + DEL in one MULTI/EXEC), the
	// guarantee spec.md §8 Property 6 requires.
	PopAndDelete(ctx context.Context, key string) ([]redis.Z, error)
}

// goRedisAdapter upgrades a *redis.Client to redisCommander by adding
// PopAndDelete; every other method is promoted straight from the
// embedded client.
type goRedisAdapter struct {
	*redis.Client
}

func (a goRedisAdapter) PopAndDelete(ctx context.Context, key string) ([]redis.Z, error) {
	var zcmd *redis.ZSliceCmd
	_, err := a.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		zcmd = pipe.ZRangeWithScores(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return zcmd.Result()
}

// RedisStore is the ClientStore backed by a single Redis instance. It
// holds no mutable state of its own beyond the connection it wraps —
// every guarantee comes from Redis itself, matching the "no global
// mutable state outside the store" rule in spec.md §5.
type RedisStore struct {
	rdb redisCommander
}

// NewRedisStore wraps an already-connected Redis client. Connection
// setup and pooling are the caller's concern (see config/redis.go),
// mirroring the teacher's pkg/redis.Init/Client split.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{rdb: goRedisAdapter{client}}
}

var _ ClientStore = (*RedisStore)(nil)

// CreateClient registers a new client under a randomly generated id,
// retrying on the astronomically unlikely event of a 128-bit collision,
// and fails the whole registration if the name is already taken.
func (s *RedisStore) CreateClient(ctx context.Context, name string, publicKey []byte) (model.ClientID, error) {
	var id model.ClientID
	for attempt := 0; attempt < maxIDCollisionRetries; attempt++ {
		candidate, err := newClientID()
		if err != nil {
			return model.ClientID{}, fmt.Errorf("store: generate client id: %w", err)
		}
		added, err := s.rdb.SAdd(ctx, clientIDsKey, candidate[:]).Result()
		if err != nil {
			return model.ClientID{}, fmt.Errorf("store: reserve client id: %w", err)
		}
		if added == 1 {
			id = candidate
			break
		}
		if attempt == maxIDCollisionRetries-1 {
			return model.ClientID{}, fmt.Errorf("store: could not allocate a unique client id after %d attempts", maxIDCollisionRetries)
		}
	}

	addedName, err := s.rdb.SAdd(ctx, clientNamesKey, name).Result()
	if err != nil {
		s.rdb.SRem(ctx, clientIDsKey, id[:])
		return model.ClientID{}, fmt.Errorf("store: reserve client name: %w", err)
	}
	if addedName == 0 {
		s.rdb.SRem(ctx, clientIDsKey, id[:])
		return model.ClientID{}, ErrNameTaken
	}

	now := time.Now()
	if err := s.rdb.HSet(ctx, clientKey(id),
		"name", name,
		"public_key", publicKey,
		"last_seen", now.Unix(),
	).Err(); err != nil {
		s.rdb.SRem(ctx, clientIDsKey, id[:])
		s.rdb.SRem(ctx, clientNamesKey, name)
		return model.ClientID{}, fmt.Errorf("store: write client record: %w", err)
	}

	return id, nil
}

// GetClient fetches a client by id.
func (s *RedisStore) GetClient(ctx context.Context, id model.ClientID) (model.Client, error) {
	fields, err := s.rdb.HGetAll(ctx, clientKey(id)).Result()
	if err != nil {
		return model.Client{}, fmt.Errorf("store: get client: %w", err)
	}
	if len(fields) == 0 {
		return model.Client{}, ErrClientNotFound
	}
	return clientFromFields(id, fields)
}

// ListClients enumerates every registered client. Order is unspecified
// but stable for the duration of the call, per spec.md §4.5 — the
// protocol does not filter out the caller.
func (s *RedisStore) ListClients(ctx context.Context) ([]model.Client, error) {
	ids, err := s.rdb.SMembers(ctx, clientIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list client ids: %w", err)
	}

	clients := make([]model.Client, 0, len(ids))
	for _, raw := range ids {
		var id model.ClientID
		copy(id[:], raw)
		fields, err := s.rdb.HGetAll(ctx, clientKey(id)).Result()
		if err != nil || len(fields) == 0 {
			continue // removed between SMembers and HGetAll; skip rather than fail the whole list
		}
		client, err := clientFromFields(id, fields)
		if err != nil {
			continue
		}
		clients = append(clients, client)
	}
	return clients, nil
}

// TouchLastSeen updates a client's last_seen field. It is a no-op error
// if the client no longer exists, which the connection handler logs but
// never surfaces on the wire (the success response is sent regardless).
func (s *RedisStore) TouchLastSeen(ctx context.Context, id model.ClientID, at time.Time) error {
	exists, err := s.rdb.Exists(ctx, clientKey(id)).Result()
	if err != nil {
		return fmt.Errorf("store: touch last_seen: %w", err)
	}
	if exists == 0 {
		return ErrClientNotFound
	}
	return s.rdb.HSet(ctx, clientKey(id), "last_seen", at.Unix()).Err()
}

// EnqueueMessage validates both ends exist, assigns a globally
// increasing message id (Redis INCR, generalizing the teacher's
// SequenceManager.NextSeq), and stores the envelope in the recipient's
// sorted set scored by that id.
func (s *RedisStore) EnqueueMessage(ctx context.Context, from, to model.ClientID, msgType model.MessageType, content []byte) (uint32, error) {
	existsFrom, err := s.rdb.Exists(ctx, clientKey(from)).Result()
	if err != nil {
		return 0, fmt.Errorf("store: check sender: %w", err)
	}
	existsTo, err := s.rdb.Exists(ctx, clientKey(to)).Result()
	if err != nil {
		return 0, fmt.Errorf("store: check recipient: %w", err)
	}
	if existsFrom == 0 || existsTo == 0 {
		return 0, ErrForeignKeyMissing
	}

	seq, err := s.rdb.Incr(ctx, messageSeqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("store: assign message id: %w", err)
	}
	id := uint32(seq)

	member := encodeMessageMember(id, from, msgType, content)
	if err := s.rdb.ZAdd(ctx, queueKey(to), redis.Z{
		Score:  float64(id),
		Member: member,
	}).Err(); err != nil {
		return 0, fmt.Errorf("store: enqueue message: %w", err)
	}
	return id, nil
}

// PopMessages atomically reads and deletes every message queued for to,
// in ascending message id (FIFO) order, per spec.md §4.5/§8 Property 5
// and Property 6.
func (s *RedisStore) PopMessages(ctx context.Context, to model.ClientID) ([]model.Message, error) {
	zs, err := s.rdb.PopAndDelete(ctx, queueKey(to))
	if err != nil {
		return nil, fmt.Errorf("store: pop messages: %w", err)
	}

	messages := make([]model.Message, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			return nil, fmt.Errorf("store: unexpected message member type %T", z.Member)
		}
		id, from, msgType, content, err := decodeMessageMember(member)
		if err != nil {
			return nil, fmt.Errorf("store: decode message: %w", err)
		}
		messages = append(messages, model.Message{
			ID:      id,
			To:      to,
			From:    from,
			Type:    msgType,
			Content: content,
		})
	}
	return messages, nil
}

func clientFromFields(id model.ClientID, fields map[string]string) (model.Client, error) {
	lastSeenUnix, err := strconv.ParseInt(fields["last_seen"], 10, 64)
	if err != nil {
		return model.Client{}, fmt.Errorf("store: parse last_seen: %w", err)
	}
	return model.Client{
		ID:        id,
		Name:      fields["name"],
		PublicKey: []byte(fields["public_key"]),
		LastSeen:  time.Unix(lastSeenUnix, 0),
	}, nil
}

func newClientID() (model.ClientID, error) {
	u, err := uuid.NewRandomFromReader(rand.Reader)
	if err != nil {
		return model.ClientID{}, err
	}
	return model.ClientID(u), nil
}

// encodeMessageMember packs a message envelope into a single binary-safe
// string suitable as a Sorted Set member: id(4) || from(16) || type(1) ||
// content. A Sorted Set de-duplicates by member, not by score, so the
// assigned id must travel inside the member itself — two otherwise
// identical pushes to the same recipient (e.g. two empty-content
// type-1 GetSymmetricKey messages) would otherwise collide on the same
// member string and the second ZAdd would silently overwrite the
// first's score instead of adding a second queue entry.
func encodeMessageMember(id uint32, from model.ClientID, msgType model.MessageType, content []byte) string {
	idBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(idBytes, id)

	buf := make([]byte, 0, 21+len(content))
	buf = append(buf, idBytes...)
	buf = append(buf, from[:]...)
	buf = append(buf, byte(msgType))
	buf = append(buf, content...)
	return string(buf)
}

func decodeMessageMember(member string) (id uint32, from model.ClientID, msgType model.MessageType, content []byte, err error) {
	if len(member) < 21 {
		return 0, from, 0, nil, fmt.Errorf("member too short: %d bytes", len(member))
	}
	id = binary.LittleEndian.Uint32([]byte(member[:4]))
	copy(from[:], member[4:20])
	msgType = model.MessageType(member[20])
	content = []byte(member[21:])
	return id, from, msgType, content, nil
}
