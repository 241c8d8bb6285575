package store

import (
	"bytes"
	"context"
	"sort"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lymdgit/relay/model"
)

// fakeRedis is a minimal in-memory stand-in for redisCommander. It backs
// the round-trip tests below without a live Redis instance, covering
// exactly the Hash/Set/ZSet/INCR operations RedisStore issues.
type fakeRedis struct {
	hashes map[string]map[string]string
	sets   map[string]map[string]struct{}
	zsets  map[string]map[string]float64
	seqs   map[string]int64
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		hashes: make(map[string]map[string]string),
		sets:   make(map[string]map[string]struct{}),
		zsets:  make(map[string]map[string]float64),
		seqs:   make(map[string]int64),
	}
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return ""
	}
}

func (f *fakeRedis) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]string)
		f.hashes[key] = h
	}
	var added int64
	for i := 0; i+1 < len(values); i += 2 {
		field := values[i].(string)
		if _, exists := h[field]; !exists {
			added++
		}
		switch val := values[i+1].(type) {
		case []byte:
			h[field] = string(val)
		case string:
			h[field] = val
		case int64:
			h[field] = itoa(val)
		default:
			h[field] = itoa(0)
		}
	}
	cmd.SetVal(added)
	return cmd
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}

func (f *fakeRedis) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	cmd := redis.NewMapStringStringCmd(ctx)
	h := f.hashes[key]
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	cmd.SetVal(out)
	return cmd
}

func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	s, ok := f.sets[key]
	if !ok {
		s = make(map[string]struct{})
		f.sets[key] = s
	}
	var added int64
	for _, m := range members {
		k := toString(m)
		if _, exists := s[k]; !exists {
			s[k] = struct{}{}
			added++
		}
	}
	cmd.SetVal(added)
	return cmd
}

func (f *fakeRedis) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	s := f.sets[key]
	var removed int64
	for _, m := range members {
		k := toString(m)
		if _, exists := s[k]; exists {
			delete(s, k)
			removed++
		}
	}
	cmd.SetVal(removed)
	return cmd
}

func (f *fakeRedis) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	s := f.sets[key]
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	cmd.SetVal(out)
	return cmd
}

func (f *fakeRedis) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	var n int64
	for _, k := range keys {
		if _, ok := f.hashes[k]; ok {
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (f *fakeRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	f.seqs[key]++
	cmd.SetVal(f.seqs[key])
	return cmd
}

func (f *fakeRedis) ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	z, ok := f.zsets[key]
	if !ok {
		z = make(map[string]float64)
		f.zsets[key] = z
	}
	var added int64
	for _, m := range members {
		member := toString(m.Member)
		if _, exists := z[member]; !exists {
			added++
		}
		z[member] = m.Score
	}
	cmd.SetVal(added)
	return cmd
}

func (f *fakeRedis) PopAndDelete(ctx context.Context, key string) ([]redis.Z, error) {
	z := f.zsets[key]
	out := make([]redis.Z, 0, len(z))
	for member, score := range z {
		out = append(out, redis.Z{Score: score, Member: member})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	delete(f.zsets, key)
	return out, nil
}

var _ redisCommander = (*fakeRedis)(nil)

func newTestStore() *RedisStore {
	return &RedisStore{rdb: newFakeRedis()}
}

func TestCreateAndGetClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	key := bytes.Repeat([]byte{0xAB}, 160)

	id, err := s.CreateClient(ctx, "alice", key)
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	if id.Zero() {
		t.Fatal("expected a non-zero assigned id")
	}

	got, err := s.GetClient(ctx, id)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if got.Name != "alice" || !bytes.Equal(got.PublicKey, key) {
		t.Fatalf("got %+v", got)
	}
}

// Property 4 — name uniqueness: a second registration under a taken name
// fails and leaves no orphaned id reservation behind.
func TestCreateClientNameUniqueness(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	key := bytes.Repeat([]byte{0x01}, 160)

	if _, err := s.CreateClient(ctx, "bob", key); err != nil {
		t.Fatalf("first CreateClient: %v", err)
	}
	if _, err := s.CreateClient(ctx, "bob", key); err != ErrNameTaken {
		t.Fatalf("second CreateClient error = %v, want ErrNameTaken", err)
	}

	fake := s.rdb.(*fakeRedis)
	if len(fake.sets[clientIDsKey]) != 1 {
		t.Fatalf("expected exactly one reserved id after rollback, got %d", len(fake.sets[clientIDsKey]))
	}
}

func TestGetClientNotFound(t *testing.T) {
	s := newTestStore()
	if _, err := s.GetClient(context.Background(), model.ClientID{0x01}); err != ErrClientNotFound {
		t.Fatalf("err = %v, want ErrClientNotFound", err)
	}
}

func TestListClients(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	key := bytes.Repeat([]byte{0x02}, 160)
	if _, err := s.CreateClient(ctx, "carol", key); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateClient(ctx, "dave", key); err != nil {
		t.Fatal(err)
	}
	clients, err := s.ListClients(ctx)
	if err != nil {
		t.Fatalf("ListClients: %v", err)
	}
	if len(clients) != 2 {
		t.Fatalf("got %d clients, want 2", len(clients))
	}
}

func TestTouchLastSeen(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	id, err := s.CreateClient(ctx, "erin", bytes.Repeat([]byte{0x03}, 160))
	if err != nil {
		t.Fatal(err)
	}
	when := time.Unix(1_700_000_000, 0)
	if err := s.TouchLastSeen(ctx, id, when); err != nil {
		t.Fatalf("TouchLastSeen: %v", err)
	}
	got, err := s.GetClient(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !got.LastSeen.Equal(when) {
		t.Fatalf("last_seen = %v, want %v", got.LastSeen, when)
	}
}

func TestTouchLastSeenUnknownClient(t *testing.T) {
	s := newTestStore()
	if err := s.TouchLastSeen(context.Background(), model.ClientID{0x09}, time.Now()); err != ErrClientNotFound {
		t.Fatalf("err = %v, want ErrClientNotFound", err)
	}
}

// Property: enqueue rejects messages for a nonexistent sender or recipient.
func TestEnqueueMessageForeignKeyMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	from, err := s.CreateClient(ctx, "frank", bytes.Repeat([]byte{0x04}, 160))
	if err != nil {
		t.Fatal(err)
	}
	var ghost model.ClientID
	ghost[0] = 0xFF
	if _, err := s.EnqueueMessage(ctx, from, ghost, model.MessageTypeSendText, []byte("hi")); err != ErrForeignKeyMissing {
		t.Fatalf("err = %v, want ErrForeignKeyMissing", err)
	}
}

// Properties 5 and 6 — FIFO ordering and atomic pop-then-delete: messages
// come back in enqueue order and a second pop sees nothing.
func TestEnqueueAndPopMessagesFIFO(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	alice, err := s.CreateClient(ctx, "alice2", bytes.Repeat([]byte{0x05}, 160))
	if err != nil {
		t.Fatal(err)
	}
	bob, err := s.CreateClient(ctx, "bob2", bytes.Repeat([]byte{0x06}, 160))
	if err != nil {
		t.Fatal(err)
	}

	id1, err := s.EnqueueMessage(ctx, alice, bob, model.MessageTypeSendText, []byte("first"))
	if err != nil {
		t.Fatalf("EnqueueMessage 1: %v", err)
	}
	id2, err := s.EnqueueMessage(ctx, alice, bob, model.MessageTypeSendText, []byte("second"))
	if err != nil {
		t.Fatalf("EnqueueMessage 2: %v", err)
	}
	if id2 <= id1 {
		t.Fatalf("message ids not increasing: %d, %d", id1, id2)
	}

	msgs, err := s.PopMessages(ctx, bob)
	if err != nil {
		t.Fatalf("PopMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != id1 || msgs[1].ID != id2 {
		t.Fatalf("FIFO order violated: %+v", msgs)
	}
	if string(msgs[0].Content) != "first" || string(msgs[1].Content) != "second" {
		t.Fatalf("content mismatch: %+v", msgs)
	}
	if msgs[0].From != alice {
		t.Fatalf("from mismatch: %+v", msgs[0])
	}

	again, err := s.PopMessages(ctx, bob)
	if err != nil {
		t.Fatalf("second PopMessages: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected empty queue after pop, got %d", len(again))
	}
}

// Property 6 — two pushes with identical (from, message_type, content),
// such as the two empty-content GetSymmetricKey messages spec.md §3
// describes, must not collide on the same Sorted Set member and
// silently overwrite one another; both must come back distinct.
func TestEnqueueIdenticalMessagesBothSurvive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	alice, err := s.CreateClient(ctx, "alice3", bytes.Repeat([]byte{0x07}, 160))
	if err != nil {
		t.Fatal(err)
	}
	bob, err := s.CreateClient(ctx, "bob3", bytes.Repeat([]byte{0x08}, 160))
	if err != nil {
		t.Fatal(err)
	}

	id1, err := s.EnqueueMessage(ctx, alice, bob, model.MessageTypeGetSymmetricKey, []byte{})
	if err != nil {
		t.Fatalf("EnqueueMessage 1: %v", err)
	}
	id2, err := s.EnqueueMessage(ctx, alice, bob, model.MessageTypeGetSymmetricKey, []byte{})
	if err != nil {
		t.Fatalf("EnqueueMessage 2: %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected distinct message ids, got %d twice", id1)
	}

	msgs, err := s.PopMessages(ctx, bob)
	if err != nil {
		t.Fatalf("PopMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (one was silently overwritten)", len(msgs))
	}
	if msgs[0].ID != id1 || msgs[1].ID != id2 {
		t.Fatalf("unexpected ids: got %d, %d; want %d, %d", msgs[0].ID, msgs[1].ID, id1, id2)
	}
}
