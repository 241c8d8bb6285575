/*
Package store defines the relay's persistent repository contract (spec.md
§4.6) and its Redis-backed implementation. The interface is deliberately
small — create/get/list clients, touch last_seen, enqueue/pop messages —
so server/handler can be tested against a fake without a live Redis, and
so the engine itself stays swappable the way spec.md allows ("SQL, log,
flat file... the contract is what matters").
*/
package store

import (
	"context"
	"errors"
	"time"

	"github.com/lymdgit/relay/model"
)

// Sentinel errors the request handlers translate into the wire's generic
// Error(9000) response; the connection handler never forwards these
// messages to a client.
var (
	ErrNameTaken         = errors.New("store: client name already registered")
	ErrClientNotFound    = errors.New("store: client not found")
	ErrForeignKeyMissing = errors.New("store: sender or recipient does not exist")
)

// ClientStore is the contract spec.md §4.6 describes. Every write must be
// safe under concurrent access by multiple connection-handler goroutines;
// PopMessages must present a transactional read-and-delete view (spec.md
// §8 Property 6).
type ClientStore interface {
	CreateClient(ctx context.Context, name string, publicKey []byte) (model.ClientID, error)
	GetClient(ctx context.Context, id model.ClientID) (model.Client, error)
	ListClients(ctx context.Context) ([]model.Client, error)
	TouchLastSeen(ctx context.Context, id model.ClientID, at time.Time) error
	EnqueueMessage(ctx context.Context, from, to model.ClientID, msgType model.MessageType, content []byte) (uint32, error)
	PopMessages(ctx context.Context, to model.ClientID) ([]model.Message, error)
}
