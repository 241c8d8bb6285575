package server

import (
	"context"
	"fmt"

	"github.com/lymdgit/relay/model"
	"github.com/lymdgit/relay/store"
	"github.com/lymdgit/relay/wire/codec"
	"github.com/lymdgit/relay/wire/packet"
)

// dispatch runs the request handler registered for code against the
// decoded payload, per spec.md §4.5. It never panics on a bad Fields
// shape — a malformed decode is a programming error upstream, but the
// connection handler treats any returned error identically (Error 9000),
// so handlers are free to fail loudly on an assertion.
func dispatch(ctx context.Context, clientStore store.ClientStore, code uint16, sender model.ClientID, payload codec.Fields) (codec.Fields, error) {
	switch code {
	case packet.CodeRegister:
		return handleRegister(ctx, clientStore, payload)
	case packet.CodeListClients:
		return handleListClients(ctx, clientStore)
	case packet.CodePublicKey:
		return handlePublicKey(ctx, clientStore, payload)
	case packet.CodePushMessage:
		return handlePushMessage(ctx, clientStore, sender, payload)
	case packet.CodePopMessages:
		return handlePopMessages(ctx, clientStore, sender)
	default:
		return nil, fmt.Errorf("server: no handler registered for code %d", code)
	}
}

// handleRegister creates a new Client. sender_client_id must have been
// validated as zero by the caller before this is reached (spec.md §4.2).
func handleRegister(ctx context.Context, clientStore store.ClientStore, payload codec.Fields) (codec.Fields, error) {
	name, _ := payload["client_name"].(string)
	key, _ := payload["public_key"].([]byte)

	id, err := clientStore.CreateClient(ctx, name, key)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return codec.Fields{"new_client_id": [16]byte(id)}, nil
}

// handleListClients enumerates every registered client, caller included.
func handleListClients(ctx context.Context, clientStore store.ClientStore) (codec.Fields, error) {
	clients, err := clientStore.ListClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	tuples := make([]codec.Fields, len(clients))
	for i, c := range clients {
		tuples[i] = codec.Fields{
			"client_id":   [16]byte(c.ID),
			"client_name": c.Name,
		}
	}
	return codec.Fields{"clients": tuples}, nil
}

// handlePublicKey fetches the requested client's public key.
func handlePublicKey(ctx context.Context, clientStore store.ClientStore, payload codec.Fields) (codec.Fields, error) {
	rawID, _ := payload["requested_client_id"].([16]byte)
	id := model.ClientID(rawID)

	client, err := clientStore.GetClient(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	return codec.Fields{
		"requested_client_id": [16]byte(client.ID),
		"public_key":          client.PublicKey,
	}, nil
}

// handlePushMessage validates the message type and enqueues the content
// for the recipient; the store itself enforces that both ends exist.
func handlePushMessage(ctx context.Context, clientStore store.ClientStore, sender model.ClientID, payload codec.Fields) (codec.Fields, error) {
	rawTo, _ := payload["receiver_client_id"].([16]byte)
	to := model.ClientID(rawTo)
	msgTypeByte, _ := payload["message_type"].(uint8)
	msgType := model.MessageType(msgTypeByte)
	content, _ := payload["content"].([]byte)

	if !msgType.Valid() {
		return nil, fmt.Errorf("push message: unknown message_type %d", msgTypeByte)
	}

	id, err := clientStore.EnqueueMessage(ctx, sender, to, msgType, content)
	if err != nil {
		return nil, fmt.Errorf("push message: %w", err)
	}
	return codec.Fields{
		"receiver_client_id": rawTo,
		"message_id":         id,
	}, nil
}

// handlePopMessages atomically drains the caller's queue.
func handlePopMessages(ctx context.Context, clientStore store.ClientStore, sender model.ClientID) (codec.Fields, error) {
	messages, err := clientStore.PopMessages(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("pop messages: %w", err)
	}
	tuples := make([]codec.Fields, len(messages))
	for i, m := range messages {
		tuples[i] = codec.Fields{
			"from_client_id": [16]byte(m.From),
			"message_id":     m.ID,
			"message_type":   uint8(m.Type),
			"content":        m.Content,
		}
	}
	return codec.Fields{"messages": tuples}, nil
}
