/*
relayctl is the thin CLI client that exercises the wire protocol end to
end — the distilled spec's "out of scope" terminal menu loop, rebuilt
here as a minimal stand-in so the protocol has a real caller besides
the test suite. Every command opens one connection, sends one request,
reads one response, and closes, per spec.md §9.
*/
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/lymdgit/relay/config"
	"github.com/lymdgit/relay/model"
	"github.com/lymdgit/relay/wire/codec"
	"github.com/lymdgit/relay/wire/packet"
)

const maxRegisterRetries = 5

func main() {
	serverInfoPath := flag.String("server-info", "server.info", "path to server.info")
	meInfoPath := flag.String("me-info", "me.info", "path to me.info")
	name := flag.String("name", "", "display name to register under (first run only)")
	flag.Parse()

	server, err := config.LoadServerInfo(*serverInfoPath)
	if err != nil {
		log.Fatalf("[relayctl] %v", err)
	}
	addr := server.String()

	ident, ok, err := loadIdentity(*meInfoPath)
	if err != nil {
		log.Fatalf("[relayctl] %v", err)
	}
	if !ok {
		if *name == "" {
			log.Fatalf("[relayctl] no %s found; pass -name to register", *meInfoPath)
		}
		ident, err = register(addr, *meInfoPath, *name)
		if err != nil {
			log.Fatalf("[relayctl] register: %v", err)
		}
	}
	log.Printf("[relayctl] connected as %q (id %s)", ident.Name, hex.EncodeToString(ident.ID[:]))

	runREPL(addr, ident)
}

// register attempts Register, retrying under a freshly suffixed name
// after any failed attempt (the relay's generic Error response does not
// say whether the name was taken), per original_source/client.py's
// retry-on-taken-name prompt — then persists the result to me.info.
func register(addr, meInfoPath, baseName string) (Identity, error) {
	priv, err := generateIdentityKey()
	if err != nil {
		return Identity{}, err
	}
	pubField, err := encodePublicKeyField(&priv.PublicKey)
	if err != nil {
		return Identity{}, err
	}

	name := baseName
	for attempt := 0; attempt < maxRegisterRetries; attempt++ {
		resp, err := sendRequest(addr, packet.CodeRegister, model.ClientID{}, packet.Requests[packet.CodeRegister], codec.Fields{
			"client_name": name,
			"public_key":  pubField,
		})
		if err == nil {
			rawID, _ := resp["new_client_id"].([16]byte)
			ident := Identity{Name: name, ID: model.ClientID(rawID), PrivateKey: priv}
			if err := saveIdentity(meInfoPath, ident); err != nil {
				return Identity{}, err
			}
			return ident, nil
		}
		log.Printf("[relayctl] register %q failed (%v), retrying under a new name", name, err)
		name = fmt.Sprintf("%s-%d", baseName, attempt+1)
	}
	return Identity{}, fmt.Errorf("could not register after %d attempts", maxRegisterRetries)
}

func runREPL(addr string, ident Identity) {
	fmt.Println("Commands:")
	fmt.Println("  list                        - list registered clients")
	fmt.Println("  getkey <hex-id>             - fetch a client's public key")
	fmt.Println("  sendkey <hex-id>            - generate and send a session key")
	fmt.Println("  send <hex-id> <text>        - send encrypted text (requires a prior sendkey)")
	fmt.Println("  pop                         - pop and decrypt queued messages")
	fmt.Println("  quit")

	sessionKeys := make(map[model.ClientID][]byte)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit":
			return
		case "list":
			cmdList(addr, ident)
		case "getkey":
			if len(fields) != 2 {
				fmt.Println("usage: getkey <hex-id>")
				continue
			}
			cmdGetKey(addr, ident, fields[1])
		case "sendkey":
			if len(fields) != 2 {
				fmt.Println("usage: sendkey <hex-id>")
				continue
			}
			cmdSendKey(addr, ident, fields[1], sessionKeys)
		case "send":
			if len(fields) < 3 {
				fmt.Println("usage: send <hex-id> <text>")
				continue
			}
			cmdSend(addr, ident, fields[1], strings.Join(fields[2:], " "), sessionKeys)
		case "pop":
			cmdPop(addr, ident, sessionKeys)
		default:
			fmt.Println("unknown command")
		}
	}
}

func parseClientID(s string) (model.ClientID, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) != 16 {
		return model.ClientID{}, fmt.Errorf("expected a 16-byte hex client id, got %q", s)
	}
	var id model.ClientID
	copy(id[:], raw)
	return id, nil
}

func cmdList(addr string, ident Identity) {
	resp, err := sendRequest(addr, packet.CodeListClients, ident.ID, packet.Requests[packet.CodeListClients], codec.Fields{})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	clients, _ := resp["clients"].([]codec.Fields)
	for _, c := range clients {
		id, _ := c["client_id"].([16]byte)
		fmt.Printf("  %s  %v\n", hex.EncodeToString(id[:]), c["client_name"])
	}
}

func cmdGetKey(addr string, ident Identity, idStr string) {
	target, err := parseClientID(idStr)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	resp, err := sendRequest(addr, packet.CodePublicKey, ident.ID, packet.Requests[packet.CodePublicKey], codec.Fields{
		"requested_client_id": [16]byte(target),
	})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	pub, _ := resp["public_key"].([]byte)
	fmt.Printf("  public key (%d bytes): %s...\n", len(pub), hex.EncodeToString(pub[:16]))
}

func cmdSendKey(addr string, ident Identity, idStr string, sessionKeys map[model.ClientID][]byte) {
	target, err := parseClientID(idStr)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	resp, err := sendRequest(addr, packet.CodePublicKey, ident.ID, packet.Requests[packet.CodePublicKey], codec.Fields{
		"requested_client_id": [16]byte(target),
	})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	pubField, _ := resp["public_key"].([]byte)
	pub, err := decodePublicKeyField(pubField)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	sessionKey, err := generateSessionKey()
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	wrapped, err := wrapSessionKey(pub, sessionKey)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	_, err = sendRequest(addr, packet.CodePushMessage, ident.ID, packet.Requests[packet.CodePushMessage], codec.Fields{
		"receiver_client_id": [16]byte(target),
		"message_type":       uint8(model.MessageTypeSendSymmetricKey),
		"content":            wrapped,
	})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	sessionKeys[target] = sessionKey
	fmt.Println("  session key sent")
}

func cmdSend(addr string, ident Identity, idStr, text string, sessionKeys map[model.ClientID][]byte) {
	target, err := parseClientID(idStr)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	sessionKey, ok := sessionKeys[target]
	if !ok {
		fmt.Println("error: no session key for that client; run sendkey first")
		return
	}
	ciphertext, err := encryptContent(sessionKey, []byte(text))
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	resp, err := sendRequest(addr, packet.CodePushMessage, ident.ID, packet.Requests[packet.CodePushMessage], codec.Fields{
		"receiver_client_id": [16]byte(target),
		"message_type":       uint8(model.MessageTypeSendText),
		"content":            ciphertext,
	})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("  sent, message_id=%v\n", resp["message_id"])
}

func cmdPop(addr string, ident Identity, sessionKeys map[model.ClientID][]byte) {
	resp, err := sendRequest(addr, packet.CodePopMessages, ident.ID, packet.Requests[packet.CodePopMessages], codec.Fields{})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	messages, _ := resp["messages"].([]codec.Fields)
	for _, m := range messages {
		from, _ := m["from_client_id"].([16]byte)
		msgType := model.MessageType(m["message_type"].(uint8))
		content, _ := m["content"].([]byte)

		switch msgType {
		case model.MessageTypeSendSymmetricKey:
			sessionKey, err := unwrapSessionKey(ident.PrivateKey, content)
			if err != nil {
				fmt.Printf("  [%s] bad session key: %v\n", hex.EncodeToString(from[:]), err)
				continue
			}
			sessionKeys[model.ClientID(from)] = sessionKey
			fmt.Printf("  [%s] received session key\n", hex.EncodeToString(from[:]))
		case model.MessageTypeSendText:
			key, ok := sessionKeys[model.ClientID(from)]
			if !ok {
				fmt.Printf("  [%s] encrypted text, but no session key on file\n", hex.EncodeToString(from[:]))
				continue
			}
			plain, err := decryptContent(key, content)
			if err != nil {
				fmt.Printf("  [%s] decrypt failed: %v\n", hex.EncodeToString(from[:]), err)
				continue
			}
			fmt.Printf("  [%s] %s\n", hex.EncodeToString(from[:]), string(plain))
		case model.MessageTypeGetSymmetricKey:
			fmt.Printf("  [%s] requests a session key (run sendkey)\n", hex.EncodeToString(from[:]))
		default:
			fmt.Printf("  [%s] message_type=%d, %d bytes\n", hex.EncodeToString(from[:]), msgType, len(content))
		}
	}
}
