package server

import (
	"context"
	"io"
	"log"
	"net"
	"time"

	"github.com/lymdgit/relay/model"
	"github.com/lymdgit/relay/store"
	"github.com/lymdgit/relay/wire/codec"
	"github.com/lymdgit/relay/wire/packet"
)

// handleConnection runs the single request/response cycle spec.md §4.4
// describes, then closes netConn unconditionally. It never returns an
// error to its caller — every failure path here ends in either a
// generic Error(9000) response or a silent drop (timeout, short read),
// exactly as §7's propagation policy requires.
func handleConnection(ctx context.Context, connID uint64, netConn net.Conn, clientStore store.ClientStore) {
	defer netConn.Close()
	tag := connID

	netConn.SetReadDeadline(time.Now().Add(ReadTimeout))
	headerBuf := make([]byte, packet.RequestHeaderSize)
	if _, err := io.ReadFull(netConn, headerBuf); err != nil {
		log.Printf("[Conn-%d] header read: %v", tag, err)
		return
	}

	header, err := codec.UnpackRequestHeader(headerBuf)
	if err != nil {
		log.Printf("[Conn-%d] header decode: %v", tag, err)
		writeError(tag, netConn)
		return
	}
	if header.Version != packet.Version {
		log.Printf("[Conn-%d] version %d unsupported", tag, header.Version)
		writeError(tag, netConn)
		return
	}

	schema, known := packet.Requests[header.Code]
	if !known {
		log.Printf("[Conn-%d] unknown request code %d", tag, header.Code)
		writeError(tag, netConn)
		return
	}

	netConn.SetReadDeadline(time.Now().Add(ReadTimeout))
	payloadBuf := make([]byte, header.PayloadSize)
	if _, err := io.ReadFull(netConn, payloadBuf); err != nil {
		log.Printf("[Conn-%d] payload read: %v", tag, err)
		return
	}

	payload, err := codec.UnpackPayload(schema, payloadBuf)
	if err != nil {
		log.Printf("[Conn-%d] payload decode: %v", tag, err)
		writeError(tag, netConn)
		return
	}

	sender := model.ClientID(header.SenderID)
	if header.Code == packet.CodeRegister && !sender.Zero() {
		log.Printf("[Conn-%d] register request with non-zero sender_client_id", tag)
		writeError(tag, netConn)
		return
	}

	respFields, err := dispatch(ctx, clientStore, header.Code, sender, payload)
	if err != nil {
		log.Printf("[Conn-%d] handler: %v", tag, err)
		writeError(tag, netConn)
		return
	}

	if header.Code != packet.CodeRegister {
		if err := clientStore.TouchLastSeen(ctx, sender, time.Now()); err != nil {
			log.Printf("[Conn-%d] touch last_seen: %v", tag, err)
		}
	}

	respCode := packet.ResponseFor[header.Code]
	respPayload, err := codec.PackPayload(packet.Responses[respCode], respFields)
	if err != nil {
		log.Printf("[Conn-%d] response encode: %v", tag, err)
		writeError(tag, netConn)
		return
	}

	writeResponse(tag, netConn, respCode, respPayload)
}

// writeError sends the generic empty Error(9000) response. Failures
// writing it are logged and otherwise ignored — the connection is
// closing either way.
func writeError(connID uint64, netConn net.Conn) {
	writeResponse(connID, netConn, packet.CodeError, nil)
}

func writeResponse(connID uint64, netConn net.Conn, code uint16, payload []byte) {
	netConn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	header := codec.PackResponseHeader(code, uint32(len(payload)))
	if _, err := netConn.Write(append(header, payload...)); err != nil {
		log.Printf("[Conn-%d] write response: %v", connID, err)
	}
}
