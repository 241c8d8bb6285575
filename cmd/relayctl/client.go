package main

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/lymdgit/relay/model"
	"github.com/lymdgit/relay/wire/codec"
	"github.com/lymdgit/relay/wire/packet"
)

// dialTimeout bounds connection setup; requestTimeout bounds the whole
// single-shot exchange once connected.
const (
	dialTimeout    = 5 * time.Second
	requestTimeout = 10 * time.Second
)

// sendRequest opens one fresh TCP connection, writes a single request,
// and reads its one response — the shape spec.md §9 requires ("a
// connection is single-shot request/response then close"). relayctl
// never keeps a connection open across commands.
func sendRequest(addr string, code uint16, sender model.ClientID, schema packet.Schema, fields codec.Fields) (codec.Fields, error) {
	payload, err := codec.PackPayload(schema, fields)
	if err != nil {
		return nil, fmt.Errorf("pack request: %w", err)
	}
	header := codec.PackRequestHeader(code, [16]byte(sender), uint32(len(payload)))

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(requestTimeout))
	if _, err := conn.Write(append(header, payload...)); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	respHeaderBuf := make([]byte, packet.ResponseHeaderSize)
	if _, err := io.ReadFull(conn, respHeaderBuf); err != nil {
		return nil, fmt.Errorf("read response header: %w", err)
	}
	respHeader, err := codec.UnpackResponseHeader(respHeaderBuf)
	if err != nil {
		return nil, fmt.Errorf("decode response header: %w", err)
	}

	respPayloadBuf := make([]byte, respHeader.PayloadSize)
	if _, err := io.ReadFull(conn, respPayloadBuf); err != nil {
		return nil, fmt.Errorf("read response payload: %w", err)
	}

	if respHeader.Code == packet.CodeError {
		return nil, fmt.Errorf("relay returned Error(9000) for request code %d", code)
	}
	respSchema, ok := packet.Responses[respHeader.Code]
	if !ok {
		return nil, fmt.Errorf("unrecognized response code %d", respHeader.Code)
	}
	return codec.UnpackPayload(respSchema, respPayloadBuf)
}
