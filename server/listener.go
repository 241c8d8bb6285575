/*
Package server implements the relay's TCP listener and per-connection
request handler (spec.md §4.4/§4.7). Unlike a persistent chat gateway,
this protocol is single-shot: one accepted connection carries exactly
one request and one response, then closes (spec.md §4.4 step 8,
§9 "within a single connection, request and response are strictly
sequential"). The listener keeps the teacher's goroutine-per-connection
accept loop and graceful-shutdown shape; the persistent duplex
Connection/ConnectionManager abstraction the teacher builds for a
long-lived chat gateway has no role here and is not carried over.
*/
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lymdgit/relay/store"
)

// ReadTimeout bounds how long a connection handler will wait for a
// complete header or payload before aborting without a response
// (spec.md §4.4, §9 "~30s").
const ReadTimeout = 30 * time.Second

// WriteTimeout bounds how long writing the single response may take.
const WriteTimeout = 10 * time.Second

// Listener binds a TCP port and accepts connections in a loop, handing
// each to a fresh handler goroutine (spec.md §4.7). It never reads
// packet bytes itself.
type Listener struct {
	addr string

	store store.ClientStore

	netListener net.Listener
	quit        chan struct{}
	wg          sync.WaitGroup
	connID      uint64
}

// NewListener creates a Listener bound to addr (e.g. "127.0.0.1:1357" or
// ":1357") once Start is called, dispatching requests against store.
func NewListener(addr string, clientStore store.ClientStore) *Listener {
	return &Listener{
		addr:  addr,
		store: clientStore,
		quit:  make(chan struct{}),
	}
}

// Start binds the listening socket and begins accepting connections in
// a background goroutine. It returns once the bind succeeds.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", l.addr, err)
	}
	l.netListener = ln
	log.Printf("[Listener] relay listening on %s", ln.Addr())

	l.wg.Add(1)
	go l.acceptLoop()
	return nil
}

// Addr reports the bound address, useful when addr was ":0".
func (l *Listener) Addr() net.Addr {
	return l.netListener.Addr()
}

// Stop closes the listening socket and waits for in-flight connections
// to finish their single request/response cycle.
func (l *Listener) Stop() {
	log.Println("[Listener] shutting down")
	close(l.quit)
	if l.netListener != nil {
		l.netListener.Close()
	}
	l.wg.Wait()
	log.Println("[Listener] stopped")
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		conn, err := l.netListener.Accept()
		if err != nil {
			select {
			case <-l.quit:
				return
			default:
				log.Printf("[Listener] accept error: %v", err)
				continue
			}
		}

		id := atomic.AddUint64(&l.connID, 1)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			handleConnection(context.Background(), id, conn, l.store)
		}()
	}
}
