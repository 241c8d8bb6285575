/*
relayd is the relay's server executable: it reads port.info and a Redis
address, wires the store and listener together, and runs until an
interrupt signal arrives. The App struct and startup/shutdown sequence
follow the teacher's cmd/main.go App pattern; "Services" are collapsed
to a single store.ClientStore here since this protocol has no session,
Pub/Sub, or sequence manager of its own (§4.6 folds all of that into
one Redis-backed repository).
*/
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/lymdgit/relay/config"
	"github.com/lymdgit/relay/server"
	"github.com/lymdgit/relay/store"
)

// Config holds relayd's command-line-derived settings.
type Config struct {
	PortFile  string
	Host      string
	RedisAddr string
}

// App owns the listener and its dependencies for the lifetime of the
// process.
type App struct {
	config   Config
	listener *server.Listener
}

// NewApp constructs an App from config without starting anything.
func NewApp(cfg Config) *App {
	return &App{config: cfg}
}

// Initialize reads port.info, connects to Redis, and wires the store
// into a Listener. Order matters: config → store → listener.
func (a *App) Initialize(ctx context.Context) error {
	port, err := config.LoadPort(a.config.PortFile)
	if err != nil {
		return err
	}

	redisClient, err := config.NewRedisClient(ctx, config.RedisConfig{Addr: a.config.RedisAddr})
	if err != nil {
		return err
	}

	clientStore := store.NewRedisStore(redisClient)
	addr := net.JoinHostPort(a.config.Host, strconv.Itoa(int(port)))
	a.listener = server.NewListener(addr, clientStore)
	return nil
}

// Start begins accepting connections. Non-blocking.
func (a *App) Start() error {
	return a.listener.Start()
}

// Stop gracefully drains in-flight connections.
func (a *App) Stop() {
	if a.listener != nil {
		a.listener.Stop()
	}
}

func main() {
	portFile := flag.String("port-file", "port.info", "path to the port.info configuration file")
	host := flag.String("host", "127.0.0.1", "interface to bind")
	redisAddr := flag.String("redis", "127.0.0.1:6379", "Redis address")
	flag.Parse()

	cfg := Config{PortFile: *portFile, Host: *host, RedisAddr: *redisAddr}

	app := NewApp(cfg)
	ctx := context.Background()
	if err := app.Initialize(ctx); err != nil {
		log.Fatalf("[relayd] initialize: %v", err)
	}
	if err := app.Start(); err != nil {
		log.Fatalf("[relayd] start: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Stop()
}
