package fiber

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lborres/templatex/core"
	"github.com/lborres/templatex/pkg/metrics"
	"github.com/lborres/templatex/services"
)

// StorageFactory returns the LocalStorage of one browser client.
type StorageFactory func(clientID string) (core.LocalStorage, error)

type ClientsConfig struct {
	Auth       *services.AuthService
	Documents  core.DocumentStore
	NewStorage StorageFactory

	// Optional config
	Policy      core.PolicyConfig
	IdleTimeout time.Duration
	// MaxClients caps live clients. At the cap the least recently seen
	// client without an open stream is stopped to make room.
	MaxClients int
	Metrics    metrics.Recorder
	Logger      *slog.Logger
	Now         core.Clock
}

// client is one browser tab group sharing a tx_client cookie. Its App runs
// on its own loop goroutine.
type client struct {
	id       string
	app      *services.App
	cancel   context.CancelFunc
	done     chan struct{}
	lastSeen time.Time
	streams  int
}

// do runs fn on the client's loop.
func (cl *client) do(ctx context.Context, fn func(*services.App) error) error {
	return cl.app.Do(ctx, fn)
}

// Clients owns the App of every connected browser client.
type Clients struct {
	cfg ClientsConfig

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
}

const (
	DefaultIdleTimeout = 30 * time.Minute
	DefaultMaxClients  = 10000
)

// ErrTooManyClients is returned when every client slot holds an open stream.
var ErrTooManyClients = errors.New("too many clients")

func NewClients(cfg ClientsConfig) *Clients {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Clients{cfg: cfg, clients: make(map[string]*client)}
}

// Get returns the client for id, starting its App on first use.
func (r *Clients) Get(id, ipAddress, userAgent string) (*client, error) {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return nil, core.ErrClosed
	}
	if cl, ok := r.clients[id]; ok {
		cl.lastSeen = r.cfg.Now()
		r.mu.Unlock()
		return cl, nil
	}

	var evicted *client
	if len(r.clients) >= r.cfg.MaxClients {
		evicted = r.leastRecentIdle()
		if evicted == nil {
			r.mu.Unlock()
			r.cfg.Logger.Warn("client limit reached", slog.Int("max", r.cfg.MaxClients))
			return nil, ErrTooManyClients
		}
		delete(r.clients, evicted.id)
	}

	cl, err := r.start(id, ipAddress, userAgent)
	if err == nil {
		r.clients[id] = cl
		r.cfg.Logger.Debug("client started", slog.String("client", id))
	}
	r.mu.Unlock()

	if evicted != nil {
		r.stop(evicted)
	}
	if err != nil {
		return nil, err
	}
	return cl, nil
}

// leastRecentIdle returns the least recently seen client without an open
// stream. r.mu must be held.
func (r *Clients) leastRecentIdle() *client {
	var oldest *client
	for _, cl := range r.clients {
		if cl.streams > 0 {
			continue
		}
		if oldest == nil || cl.lastSeen.Before(oldest.lastSeen) {
			oldest = cl
		}
	}
	return oldest
}

func (r *Clients) start(id, ipAddress, userAgent string) (*client, error) {
	storage, err := r.cfg.NewStorage(id)
	if err != nil {
		return nil, err
	}

	logger := r.cfg.Logger.With(slog.String("client", id))
	identity := services.NewIdentity(services.IdentityConfig{
		Auth:      r.cfg.Auth,
		Storage:   storage,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Logger:    logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	app, err := services.NewApp(services.AppConfig{
		Identity:  identity,
		Documents: r.cfg.Documents,
		Storage:   storage,
		Policy:    r.cfg.Policy,
		Context:   ctx,
		Metrics:   r.cfg.Metrics,
		Logger:    logger,
		Now:       r.cfg.Now,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	cl := &client{
		id:       id,
		app:      app,
		cancel:   cancel,
		done:     make(chan struct{}),
		lastSeen: r.cfg.Now(),
	}
	go func() {
		defer close(cl.done)
		_ = app.Run(ctx)
	}()
	app.Loop().Post(app.Start)
	return cl, nil
}

// attach and detach count open event streams; a client with a stream is
// never idle.
func (r *Clients) attach(cl *client) {
	r.mu.Lock()
	cl.streams++
	r.mu.Unlock()
}

func (r *Clients) detach(cl *client) {
	r.mu.Lock()
	cl.streams--
	cl.lastSeen = r.cfg.Now()
	r.mu.Unlock()
}

// Len reports the number of live clients.
func (r *Clients) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Sweep stops clients idle for longer than the idle timeout and returns how
// many were stopped.
func (r *Clients) Sweep() int {
	now := r.cfg.Now()

	r.mu.Lock()
	var idle []*client
	for id, cl := range r.clients {
		if cl.streams == 0 && now.Sub(cl.lastSeen) > r.cfg.IdleTimeout {
			idle = append(idle, cl)
			delete(r.clients, id)
		}
	}
	r.mu.Unlock()

	for _, cl := range idle {
		r.stop(cl)
	}
	return len(idle)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Clients) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.cfg.Logger.Info("stopped idle clients", slog.Int("count", n))
			}
		}
	}
}

// Close stops every client.
func (r *Clients) Close() {
	r.mu.Lock()
	r.closed = true
	all := make([]*client, 0, len(r.clients))
	for _, cl := range r.clients {
		all = append(all, cl)
	}
	r.clients = make(map[string]*client)
	r.mu.Unlock()

	for _, cl := range all {
		r.stop(cl)
	}
}

func (r *Clients) stop(cl *client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = cl.do(ctx, func(app *services.App) error {
		app.Close()
		return nil
	})
	cl.cancel()
	<-cl.done
	r.cfg.Logger.Debug("client stopped", slog.String("client", cl.id))
}
