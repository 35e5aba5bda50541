package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lborres/templatex/core"
	"github.com/lborres/templatex/pkg/crypto"
)

// NotifyChannel is the LISTEN channel the documents trigger publishes the
// changed collection name on.
const NotifyChannel = "templatex_documents"

const reconnectDelay = time.Second

type docSubscription struct {
	collection string
	docID      string
	filters    []core.Filter
	onDoc      core.DocListener
	onQuery    core.QueryListener

	closed atomic.Bool
	// issued numbers refreshes; only a snapshot newer than delivered is
	// handed to the listener.
	issued atomic.Uint64

	// mu serializes deliveries. It is never held across a query.
	mu        sync.Mutex
	delivered uint64
}

// deliver hands one snapshot to the listener unless a newer one already
// went out or the subscription was released.
func (sub *docSubscription) deliver(ticket uint64, fn func()) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed.Load() || ticket <= sub.delivered {
		return
	}
	sub.delivered = ticket
	fn()
}

// DocumentStore keeps documents as JSONB rows. Subscribers get a fresh
// snapshot of their query after every change notification.
type DocumentStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	subs      map[int]*docSubscription
	nextID    int
	listening bool
}

var _ core.DocumentStore = (*DocumentStore)(nil)

func NewDocumentStore(pool *pgxpool.Pool, logger *slog.Logger) *DocumentStore {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DocumentStore{
		pool:   pool,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[int]*docSubscription),
	}
}

// Close stops the notification listener. Subscriptions get no further
// snapshots.
func (s *DocumentStore) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *DocumentStore) GetOnce(ctx context.Context, collection, id string) (*core.Document, error) {
	var data map[string]any
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`, collection, id,
	).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, core.ErrNotFound)
		}
		return nil, err
	}
	return &core.Document{ID: id, Data: data}, nil
}

func (s *DocumentStore) SetDoc(ctx context.Context, collection, id string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		collection, id, string(raw),
	)
	return err
}

// UpdateDoc merges partial into the top level of the stored document.
func (s *DocumentStore) UpdateDoc(ctx context.Context, collection, id string, partial map[string]any) error {
	raw, err := json.Marshal(partial)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET data = data || $3::jsonb, updated_at = now() WHERE collection = $1 AND id = $2`,
		collection, id, string(raw),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, core.ErrNotFound)
	}
	return nil
}

func (s *DocumentStore) DeleteDoc(ctx context.Context, collection, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	return err
}

func (s *DocumentStore) AddDoc(ctx context.Context, collection string, data map[string]any) (string, error) {
	id, err := crypto.NewDocumentID()
	if err != nil {
		return "", fmt.Errorf("failed to generate document id: %w", err)
	}
	if err := s.SetDoc(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *DocumentStore) SubscribeDoc(collection, id string, listener core.DocListener) (core.Unsubscribe, error) {
	return s.subscribe(&docSubscription{collection: collection, docID: id, onDoc: listener})
}

func (s *DocumentStore) SubscribeQuery(collection string, filters []core.Filter, listener core.QueryListener) (core.Unsubscribe, error) {
	return s.subscribe(&docSubscription{
		collection: collection,
		filters:    append([]core.Filter(nil), filters...),
		onQuery:    listener,
	})
}

func (s *DocumentStore) subscribe(sub *docSubscription) (core.Unsubscribe, error) {
	// Step 1: Make sure changes are being listened for
	if err := s.ensureListening(); err != nil {
		return nil, err
	}

	// Step 2: Register, then fetch the current snapshot in the background
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.refresh(sub)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.closed.Store(true)
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}, nil
}

// refresh queries the subscription's current snapshot and delivers it.
func (s *DocumentStore) refresh(sub *docSubscription) {
	if sub.closed.Load() {
		return
	}
	ticket := sub.issued.Add(1)

	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	if sub.docID != "" {
		doc, err := s.GetOnce(ctx, sub.collection, sub.docID)
		if errors.Is(err, core.ErrNotFound) {
			doc, err = nil, nil
		}
		sub.deliver(ticket, func() { sub.onDoc(doc, err) })
		return
	}

	docs, err := s.query(ctx, sub.collection, sub.filters)
	sub.deliver(ticket, func() { sub.onQuery(docs, err) })
}

func (s *DocumentStore) query(ctx context.Context, collection string, filters []core.Filter) ([]core.Document, error) {
	match := make(map[string]any, len(filters))
	for _, f := range filters {
		match[f.Field] = f.Value
	}
	raw, err := json.Marshal(match)
	if err != nil {
		return nil, fmt.Errorf("failed to encode filters: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, data FROM documents WHERE collection = $1 AND data @> $2::jsonb ORDER BY id`,
		collection, string(raw),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]core.Document, 0)
	for rows.Next() {
		var d core.Document
		if err := rows.Scan(&d.ID, &d.Data); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *DocumentStore) ensureListening() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listening {
		return nil
	}
	if err := s.ctx.Err(); err != nil {
		return core.ErrClosed
	}
	s.listening = true
	s.wg.Add(1)
	go s.listen()
	return nil
}

// listen holds one connection in LISTEN mode and fans notifications out.
// A dropped connection is reported to every subscriber, then retried.
func (s *DocumentStore) listen() {
	defer s.wg.Done()
	for {
		err := s.listenOnce()
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Warn("document listener disconnected", slog.Any("error", err))
		s.broadcastError(err)

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *DocumentStore) listenOnce() error {
	conn, err := s.pool.Acquire(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listener connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(s.ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.logger.Debug("listening for document changes", slog.String("channel", NotifyChannel))

	// Changes made while disconnected are picked up here.
	s.refreshAll("")

	for {
		n, err := conn.Conn().WaitForNotification(s.ctx)
		if err != nil {
			return err
		}
		s.refreshAll(n.Payload)
	}
}

// refreshAll refreshes every subscription of collection, or all of them
// when collection is empty.
func (s *DocumentStore) refreshAll(collection string) {
	for _, sub := range s.snapshotSubs(collection) {
		s.refresh(sub)
	}
}

func (s *DocumentStore) broadcastError(err error) {
	for _, sub := range s.snapshotSubs("") {
		ticket := sub.issued.Add(1)
		sub.deliver(ticket, func() {
			if sub.onDoc != nil {
				sub.onDoc(nil, err)
			} else {
				sub.onQuery(nil, err)
			}
		})
	}
}

func (s *DocumentStore) snapshotSubs(collection string) []*docSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*docSubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if collection == "" || sub.collection == collection {
			out = append(out, sub)
		}
	}
	return out
}
