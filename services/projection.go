package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/lborres/templatex/core"
	"github.com/lborres/templatex/pkg/metrics"
)

type ViewStatus string

const (
	ViewLoading ViewStatus = "loading"
	ViewReady   ViewStatus = "ready"
	ViewMissing ViewStatus = "missing"
	ViewFailed  ViewStatus = "failed"
)

// View is the whole view state of one projection. Snapshots replace it.
type View[T any] struct {
	Status ViewStatus
	Data   T
	Err    error
}

func (v View[T]) MarshalJSON() ([]byte, error) {
	out := struct {
		Status ViewStatus `json:"status"`
		Data   *T         `json:"data,omitempty"`
		Error  string     `json:"error,omitempty"`
	}{Status: v.Status}
	if v.Status == ViewReady {
		out.Data = &v.Data
	}
	if v.Err != nil {
		out.Error = v.Err.Error()
	}
	return json.Marshal(out)
}

func LoadingView[T any]() View[T] {
	return View[T]{Status: ViewLoading}
}

// Query selects a single document when DocID is set, otherwise every
// document of Collection matching Filters.
type Query struct {
	Collection string
	DocID      string
	Filters    []core.Filter
}

func (q Query) String() string {
	if q.DocID != "" {
		return q.Collection + "/" + q.DocID
	}
	return fmt.Sprintf("%s%v", q.Collection, q.Filters)
}

// Decoder maps the documents of a snapshot to view data. For a document
// query docs has exactly one element.
type Decoder[T any] func(docs []core.Document) (T, error)

// Projector holds what every projection needs.
type Projector struct {
	loop    *Loop
	store   core.DocumentStore
	metrics metrics.Recorder
	logger  *slog.Logger
}

func NewProjector(loop *Loop, store core.DocumentStore, rec metrics.Recorder, logger *slog.Logger) *Projector {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{loop: loop, store: store, metrics: rec, logger: logger}
}

// Subscription is a live projection handle. Release is idempotent.
type Subscription struct {
	query    Query
	unsub    core.Unsubscribe
	released atomic.Bool
	once     sync.Once
	onClose  func()
}

func (s *Subscription) Query() Query { return s.query }

func (s *Subscription) Released() bool { return s.released.Load() }

// Release stops delivery and unsubscribes from the store exactly once.
func (s *Subscription) Release() {
	s.once.Do(func() {
		s.released.Store(true)
		if s.unsub != nil {
			s.unsub()
		}
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// Subscribe starts a live projection. Every store callback is re-posted to
// the loop and dropped once the subscription is released. onSnapshot gets
// ViewReady or ViewMissing; onError gets store and decode failures.
func Subscribe[T any](p *Projector, q Query, decode Decoder[T], onSnapshot func(View[T]), onError func(error)) (*Subscription, error) {
	sub := &Subscription{query: q}

	deliver := func(docs []core.Document, missing bool, err error) {
		p.loop.Post(func() {
			if sub.Released() {
				return
			}
			if err != nil {
				p.logger.Warn("projection failed", slog.String("query", q.String()), slog.Any("error", err))
				onError(err)
				return
			}
			p.metrics.SnapshotDelivered(q.Collection)
			if missing {
				onSnapshot(View[T]{Status: ViewMissing})
				return
			}
			data, err := decode(docs)
			if err != nil {
				p.logger.Warn("snapshot decode failed", slog.String("query", q.String()), slog.Any("error", err))
				onError(err)
				return
			}
			onSnapshot(View[T]{Status: ViewReady, Data: data})
		})
	}

	var (
		unsub core.Unsubscribe
		err   error
	)
	if q.DocID != "" {
		unsub, err = p.store.SubscribeDoc(q.Collection, q.DocID, func(doc *core.Document, err error) {
			if doc == nil {
				deliver(nil, err == nil, err)
				return
			}
			deliver([]core.Document{*doc}, false, err)
		})
	} else {
		unsub, err = p.store.SubscribeQuery(q.Collection, q.Filters, func(docs []core.Document, err error) {
			deliver(docs, false, err)
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", q, err)
	}

	sub.unsub = unsub
	sub.onClose = func() {
		p.metrics.SubscriptionReleased(q.Collection)
		p.logger.Debug("subscription released", slog.String("query", q.String()))
	}
	p.metrics.SubscriptionStarted(q.Collection)
	p.logger.Debug("subscription started", slog.String("query", q.String()))
	return sub, nil
}

// Scope groups the subscriptions of one mounted screen.
type Scope struct {
	subs     []*Subscription
	released bool
}

func (s *Scope) Add(sub *Subscription) {
	if s.released {
		sub.Release()
		return
	}
	s.subs = append(s.subs, sub)
}

func (s *Scope) Len() int { return len(s.subs) }

// Release releases every subscription of the scope. Repeat calls are no-ops.
func (s *Scope) Release() {
	if s.released {
		return
	}
	s.released = true
	for _, sub := range s.subs {
		sub.Release()
	}
}

// failedView turns a subscription error into the explicit error state.
// A missing document is never an error.
func failedView[T any](err error) View[T] {
	if errors.Is(err, core.ErrNotFound) {
		return View[T]{Status: ViewMissing}
	}
	return View[T]{Status: ViewFailed, Err: err}
}
