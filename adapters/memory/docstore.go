// Package memory holds in-process adapters for every port. They back the
// server when no database is configured and double as test fakes with call
// counters and error injection.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/lborres/templatex/core"
	"github.com/lborres/templatex/pkg/crypto"
)

type docSub struct {
	collection string
	id         string
	listener   core.DocListener
}

type querySub struct {
	collection string
	filters    []core.Filter
	listener   core.QueryListener
}

// DocStats counts calls made against a DocumentStore.
type DocStats struct {
	Reads        int
	Writes       int
	Subscribes   int
	Unsubscribes int
	Active       int
}

// DocumentStore keeps documents in maps and pushes a full snapshot to every
// affected subscriber after each write, outside its data lock.
type DocumentStore struct {
	// deliverMu serializes write+delivery so snapshots arrive in write order.
	deliverMu sync.Mutex

	mu          sync.Mutex
	collections map[string]map[string]map[string]any
	docSubs     map[int]*docSub
	querySubs   map[int]*querySub
	nextSubID   int
	stats       DocStats
	writeErr    error
	subErr      error
}

var _ core.DocumentStore = (*DocumentStore)(nil)

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		collections: make(map[string]map[string]map[string]any),
		docSubs:     make(map[int]*docSub),
		querySubs:   make(map[int]*querySub),
	}
}

// FailWrites makes every write return err until called with nil.
func (s *DocumentStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// FailSubscriptions makes Subscribe* return err until called with nil.
func (s *DocumentStore) FailSubscriptions(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subErr = err
}

// Break pushes err to every subscriber of collection, as a dropped
// connection would.
func (s *DocumentStore) Break(collection string, err error) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	var docL []core.DocListener
	var queryL []core.QueryListener
	for _, sub := range s.docSubs {
		if sub.collection == collection {
			docL = append(docL, sub.listener)
		}
	}
	for _, sub := range s.querySubs {
		if sub.collection == collection {
			queryL = append(queryL, sub.listener)
		}
	}
	s.mu.Unlock()

	for _, l := range docL {
		l(nil, err)
	}
	for _, l := range queryL {
		l(nil, err)
	}
}

func (s *DocumentStore) Stats() DocStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Active = len(s.docSubs) + len(s.querySubs)
	return st
}

func (s *DocumentStore) GetOnce(ctx context.Context, collection, id string) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Reads++

	data, ok := s.collections[collection][id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &core.Document{ID: id, Data: cloneData(data)}, nil
}

func (s *DocumentStore) SetDoc(ctx context.Context, collection, id string, data map[string]any) error {
	return s.write(collection, func(docs map[string]map[string]any) error {
		docs[id] = cloneData(data)
		return nil
	})
}

func (s *DocumentStore) UpdateDoc(ctx context.Context, collection, id string, partial map[string]any) error {
	return s.write(collection, func(docs map[string]map[string]any) error {
		existing, ok := docs[id]
		if !ok {
			return fmt.Errorf("%s/%s: %w", collection, id, core.ErrNotFound)
		}
		merged := cloneData(existing)
		for k, v := range partial {
			merged[k] = cloneValue(v)
		}
		docs[id] = merged
		return nil
	})
}

func (s *DocumentStore) DeleteDoc(ctx context.Context, collection, id string) error {
	return s.write(collection, func(docs map[string]map[string]any) error {
		delete(docs, id)
		return nil
	})
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
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.subErr != nil {
		err := s.subErr
		s.mu.Unlock()
		return nil, err
	}
	subID := s.nextSubID
	s.nextSubID++
	s.docSubs[subID] = &docSub{collection: collection, id: id, listener: listener}
	s.stats.Subscribes++
	snap := s.docSnapshot(collection, id)
	s.mu.Unlock()

	listener(snap, nil)
	return s.unsubscriber(func() bool {
		_, ok := s.docSubs[subID]
		delete(s.docSubs, subID)
		return ok
	}), nil
}

func (s *DocumentStore) SubscribeQuery(collection string, filters []core.Filter, listener core.QueryListener) (core.Unsubscribe, error) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.subErr != nil {
		err := s.subErr
		s.mu.Unlock()
		return nil, err
	}
	subID := s.nextSubID
	s.nextSubID++
	sub := &querySub{collection: collection, filters: append([]core.Filter(nil), filters...), listener: listener}
	s.querySubs[subID] = sub
	s.stats.Subscribes++
	snap := s.querySnapshot(collection, sub.filters)
	s.mu.Unlock()

	listener(snap, nil)
	return s.unsubscriber(func() bool {
		_, ok := s.querySubs[subID]
		delete(s.querySubs, subID)
		return ok
	}), nil
}

// unsubscriber counts every call, including repeats, so tests can assert
// exactly-once release.
func (s *DocumentStore) unsubscriber(remove func() bool) core.Unsubscribe {
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.stats.Unsubscribes++
		remove()
	}
}

func (s *DocumentStore) write(collection string, mutate func(map[string]map[string]any) error) error {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	s.stats.Writes++
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return err
	}

	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]map[string]any)
		s.collections[collection] = docs
	}
	if err := mutate(docs); err != nil {
		s.mu.Unlock()
		return err
	}

	var deliveries []func()
	for _, sub := range s.docSubs {
		if sub.collection != collection {
			continue
		}
		l, snap := sub.listener, s.docSnapshot(collection, sub.id)
		deliveries = append(deliveries, func() { l(snap, nil) })
	}
	for _, sub := range s.querySubs {
		if sub.collection != collection {
			continue
		}
		l, snap := sub.listener, s.querySnapshot(collection, sub.filters)
		deliveries = append(deliveries, func() { l(snap, nil) })
	}
	s.mu.Unlock()

	for _, deliver := range deliveries {
		deliver()
	}
	return nil
}

func (s *DocumentStore) docSnapshot(collection, id string) *core.Document {
	data, ok := s.collections[collection][id]
	if !ok {
		return nil
	}
	return &core.Document{ID: id, Data: cloneData(data)}
}

func (s *DocumentStore) querySnapshot(collection string, filters []core.Filter) []core.Document {
	docs := make([]core.Document, 0)
	for id, data := range s.collections[collection] {
		if matches(data, filters) {
			docs = append(docs, core.Document{ID: id, Data: cloneData(data)})
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

func matches(data map[string]any, filters []core.Filter) bool {
	for _, f := range filters {
		if !reflect.DeepEqual(data[f.Field], f.Value) {
			return false
		}
	}
	return true
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneData(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
