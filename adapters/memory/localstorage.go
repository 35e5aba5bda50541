package memory

import (
	"sync"

	"github.com/lborres/templatex/core"
)

// LocalStorage is a map-backed core.LocalStorage. Sharing one instance
// between two App values simulates a restart.
type LocalStorage struct {
	mu       sync.Mutex
	items    map[string]string
	readErr  error
	writeErr error
	writes   int
}

var _ core.LocalStorage = (*LocalStorage)(nil)

func NewLocalStorage() *LocalStorage {
	return &LocalStorage{items: make(map[string]string)}
}

func (l *LocalStorage) GetItem(key string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return "", false, l.readErr
	}
	v, ok := l.items[key]
	return v, ok, nil
}

func (l *LocalStorage) SetItem(key, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes++
	if l.writeErr != nil {
		return l.writeErr
	}
	l.items[key] = value
	return nil
}

func (l *LocalStorage) FailReads(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readErr = err
}

func (l *LocalStorage) FailWrites(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeErr = err
}

// Writes counts SetItem calls, failed ones included.
func (l *LocalStorage) Writes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writes
}
