package services

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/lborres/templatex/core"
)

const (
	KeyDarkMode = "prefs.dark_mode"
	KeyLocale   = "prefs.locale"
)

// PreferenceStore reads preferences once and writes them through a single
// background writer. Pending saves coalesce to the latest value.
type PreferenceStore struct {
	storage core.LocalStorage
	logger  *slog.Logger

	mu      sync.Mutex
	pending *core.Preferences
	closed  bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

func NewPreferenceStore(storage core.LocalStorage, logger *slog.Logger) *PreferenceStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PreferenceStore{
		storage: storage,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writer()
	return s
}

// Load returns stored preferences. Missing or malformed keys fall back to
// their defaults individually.
func (s *PreferenceStore) Load() core.Preferences {
	p := core.DefaultPreferences()

	if v, ok, err := s.storage.GetItem(KeyDarkMode); err != nil {
		s.logger.Warn("failed to read preference", slog.String("key", KeyDarkMode), slog.Any("error", err))
	} else if ok {
		if b, err := strconv.ParseBool(v); err == nil {
			p.DarkMode = b
		}
	}

	if v, ok, err := s.storage.GetItem(KeyLocale); err != nil {
		s.logger.Warn("failed to read preference", slog.String("key", KeyLocale), slog.Any("error", err))
	} else if ok && core.Locale(v).Valid() {
		p.Locale = core.Locale(v)
	}

	return p
}

// Save is fire-and-forget. Failures are logged; the next Save writes every
// key again.
func (s *PreferenceStore) Save(p core.Preferences) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = &p
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close writes any pending value and stops the writer.
func (s *PreferenceStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
}

func (s *PreferenceStore) writer() {
	defer s.wg.Done()
	for {
		select {
		case <-s.wake:
			s.flush()
		case <-s.done:
			s.flush()
			return
		}
	}
}

func (s *PreferenceStore) flush() {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.mu.Unlock()
	if p == nil {
		return
	}

	if err := s.storage.SetItem(KeyDarkMode, strconv.FormatBool(p.DarkMode)); err != nil {
		s.logger.Warn("failed to save preferences", slog.String("key", KeyDarkMode), slog.Any("error", err))
		return
	}
	if err := s.storage.SetItem(KeyLocale, string(p.Locale)); err != nil {
		s.logger.Warn("failed to save preferences", slog.String("key", KeyLocale), slog.Any("error", err))
	}
}
