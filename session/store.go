// Package session holds wizard sessions: uploaded template images, guest
// names and placement configurations, with the mutation rules the
// interactive editor relies on (lock refusal, clamping, order permutations)
// and optional SQLite persistence.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/weddinglabs/cardpress/api"
)

var (
	ErrNotFound = errors.New("session not found")
	// ErrLocked is returned when a position mutation targets a locked
	// placement.
	ErrLocked = errors.New("placement position is locked")
	// ErrRunActive rejects mutations while a batch run is consuming the
	// session. The pipeline snapshots configs once at start; edits during a
	// run would silently diverge from the output.
	ErrRunActive = errors.New("a generation run is active")
)

// Session is one wizard flow: its uploads, names and placements.
type Session struct {
	ID        string
	CreatedAt time.Time
	Names     []string
	Images    []*api.TemplateImage
	Configs   []api.PlacementConfig

	running bool
}

// Store manages sessions in memory with write-through SQLite persistence
// when opened with a database path.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	db       *database
}

// NewStore creates a store. dbPath selects the SQLite file; empty keeps
// sessions in memory only.
func NewStore(dbPath string) (*Store, error) {
	s := &Store{sessions: map[string]*Session{}}
	if dbPath != "" {
		db, err := openDatabase(dbPath)
		if err != nil {
			return nil, err
		}
		s.db = db
	}
	return s, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.close()
	}
	return nil
}

// Create starts a new empty session.
func (s *Store) Create() (*Session, error) {
	sess := &Session{ID: newID(), CreatedAt: time.Now().UTC()}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	if err := s.persist(sess); err != nil {
		delete(s.sessions, sess.ID)
		return nil, err
	}
	return sess, nil
}

// Get returns a session, loading it from the database if it is not in
// memory.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *Store) get(id string) (*Session, error) {
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	if s.db != nil {
		sess, err := s.db.load(id)
		if err == nil {
			s.sessions[id] = sess
			return sess, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Delete discards a session and its persisted state.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	if s.db != nil {
		return s.db.delete(id)
	}
	return nil
}

// AddImages appends uploaded template images, creating a default placement
// config per image as the editor does.
func (s *Store) AddImages(id string, images []*api.TemplateImage) error {
	return s.mutate(id, func(sess *Session) error {
		for _, img := range images {
			sess.Configs = append(sess.Configs, api.DefaultPlacement(len(sess.Images)))
			sess.Images = append(sess.Images, img)
		}
		return nil
	})
}

// SetNames replaces the guest name list, dropping empty entries.
func (s *Store) SetNames(id string, names []string) error {
	return s.mutate(id, func(sess *Session) error {
		sess.Names = sess.Names[:0]
		for _, n := range names {
			if n != "" {
				sess.Names = append(sess.Names, n)
			}
		}
		return nil
	})
}

// UpdateConfig applies an arbitrary mutation to one placement config and
// validates the result.
func (s *Store) UpdateConfig(id string, imageIndex int, fn func(*api.PlacementConfig) error) error {
	return s.mutate(id, func(sess *Session) error {
		cfg, err := sess.config(imageIndex)
		if err != nil {
			return err
		}
		if err := fn(cfg); err != nil {
			return err
		}
		return cfg.Validate()
	})
}

// SetPosition moves the primary text anchor. Locked placements refuse the
// move; coordinates clamp into [0,100] as the drag handler does.
func (s *Store) SetPosition(id string, imageIndex int, x, y float64) error {
	return s.mutate(id, func(sess *Session) error {
		cfg, err := sess.config(imageIndex)
		if err != nil {
			return err
		}
		if cfg.Locked {
			return ErrLocked
		}
		cfg.X = api.ClampPercent(x)
		cfg.Y = api.ClampPercent(y)
		return nil
	})
}

// Reorder assigns output page order. order[i] is the output position of the
// config at sequence position i and must be a permutation of 0..N-1.
func (s *Store) Reorder(id string, order []int) error {
	return s.mutate(id, func(sess *Session) error {
		if len(order) != len(sess.Configs) {
			return fmt.Errorf("order has %d entries for %d pages", len(order), len(sess.Configs))
		}
		seen := make([]bool, len(order))
		for _, o := range order {
			if o < 0 || o >= len(order) || seen[o] {
				return fmt.Errorf("order values must form a permutation of 0..%d", len(order)-1)
			}
			seen[o] = true
		}
		for i := range sess.Configs {
			o := order[i]
			sess.Configs[i].Order = &o
		}
		return nil
	})
}

// Snapshot freezes the session into an immutable run input.
func (s *Store) Snapshot(id string, opts api.RunOptions) (*api.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return api.NewSnapshot(sess.Names, sess.Images, sess.Configs, opts)
}

// BeginRun locks the session against edits for the duration of a batch
// run.
func (s *Store) BeginRun(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	if sess.running {
		return ErrRunActive
	}
	sess.running = true
	return nil
}

// EndRun releases the run lock.
func (s *Store) EndRun(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.running = false
	}
}

func (s *Store) mutate(id string, fn func(*Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	if sess.running {
		return ErrRunActive
	}
	if err := fn(sess); err != nil {
		return err
	}
	return s.persist(sess)
}

func (s *Store) persist(sess *Session) error {
	if s.db == nil {
		return nil
	}
	return s.db.save(sess)
}

func (sess *Session) config(imageIndex int) (*api.PlacementConfig, error) {
	for i := range sess.Configs {
		if sess.Configs[i].ImageIndex == imageIndex {
			return &sess.Configs[i], nil
		}
	}
	return nil, fmt.Errorf("no placement for image %d", imageIndex)
}

func newID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
