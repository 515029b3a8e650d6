package walletstore

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
)

// Store is the single entry point to the persisted wallet data. A process
// holds one Store; it must be opened before use.
type Store struct {
	path     string
	registry *Registry
	opt      Options
	logger   *slog.Logger
	metadata map[string]map[string]bool

	mu     sync.Mutex
	state  State
	st     storage
	schema *SchemaVersion

	writeMu sync.Mutex
	subs    subscribers

	ReadCount  atomic.Uint64
	WriteCount atomic.Uint64
}

type Options struct {
	Logger    *slog.Logger
	Verbose   bool
	IsTesting bool

	// Timeout bounds the wait for the file lock. Defaults to 10 seconds.
	Timeout time.Duration

	// MetadataFields lists client-only fields, per entity, that are accepted
	// on writes without being declared in the schema and survive migrations
	// untouched.
	MetadataFields map[string][]string

	// Now is used for marker timestamps.
	Now func() time.Time

	readOnly bool
}

// Phase is the lifecycle stage of a Store.
type Phase int

const (
	PhaseUnopened Phase = iota
	PhaseDetecting
	PhaseMigrating
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseUnopened:
		return "unopened"
	case PhaseDetecting:
		return "detecting"
	case PhaseMigrating:
		return "migrating"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is a snapshot of the store lifecycle. While migrating, Step counts
// from 1 to Steps and Version is the version being applied. Once ready,
// Version is the open schema version.
type State struct {
	Phase   Phase
	Step    int
	Steps   int
	Version uint64
	Err     error
}

func (s State) String() string {
	switch s.Phase {
	case PhaseMigrating:
		return fmt.Sprintf("migrating(step %d of %d, v%d)", s.Step, s.Steps, s.Version)
	case PhaseReady:
		return fmt.Sprintf("ready(v%d)", s.Version)
	case PhaseFailed:
		return fmt.Sprintf("failed(%v)", s.Err)
	default:
		return s.Phase.String()
	}
}

// New prepares a store backed by the file at path. An empty path selects a
// transient in-memory backend.
func New(path string, registry *Registry, opt Options) *Store {
	if registry == nil {
		panic("walletstore.New: nil registry")
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	s := &Store{
		path:     path,
		registry: registry,
		opt:      opt,
		logger:   opt.Logger,
		metadata: make(map[string]map[string]bool),
	}
	for ent, names := range opt.MetadataFields {
		set := make(map[string]bool, len(names))
		for _, name := range names {
			set[name] = true
		}
		s.metadata[ent] = set
	}
	return s
}

// Open detects the persisted schema version and migrates the store to the
// latest registered version. It is not reentrant: a call made while another
// is in progress fails with ErrAlreadyOpening. On failure the store is left at
// its last committed version and stays closed.
func (s *Store) Open() error {
	s.mu.Lock()
	switch s.state.Phase {
	case PhaseDetecting, PhaseMigrating:
		s.mu.Unlock()
		return &OpenError{ReasonAlreadyOpening, ErrAlreadyOpening}
	case PhaseReady:
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	s.state = State{Phase: PhaseDetecting}
	s.mu.Unlock()

	start := time.Now()
	latest := s.registry.Latest()

	st, err := s.openStorage()
	if err == nil {
		err = s.detectAndMigrate(st)
		if err != nil {
			st.Close()
		}
	}
	if err != nil {
		s.setState(State{Phase: PhaseFailed, Err: err})
		s.logger.Error("store: open failed", "path", s.path, "err", err)
		return err
	}

	s.mu.Lock()
	s.st = st
	s.schema = latest
	s.state = State{Phase: PhaseReady, Version: latest.number}
	s.mu.Unlock()

	s.logger.Info("store: ready", "path", s.path, "version", latest.number, "ms", time.Since(start).Milliseconds())
	return nil
}

func (s *Store) openStorage() (storage, error) {
	if s.path == "" {
		return newMemStorage(), nil
	}
	st, err := openBoltStorage(s.path, s.opt)
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, &OpenError{ReasonAlreadyOpening, fmt.Errorf("%w: %s is locked: %v", ErrAlreadyOpening, s.path, err)}
	} else if err != nil {
		return nil, &OpenError{ReasonCorruptStore, fmt.Errorf("%w: %v", ErrCorruptStore, err)}
	}
	return st, nil
}

func (s *Store) detectAndMigrate(st storage) error {
	corrupt := func(format string, args ...any) error {
		return &OpenError{ReasonCorruptStore, fmt.Errorf("%w: %s", ErrCorruptStore, fmt.Sprintf(format, args...))}
	}

	stx, err := st.BeginTx(false)
	if err != nil {
		return corrupt("begin: %v", err)
	}
	marker, found, err := readMarker(stx)
	names := stx.BucketNames()
	stx.Rollback()
	if err != nil {
		return &OpenError{ReasonCorruptStore, err}
	}

	latest := s.registry.Latest()
	if !found {
		for _, name := range names {
			if strings.HasPrefix(name, entityBucketPrefix) {
				return corrupt("entity data present without a schema version marker")
			}
		}
		return s.initialize(st, latest)
	}

	if marker.Version > latest.number {
		return corrupt("store is at schema v%d, newer than the latest known v%d", marker.Version, latest.number)
	}
	if ver, ok := s.registry.Version(marker.Version); ok && ver.fp != marker.Fingerprint {
		return corrupt("schema v%d fingerprint mismatch: stored %016x, expected %016x", marker.Version, marker.Fingerprint, ver.fp)
	}
	if marker.Version == latest.number {
		s.logger.Debug("store: schema is current", "version", marker.Version)
		return nil
	}

	steps := s.registry.After(marker.Version)
	cur := marker.Version
	for i, step := range steps {
		s.setState(State{Phase: PhaseMigrating, Step: i + 1, Steps: len(steps), Version: step.number})
		err := s.applyStep(st, cur, step, i+1, len(steps))
		if err != nil {
			if errors.Is(err, ErrCorruptStore) {
				return &OpenError{ReasonCorruptStore, &MigrationError{step.number, err}}
			}
			return &OpenError{ReasonMigrationFailed, &MigrationError{step.number, err}}
		}
		cur = step.number
	}
	return nil
}

// initialize lays out a fresh store directly at the given version.
func (s *Store) initialize(st storage, ver *SchemaVersion) error {
	stx, err := st.BeginTx(true)
	if err != nil {
		return &OpenError{ReasonCorruptStore, err}
	}
	defer stx.Rollback()

	for _, ent := range ver.entities {
		buck, err := stx.CreateBucket(entityBucket(ent.name))
		if err != nil {
			return &OpenError{ReasonCorruptStore, err}
		}
		if ent.singleton {
			ensure(buck.Put([]byte(singletonKey), encodeValue(ent, ver.number, ent.newRecord())))
		}
	}
	if err := writeMarker(stx, ver, s.opt.Now()); err != nil {
		return &OpenError{ReasonCorruptStore, err}
	}
	if err := stx.Commit(); err != nil {
		return &OpenError{ReasonCorruptStore, err}
	}
	s.logger.Info("store: initialized fresh store", "path", s.path, "version", ver.number)
	return nil
}

// Close releases the file. Pending writes finish first.
func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	st := s.st
	s.st = nil
	s.schema = nil
	if s.state.Phase == PhaseReady {
		s.state = State{Phase: PhaseUnopened}
	}
	s.mu.Unlock()

	if st == nil {
		return nil
	}
	return st.Close()
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	if state.Phase == PhaseMigrating {
		s.logger.Debug("store: state", "state", state.String())
	}
}

// Schema returns the open schema version, or nil before the store is ready.
func (s *Store) Schema() *SchemaVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schema
}

func (s *Store) Registry() *Registry {
	return s.registry
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) ready() (storage, *SchemaVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Phase != PhaseReady {
		return nil, nil, ErrNotReady
	}
	return s.st, s.schema, nil
}

func (s *Store) isMetadata(entity, field string) bool {
	return s.metadata[entity][field]
}

func (s *Store) logf(format string, args ...any) {
	s.logger.Debug(fmt.Sprintf(format, args...))
}

// Inspection describes a store file without opening it for writing.
type Inspection struct {
	Marker   Marker
	Found    bool
	Entities map[string]int
}

// Inspect reads the schema version marker and record counts of a store file.
func Inspect(path string) (*Inspection, error) {
	st, err := openBoltStorage(path, Options{Timeout: time.Second, readOnly: true})
	if err != nil {
		return nil, err
	}
	defer st.Close()

	stx, err := st.BeginTx(false)
	if err != nil {
		return nil, err
	}
	defer stx.Rollback()

	result := &Inspection{Entities: make(map[string]int)}
	result.Marker, result.Found, err = readMarker(stx)
	if err != nil {
		return nil, err
	}
	for _, name := range stx.BucketNames() {
		if ent, ok := strings.CutPrefix(name, entityBucketPrefix); ok {
			result.Entities[ent] = stx.Bucket(name).KeyCount()
		}
	}
	return result, nil
}
