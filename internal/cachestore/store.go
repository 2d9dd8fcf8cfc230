// Package cachestore persists committed runs and the history log the
// supervisor exposes to clients. It realizes the specification's storage
// layout literally: one flat file per key holding the run's concatenated
// wire frames, and a newline-delimited history file recording
// (key, command line, timestamp) triples in insertion order. Commits are
// staging-file-then-rename so a reader never observes a partial run.
package cachestore

import (
	"bufio"
	"crypto/md5"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blob79/ringneck/internal/frame"
)

// Key is the 16-byte MD5 fingerprint of an argv vector.
type Key [16]byte

// Hex renders the key as 32 lowercase hex digits, the form users see via
// --key and in history lines.
func (k Key) Hex() string {
	return fmt.Sprintf("%x", [16]byte(k))
}

// ParseKey parses a hex-rendered key. An invalid or wrong-length string is
// reported via ok=false rather than an error so callers can surface the
// specification's exact "Invalid key" message.
func ParseKey(hex string) (key Key, ok bool) {
	if len(hex) != 32 {
		return Key{}, false
	}
	var buf [16]byte
	for i := 0; i < 16; i++ {
		hi, hok := hexNibble(hex[i*2])
		lo, lok := hexNibble(hex[i*2+1])
		if !hok || !lok {
			return Key{}, false
		}
		buf[i] = hi<<4 | lo
	}
	return Key(buf), true
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// DeriveKey computes the content-addressed key for an argv vector: MD5 over
// a length-prefixed concatenation of its elements, so that e.g. ["ab","c"]
// and ["a","bc"] never collide.
func DeriveKey(argv []string) Key {
	h := md5.New()
	var lenBuf [4]byte
	for _, a := range argv {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(a)))
		h.Write(lenBuf[:])
		h.Write([]byte(a))
	}
	var sum [16]byte
	copy(sum[:], h.Sum(nil))
	return Key(sum)
}

// Run is the committed artifact for one execution: the ordered frame
// sequence observed during capture, exactly as it will be replayed.
type Run struct {
	Frames []frame.Frame
}

// HistoryEntry is one line of the append-only history log.
type HistoryEntry struct {
	Key         Key
	CommandLine []string
	CreatedAt   time.Time
}

// Store is the supervisor's exclusive handle on the cache directory. The
// client never constructs one.
type Store struct {
	dir string

	locksMu sync.Mutex
	locks   map[Key]*sync.Mutex

	historyMu sync.Mutex
}

// Open prepares dir (creating runs/ beneath it) and returns a Store bound
// to it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "runs"), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{dir: dir, locks: make(map[Key]*sync.Mutex)}, nil
}

func (s *Store) runPath(key Key) string {
	return filepath.Join(s.dir, "runs", key.Hex())
}

func (s *Store) historyPath() string {
	return filepath.Join(s.dir, "history.log")
}

func (s *Store) lockFor(key Key) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	return m
}

// Get returns the Run stored under key, if any. A missing key is not an
// error: ok is false and err is nil.
func (s *Store) Get(key Key) (run *Run, ok bool, err error) {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(s.runPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("open run %s: %w", key.Hex(), err)
	}
	defer f.Close()

	frames, err := frame.DecodeAll(f)
	if err != nil {
		return nil, false, fmt.Errorf("decode run %s: %w", key.Hex(), err)
	}
	return &Run{Frames: frames}, true, nil
}

// Put commits frames under key: write-temp-then-rename, so a concurrent
// Get either sees the prior run (if any) or the new one in full, never a
// partial file. Idempotent: a later Put for the same key overwrites.
func (s *Store) Put(key Key, frames []frame.Frame) error {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	tmpPath := filepath.Join(s.dir, "runs", key.Hex()+".tmp-"+uuid.NewString())
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, fr := range frames {
		if err := frame.WriteFrame(w, fr.Kind, fr.Payload); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("write staged frame: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("flush staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close staging file: %w", err)
	}
	if err := os.Rename(tmpPath, s.runPath(key)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("commit run %s: %w", key.Hex(), err)
	}
	return nil
}

// PutHistory appends one history record. Must be called only after a
// successful Put for the same key, per the store's documented contract;
// the supervisor's commit path enforces this ordering.
func (s *Store) PutHistory(key Key, argv []string, createdAt time.Time) error {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	argvJSON, err := json.Marshal(argv)
	if err != nil {
		return fmt.Errorf("marshal argv: %w", err)
	}
	line := fmt.Sprintf("%s\t%s\t%d\n", key.Hex(), argvJSON, createdAt.UTC().UnixNano())

	f, err := os.OpenFile(s.historyPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// ListHistory returns every committed history record in insertion order.
func (s *Store) ListHistory() ([]HistoryEntry, error) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	f, err := os.Open(s.historyPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history log: %w", err)
	}
	defer f.Close()

	var entries []HistoryEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		key, ok := ParseKey(parts[0])
		if !ok {
			continue
		}
		var argv []string
		if err := json.Unmarshal([]byte(parts[1]), &argv); err != nil {
			continue
		}
		nanos, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, HistoryEntry{
			Key:         key,
			CommandLine: argv,
			CreatedAt:   time.Unix(0, nanos).UTC(),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read history log: %w", err)
	}
	return entries, nil
}

// Forget empties both the Run set and the history log atomically from a
// reader's viewpoint: the runs directory is swapped out via rename (so any
// in-flight Get either completes against the old directory or fails
// cleanly against the new, empty one) and the history file is replaced the
// same way Put replaces a run file.
func (s *Store) Forget() error {
	s.locksMu.Lock()
	s.locks = make(map[Key]*sync.Mutex)
	s.locksMu.Unlock()

	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	runsDir := filepath.Join(s.dir, "runs")
	staleDir := runsDir + ".stale-" + uuid.NewString()
	if err := os.Rename(runsDir, staleDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("retire runs dir: %w", err)
	}
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return fmt.Errorf("recreate runs dir: %w", err)
	}
	go os.RemoveAll(staleDir)

	tmpHistory := s.historyPath() + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmpHistory, nil, 0o644); err != nil {
		return fmt.Errorf("stage empty history: %w", err)
	}
	if err := os.Rename(tmpHistory, s.historyPath()); err != nil {
		os.Remove(tmpHistory)
		return fmt.Errorf("replace history log: %w", err)
	}
	return nil
}
