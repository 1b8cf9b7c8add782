package conversation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// FileStore is a Store persisted as JSONL, one message per line, with the
// token/turn counters in a sidecar JSON file. Appends are fsynced so a
// crash loses at most the in-flight line.
type FileStore struct {
	mu       sync.Mutex
	path     string
	counters string
}

type fileCounters struct {
	Tokens int `json:"tokens"`
	Turns  int `json:"turns"`
}

// validateSessionKey rejects keys that could escape the sessions
// directory.
func validateSessionKey(key string) error {
	if key == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	if strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("session key cannot contain path separators")
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

// NewFileStore opens (or creates) the store for sessionKey under dir.
func NewFileStore(dir, sessionKey string) (*FileStore, error) {
	if err := validateSessionKey(sessionKey); err != nil {
		return nil, err
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".glove", "sessions")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	fs := &FileStore{
		path:     filepath.Join(dir, sessionKey+".jsonl"),
		counters: filepath.Join(dir, sessionKey+".counters.json"),
	}

	log.Debug().Str("path", fs.path).Msg("File store opened")
	return fs, nil
}

// Append implements Store.
func (s *FileStore) Append(msgs ...Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync session file: %w", err)
	}
	return nil
}

// Messages implements Store. Corrupt lines are skipped with a warning so a
// partially written file does not take the whole session down.
func (s *FileStore) Messages() ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) load() ([]Message, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	var msgs []Message
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			log.Warn().Str("path", s.path).Int("line", lineNum).Err(err).
				Msg("Failed to parse line, skipping")
			continue
		}
		if msg.Sender == "" {
			log.Warn().Str("path", s.path).Int("line", lineNum).
				Msg("Entry without sender, skipping")
			continue
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

// ModelView implements Store.
func (s *FileStore) ModelView() ([]Message, error) {
	msgs, err := s.Messages()
	if err != nil {
		return nil, err
	}
	return modelView(msgs), nil
}

func (s *FileStore) loadCounters() (fileCounters, error) {
	data, err := os.ReadFile(s.counters)
	if err != nil {
		if os.IsNotExist(err) {
			return fileCounters{}, nil
		}
		return fileCounters{}, fmt.Errorf("failed to read counters: %w", err)
	}
	var c fileCounters
	if err := json.Unmarshal(data, &c); err != nil {
		log.Warn().Str("path", s.counters).Err(err).Msg("Corrupt counters file, resetting")
		return fileCounters{}, nil
	}
	return c, nil
}

func (s *FileStore) saveCounters(c fileCounters) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal counters: %w", err)
	}
	tmp := s.counters + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write counters: %w", err)
	}
	if err := os.Rename(tmp, s.counters); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace counters: %w", err)
	}
	return nil
}

// AddTokens implements Store.
func (s *FileStore) AddTokens(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.loadCounters()
	if err != nil {
		return err
	}
	c.Tokens += n
	return s.saveCounters(c)
}

// TokenCount implements Store.
func (s *FileStore) TokenCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.loadCounters()
	if err != nil {
		return 0, err
	}
	return c.Tokens, nil
}

// IncrementTurn implements Store.
func (s *FileStore) IncrementTurn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.loadCounters()
	if err != nil {
		return err
	}
	c.Turns++
	return s.saveCounters(c)
}

// TurnCount implements Store.
func (s *FileStore) TurnCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.loadCounters()
	if err != nil {
		return 0, err
	}
	return c.Turns, nil
}

// ResetCounters implements Store.
func (s *FileStore) ResetCounters() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCounters(fileCounters{})
}

// ResetHistory implements Store.
func (s *FileStore) ResetHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return s.saveCounters(fileCounters{})
}

// Repair rewrites the session file keeping only parseable lines. Useful
// after a crash left a truncated trailing line.
func (s *FileStore) Repair() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.load()
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			file.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to write message: %w", err)
		}
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	log.Info().Str("path", s.path).Int("messages", len(msgs)).Msg("Session repaired")
	return nil
}
