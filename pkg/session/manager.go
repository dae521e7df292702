package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/agentfactory/internal/tracing"
)

// ErrNotFound is returned for transcripts that do not exist
var ErrNotFound = errors.New("transcript not found")

// Roles recorded in transcripts
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleError     = "error"
)

// Message is a single transcript line
type Message struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Entry is a message with the session it belongs to
type Entry struct {
	SessionKey string  `json:"sessionKey"`
	Message    Message `json:"message"`
}

// Info summarizes a stored transcript
type Info struct {
	SessionKey   string    `json:"session_key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	MessageCount int       `json:"message_count"`
}

// Manager stores one JSONL transcript per session
type Manager struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// New creates a Manager rooted at dir, creating it if needed
func New(dir string) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("transcript directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}

	log.Debug().Str("dir", dir).Msg("Transcript manager initialized")
	return &Manager{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the directory transcripts are stored in
func (m *Manager) Dir() string {
	return m.dir
}

// ValidateKey rejects keys that are empty or not path-safe
func ValidateKey(sessionKey string) error {
	switch {
	case sessionKey == "":
		return fmt.Errorf("session key cannot be empty")
	case strings.Contains(sessionKey, ".."):
		return fmt.Errorf("session key cannot contain '..'")
	case strings.ContainsAny(sessionKey, "/\\"):
		return fmt.Errorf("session key cannot contain path separators")
	case strings.Contains(sessionKey, "\x00"):
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

func (m *Manager) path(sessionKey string) string {
	return filepath.Join(m.dir, sessionKey+".jsonl")
}

func (m *Manager) lock(sessionKey string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	if l, ok := m.writeLocks[sessionKey]; ok {
		return l
	}
	l := &sync.Mutex{}
	m.writeLocks[sessionKey] = l
	return l
}

// Append writes one message to the session transcript
func (m *Manager) Append(ctx context.Context, sessionKey string, message Message) (err error) {
	_, span := tracing.StartSpan(ctx, "factory.session", "session.append",
		attribute.String("session_key", sessionKey),
		attribute.String("role", message.Role),
	)
	defer func() { tracing.EndSpan(span, err) }()

	if err := ValidateKey(sessionKey); err != nil {
		return err
	}
	if message.Role == "" {
		return fmt.Errorf("message role cannot be empty")
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	data, err := json.Marshal(Entry{SessionKey: sessionKey, Message: message})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	l := m.lock(sessionKey)
	l.Lock()
	defer l.Unlock()

	file, err := os.OpenFile(m.path(sessionKey), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Load reads every valid entry of a transcript. Corrupt lines are skipped.
func (m *Manager) Load(ctx context.Context, sessionKey string) (entries []Entry, err error) {
	ctx, span := tracing.StartSpan(ctx, "factory.session", "session.load",
		attribute.String("session_key", sessionKey),
	)
	defer func() { tracing.EndSpan(span, err) }()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if err := ValidateKey(sessionKey); err != nil {
		return nil, err
	}

	file, err := os.Open(m.path(sessionKey))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", sessionKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil || entry.Message.Role == "" {
			logger.Warn().
				Str("session_key", sessionKey).
				Int("line", lineNum).
				Msg("Skipping invalid transcript line")
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	return entries, nil
}

// Delete removes a transcript. Deleting a missing transcript is not an error.
func (m *Manager) Delete(sessionKey string) error {
	if err := ValidateKey(sessionKey); err != nil {
		return err
	}

	l := m.lock(sessionKey)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(m.path(sessionKey)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}

	m.locksMu.Lock()
	delete(m.writeLocks, sessionKey)
	m.locksMu.Unlock()
	return nil
}

// List returns stored transcripts, most recently modified first
func (m *Manager) List() ([]Info, error) {
	dirEntries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Info{}, nil
		}
		return nil, fmt.Errorf("failed to read transcript directory: %w", err)
	}

	infos := make([]Info, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			SessionKey:   strings.TrimSuffix(name, ".jsonl"),
			Size:         fi.Size(),
			LastModified: fi.ModTime(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastModified.After(infos[j].LastModified)
	})
	return infos, nil
}

// Info returns size, modification time and message count of a transcript
func (m *Manager) Info(ctx context.Context, sessionKey string) (Info, error) {
	if err := ValidateKey(sessionKey); err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(m.path(sessionKey))
	if os.IsNotExist(err) {
		return Info{}, fmt.Errorf("%s: %w", sessionKey, ErrNotFound)
	}
	if err != nil {
		return Info{}, fmt.Errorf("failed to stat transcript: %w", err)
	}

	entries, err := m.Load(ctx, sessionKey)
	if err != nil {
		return Info{}, err
	}
	return Info{
		SessionKey:   sessionKey,
		Size:         fi.Size(),
		LastModified: fi.ModTime(),
		MessageCount: len(entries),
	}, nil
}

// Repair rewrites a transcript without its corrupt lines
func (m *Manager) Repair(ctx context.Context, sessionKey string) error {
	entries, err := m.Load(ctx, sessionKey)
	if err != nil {
		return err
	}

	l := m.lock(sessionKey)
	l.Lock()
	defer l.Unlock()

	target := m.path(sessionKey)
	tempPath := target + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	w := bufio.NewWriter(file)
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write entries: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace transcript: %w", err)
	}

	log.Info().Str("session_key", sessionKey).Int("entries", len(entries)).Msg("Transcript repaired")
	return nil
}
