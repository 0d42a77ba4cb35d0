// Package session persists conversation history as append-only JSONL, one
// file per session. Loads tolerate corruption: a bad line is skipped, not
// fatal, so a crashed write never bricks a conversation.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/artificer-ai/artificer/internal/tracing"
	"github.com/artificer-ai/artificer/pkg/tool"
)

// Turn is a single persisted conversation entry. Role is "user",
// "assistant" or "tool"; tool turns carry the call ID they answer.
type Turn struct {
	Role       string                   `json:"role"`
	Content    string                   `json:"content"`
	ToolCalls  []tool.InvocationRequest `json:"tool_calls,omitempty"`
	ToolCallID string                   `json:"tool_call_id,omitempty"`
	Timestamp  time.Time                `json:"timestamp"`
}

// Manager owns the session files and serializes writes per session.
type Manager struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// NewManager creates a manager rooted at dir, defaulting to
// ~/.artificer/sessions.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".artificer", "sessions")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	log.Info().Str("dir", dir).Msg("Session manager initialized")

	return &Manager{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

// validateSessionID rejects IDs that could escape the sessions directory.
func validateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("session ID cannot contain '..'")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("session ID cannot contain path separators")
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("session ID cannot contain null bytes")
	}
	return nil
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.dir, id+".jsonl")
}

func (m *Manager) lock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	if l, ok := m.writeLocks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	m.writeLocks[id] = l
	return l
}

// AppendTurn durably appends one turn to a session, creating the file on
// first use.
func (m *Manager) AppendTurn(ctx context.Context, sessionID string, turn Turn) error {
	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(ctx, "artificer.session", "session.append",
		attribute.String("session_id", sessionID),
		attribute.String("role", turn.Role))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if err := validateSessionID(sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if turn.Role == "" {
		return fmt.Errorf("turn role cannot be empty")
	}
	if turn.Content == "" && len(turn.ToolCalls) == 0 {
		return fmt.Errorf("turn must carry content or tool calls")
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	l := m.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	file, err := os.OpenFile(m.path(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write turn: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync session file: %w", err)
	}

	logger.Debug().Str("role", turn.Role).Msg("Turn appended")
	return nil
}

// LoadTurns returns a session's history in order. A missing session is an
// empty history; corrupted lines are skipped with a warning.
func (m *Manager) LoadTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(ctx, "artificer.session", "session.load",
		attribute.String("session_id", sessionID))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if err := validateSessionID(sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	file, err := os.Open(m.path(sessionID))
	if os.IsNotExist(err) {
		return []Turn{}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	var turns []Turn
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		var turn Turn
		if err := json.Unmarshal([]byte(line), &turn); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Skipping corrupted turn")
			continue
		}
		if turn.Role == "" {
			logger.Warn().Int("line", lineNum).Msg("Skipping turn without role")
			continue
		}
		turns = append(turns, turn)
	}

	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	logger.Debug().Int("turns", len(turns)).Msg("Session loaded")
	return turns, nil
}

// ReplaceTurns atomically rewrites a session's history. Used by pruning.
func (m *Manager) ReplaceTurns(ctx context.Context, sessionID string, turns []Turn) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	l := m.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	path := m.path(sessionID)
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal turn: %w", err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write turn: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Clear empties a session's history without deleting the session.
func (m *Manager) Clear(ctx context.Context, sessionID string) error {
	return m.ReplaceTurns(ctx, sessionID, nil)
}

// Delete removes a session file entirely.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	l := m.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(m.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	m.locksMu.Lock()
	delete(m.writeLocks, sessionID)
	m.locksMu.Unlock()

	log.Info().Str("session_id", sessionID).Msg("Session deleted")
	return nil
}

// List returns the IDs of all stored sessions.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".jsonl"))
	}
	return ids, nil
}

// Info returns size, age and turn count for a session.
func (m *Manager) Info(ctx context.Context, sessionID string) (map[string]interface{}, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	fi, err := os.Stat(m.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %q does not exist", sessionID)
		}
		return nil, fmt.Errorf("failed to stat session file: %w", err)
	}

	turns, err := m.LoadTurns(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"session_id":    sessionID,
		"size":          fi.Size(),
		"last_modified": fi.ModTime(),
		"turn_count":    len(turns),
	}, nil
}
