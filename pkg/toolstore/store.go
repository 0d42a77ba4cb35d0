// Package toolstore persists dynamic tool definitions in SQLite. The store
// is process-wide shared state: all mutation goes through a single-writer
// mutex, and every successful Put/Delete is synced to disk before it
// returns, so the visible and durable state never diverge.
package toolstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/artificer-ai/artificer/internal/observability"
	"github.com/artificer-ai/artificer/internal/tracing"
	"github.com/artificer-ai/artificer/pkg/tool"
)

// Store errors. Callers match with errors.Is.
var (
	ErrNameCollision = errors.New("name collision")
	ErrInvalidSchema = errors.New("invalid schema")
	ErrNotFound      = errors.New("not found")
)

// Store owns the durable dynamic tool records.
type Store struct {
	db       *sql.DB
	mu       sync.RWMutex
	reserved map[string]bool

	// The compiled-schema cache has its own lock so readers holding
	// mu.RLock can fill it after a restart.
	cmu      sync.Mutex
	compiled map[string]*gojsonschema.Schema
}

func (s *Store) cachedSchema(name string) *gojsonschema.Schema {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	return s.compiled[name]
}

func (s *Store) setCachedSchema(name string, compiled *gojsonschema.Schema) {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	s.compiled[name] = compiled
}

func (s *Store) dropCachedSchema(name string) {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	delete(s.compiled, name)
}

// Open opens (creating if necessary) the tool database at dbPath.
func Open(dbPath string) (*Store, error) {
	observability.EnsureRegistered()

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("failed to open tool database: %w", err)
	}

	// A single connection keeps writes strictly ordered.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:       db,
		reserved: map[string]bool{},
		compiled: map[string]*gojsonschema.Schema{},
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", dbPath).Msg("Tool store opened")
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tools (
			name        TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			parameters  TEXT NOT NULL,
			code        TEXT NOT NULL,
			created_at  TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS notes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			title      TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to run store migrations: %w", err)
	}
	return nil
}

// SetReservedNames declares builtin tool names the store must refuse to
// shadow. Called once during wiring, after builtins are registered.
func (s *Store) SetReservedNames(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved = make(map[string]bool, len(names))
	for _, n := range names {
		s.reserved[n] = true
	}
}

// Put validates and persists a dynamic tool definition. The write is
// durable before Put returns.
func (s *Store) Put(ctx context.Context, schema tool.Schema, code string) error {
	ctx, span := tracing.StartSpan(ctx, "artificer.toolstore", "toolstore.put",
		attribute.String("tool", schema.Name))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if err := schema.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if code == "" {
		return fmt.Errorf("%w: code payload cannot be empty", ErrInvalidSchema)
	}

	compiled, err := schema.Compile()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	paramsJSON, err := json.Marshal(schema.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reserved[schema.Name] {
		return fmt.Errorf("%w: %q is a reserved builtin tool name", ErrNameCollision, schema.Name)
	}

	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM tools WHERE name = ?`, schema.Name).Scan(&exists); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to check for existing tool: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: tool %q already exists", ErrNameCollision, schema.Name)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tools (name, description, parameters, code, created_at) VALUES (?, ?, ?, ?, ?)`,
		schema.Name, schema.Description, string(paramsJSON), code, time.Now().UTC())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordStoreOp("put", false)
		return fmt.Errorf("failed to persist tool %q: %w", schema.Name, err)
	}

	s.setCachedSchema(schema.Name, compiled)
	observability.RecordStoreOp("put", true)
	logger.Info().Str("tool", schema.Name).Msg("Dynamic tool persisted")
	return nil
}

// Get returns the dynamic definition for name, or ErrNotFound.
func (s *Store) Get(ctx context.Context, name string) (*tool.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(ctx, name)
}

func (s *Store) getLocked(ctx context.Context, name string) (*tool.Definition, error) {
	var (
		description string
		paramsJSON  string
		code        string
		createdAt   time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT description, parameters, code, created_at FROM tools WHERE name = ?`, name).
		Scan(&description, &paramsJSON, &code, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: tool %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tool %q: %w", name, err)
	}

	var params []tool.Parameter
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		return nil, fmt.Errorf("failed to decode parameters for %q: %w", name, err)
	}

	def := &tool.Definition{
		Schema: tool.Schema{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
		Kind:      tool.KindDynamic,
		Code:      code,
		CreatedAt: createdAt,
		Compiled:  s.cachedSchema(name),
	}

	// Cache miss happens after a restart; compile lazily.
	if def.Compiled == nil {
		compiled, err := def.Schema.Compile()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
		}
		def.Compiled = compiled
		s.setCachedSchema(name, compiled)
	}

	return def, nil
}

// List returns all dynamic tool schemas ordered by creation time.
func (s *Store) List(ctx context.Context) ([]tool.Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, description, parameters FROM tools ORDER BY created_at ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	defer rows.Close()

	var schemas []tool.Schema
	for rows.Next() {
		var name, description, paramsJSON string
		if err := rows.Scan(&name, &description, &paramsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan tool row: %w", err)
		}
		var params []tool.Parameter
		if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
			log.Warn().Str("tool", name).Err(err).Msg("Skipping tool with undecodable parameters")
			continue
		}
		schemas = append(schemas, tool.Schema{Name: name, Description: description, Parameters: params})
	}
	return schemas, rows.Err()
}

// Delete removes a dynamic tool. Unknown names fail with ErrNotFound;
// builtin names are never present here, so they fail the same way.
func (s *Store) Delete(ctx context.Context, name string) error {
	ctx, span := tracing.StartSpan(ctx, "artificer.toolstore", "toolstore.delete",
		attribute.String("tool", name))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM tools WHERE name = ?`, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordStoreOp("delete", false)
		return fmt.Errorf("failed to delete tool %q: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: tool %q", ErrNotFound, name)
	}

	s.dropCachedSchema(name)
	observability.RecordStoreOp("delete", true)
	logger.Info().Str("tool", name).Msg("Dynamic tool deleted")
	return nil
}

// SaveNote persists a note record. Notes share the store database so a
// single file holds all durable assistant state.
func (s *Store) SaveNote(ctx context.Context, title, content string) error {
	if title == "" {
		return fmt.Errorf("note title cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (title, content, created_at) VALUES (?, ?, ?)`,
		title, content, time.Now().UTC())
	if err != nil {
		observability.RecordStoreOp("save_note", false)
		return fmt.Errorf("failed to save note: %w", err)
	}
	observability.RecordStoreOp("save_note", true)
	return nil
}

// Note is a stored note record.
type Note struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ListNotes returns all notes in creation order.
func (s *Store) ListNotes(ctx context.Context) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT title, content, created_at FROM notes ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.Title, &n.Content, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note row: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
