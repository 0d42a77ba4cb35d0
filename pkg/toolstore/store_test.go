package toolstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artificer-ai/artificer/pkg/tool"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tools.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSchema(name string) tool.Schema {
	return tool.Schema{
		Name:        name,
		Description: "A sample tool",
		Parameters: []tool.Parameter{
			{Name: "text", Type: "string", Required: true},
		},
	}
}

// TestPutGet tests the basic persist/load round trip
func TestPutGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	code := `return args.text.length;`
	require.NoError(t, s.Put(ctx, sampleSchema("string_length"), code))

	def, err := s.Get(ctx, "string_length")
	require.NoError(t, err)
	assert.Equal(t, "string_length", def.Schema.Name)
	assert.Equal(t, tool.KindDynamic, def.Kind)
	assert.Equal(t, code, def.Code)
	assert.NotNil(t, def.Compiled)
	assert.False(t, def.CreatedAt.IsZero())
	require.Len(t, def.Schema.Parameters, 1)
	assert.True(t, def.Schema.Parameters[0].Required)
}

// TestPut_NameCollision tests duplicate rejection without overwrite
func TestPut_NameCollision(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleSchema("dup"), "return 1;"))

	err := s.Put(ctx, sampleSchema("dup"), "return 2;")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNameCollision))

	// Original payload untouched.
	def, err := s.Get(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, "return 1;", def.Code)
}

// TestPut_ReservedName tests that builtin names cannot be shadowed
func TestPut_ReservedName(t *testing.T) {
	s := newStore(t)
	s.SetReservedNames([]string{"calculate", "word_count"})

	err := s.Put(context.Background(), sampleSchema("calculate"), "return 1;")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNameCollision))

	// Nothing persisted for the rejected name.
	_, err = s.Get(context.Background(), "calculate")
	assert.True(t, errors.Is(err, ErrNotFound))
}

// TestPut_InvalidSchema tests validation-before-persistence
func TestPut_InvalidSchema(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		schema tool.Schema
		code   string
	}{
		{"bad name", tool.Schema{Name: "has space", Description: "x"}, "return 1;"},
		{"empty description", tool.Schema{Name: "ok_name"}, "return 1;"},
		{"bad param type", tool.Schema{
			Name:        "ok_name",
			Description: "x",
			Parameters:  []tool.Parameter{{Name: "a", Type: "tuple"}},
		}, "return 1;"},
		{"empty code", sampleSchema("ok_name"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Put(ctx, tt.schema, tt.code)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSchema))
		})
	}
}

// TestGet_NotFound tests the miss path
func TestGet_NotFound(t *testing.T) {
	s := newStore(t)

	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

// TestList_Ordering tests creation-order listing
func TestList_Ordering(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, s.Put(ctx, sampleSchema(name), "return 1;"))
	}

	schemas, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, schemas, 3)

	names := []string{schemas[0].Name, schemas[1].Name, schemas[2].Name}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)
}

// TestDelete tests removal and the not-found path
func TestDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleSchema("victim"), "return 1;"))
	require.NoError(t, s.Delete(ctx, "victim"))

	_, err := s.Get(ctx, "victim")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = s.Delete(ctx, "victim")
	assert.True(t, errors.Is(err, ErrNotFound))

	// Deleted names are reusable.
	require.NoError(t, s.Put(ctx, sampleSchema("victim"), "return 2;"))
	def, err := s.Get(ctx, "victim")
	require.NoError(t, err)
	assert.Equal(t, "return 2;", def.Code)
}

// TestReopen tests durability across store instances
func TestReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, sampleSchema("survivor"), "return args.text;"))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	def, err := s2.Get(ctx, "survivor")
	require.NoError(t, err)
	assert.Equal(t, "return args.text;", def.Code)
	// Compiled validator rebuilt lazily after reopen.
	assert.NotNil(t, def.Compiled)
}

// TestGet_ConcurrentAfterReopen tests cold-cache loads from parallel readers
func TestGet_ConcurrentAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.db")
	ctx := context.Background()

	names := []string{"alpha", "beta", "gamma", "delta"}

	s, err := Open(path)
	require.NoError(t, err)
	for _, name := range names {
		require.NoError(t, s.Put(ctx, sampleSchema(name), "return 1;"))
	}
	require.NoError(t, s.Close())

	// A fresh instance starts with an empty schema cache; every Get below
	// races to fill it.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		name := names[i%len(names)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			def, err := s2.Get(ctx, name)
			assert.NoError(t, err)
			if def != nil {
				assert.NotNil(t, def.Compiled)
			}
		}()
	}
	wg.Wait()
}

// TestNotes tests the note records shared with the store database
func TestNotes(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveNote(ctx, "groceries", "milk, eggs"))
	require.NoError(t, s.SaveNote(ctx, "ideas", "learn Go"))

	err := s.SaveNote(ctx, "", "no title")
	require.Error(t, err)

	notes, err := s.ListNotes(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "groceries", notes[0].Title)
	assert.Equal(t, "milk, eggs", notes[0].Content)
	assert.Equal(t, "ideas", notes[1].Title)
}
