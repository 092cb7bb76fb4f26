package arbtrie

import (
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/node"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/session"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/trie"
	"github.com/iamNilotpal/arbtrie/pkg/errors"
	"github.com/iamNilotpal/arbtrie/pkg/options"
)

// Session is one bounded handle onto the engine: every Insert/Upsert/Get/
// Remove call against it targets defaultRootSlot, the tree most callers
// mean when they say "the database"; Cursor walks whichever root slot it is
// given. Callers anchoring more than
// one independently reachable trie in the same file reach the other root
// slots through Engine.GetRoot/SetRoot/CasRoot/StartTransaction instead.
type Session struct {
	s    *session.Session
	trie *trie.Engine
}

func checkKey(key []byte) error {
	if len(key) == 0 || len(key) > options.MaxKeySize {
		return errors.NewFieldRangeError("key length", len(key), 1, options.MaxKeySize)
	}
	return nil
}

func checkValue(value []byte) error {
	if uint64(len(value)) > options.MaxObjectSize {
		return errors.NewFieldRangeError("value length", len(value), 0, options.MaxObjectSize)
	}
	return nil
}

// Insert maps key to value, failing if key is already present. Use Upsert
// to overwrite an existing mapping instead.
func (s *Session) Insert(key []byte, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}
	if _, found, err := s.trie.Get(defaultRootSlot, key, s.s); err != nil {
		return err
	} else if found {
		return errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "key already exists").WithField("key")
	}
	return s.trie.Upsert(defaultRootSlot, key, node.Value{Type: node.ValueTypeInline, Inline: value}, s.s)
}

// Upsert maps key to value, overwriting any existing mapping.
func (s *Session) Upsert(key []byte, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}
	return s.trie.Upsert(defaultRootSlot, key, node.Value{Type: node.ValueTypeInline, Inline: value}, s.s)
}

// Get performs a point lookup for key.
func (s *Session) Get(key []byte) ([]byte, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	v, found, err := s.trie.Get(defaultRootSlot, key, s.s)
	if err != nil || !found {
		return nil, found, err
	}
	return v.Inline, true, nil
}

// Remove deletes key, reporting whether it was present.
func (s *Session) Remove(key []byte) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	return s.trie.Remove(defaultRootSlot, key, s.s)
}

// Cursor returns an ordered-traversal cursor over rootSlot's current tree.
// Callers must call Cursor.Close once done with it.
func (s *Session) Cursor(rootSlot int) (*Cursor, error) {
	c, err := s.trie.NewCursor(rootSlot, s.s)
	if err != nil {
		return nil, err
	}
	return &Cursor{c: c}, nil
}

// Close finalizes the session's write segment and releases its slot back
// to the engine.
func (s *Session) Close() error {
	return s.s.Close()
}

// Cursor wraps the trie engine's ordered-traversal cursor behind the
// public package's byte-slice value shape. A freshly returned Cursor
// starts unpositioned; call Seek (with a nil/empty target for "smallest
// key") before Key/Value.
type Cursor struct {
	c *trie.Cursor
}

// Valid reports whether the cursor is currently positioned on an entry.
func (c *Cursor) Valid() bool { return c.c.Valid() }

// Key returns the full key the cursor is currently positioned on.
func (c *Cursor) Key() []byte { return c.c.Key() }

// Value returns the raw inline bytes the cursor is currently positioned
// on.
func (c *Cursor) Value() []byte { return c.c.Value().Inline }

// Seek positions the cursor on the smallest key >= target, reporting
// whether such a key exists. Pass nil to land on the smallest key in the
// tree.
func (c *Cursor) Seek(target []byte) (bool, error) { return c.c.Seek(target) }

// Next advances the cursor to the next key in order.
func (c *Cursor) Next() (bool, error) { return c.c.Next() }

// Prev moves the cursor to the previous key in order.
func (c *Cursor) Prev() (bool, error) { return c.c.Prev() }

// Close releases the cursor's retained root reference.
func (c *Cursor) Close() { c.c.Close() }
