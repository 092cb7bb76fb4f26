package node

// cacheSizer is the subset of *session.Session that RefactorIfNeeded
// accepts: the configured cacheable-object size cutoff. RefactorIfNeeded
// does not call it. Declared as an interface
// (rather than importing internal/arbtrie/session directly) so this
// package has no dependency on session — the trie engine, which already
// depends on both, passes its live *session.Session through untouched.
type cacheSizer interface {
	MaxCacheableObjectSize() uint32
}

// RefactorIfNeeded applies §4.9.4's refactor rules to n and returns the
// possibly-restructured node. It never mutates n in place — callers always
// use the returned Node, which may be n itself when no refactor applied.
func RefactorIfNeeded(n Node, s cacheSizer) (Node, error) {
	switch v := n.(type) {
	case *BinaryNode:
		if v.EncodedSize() > BinaryRefactorThresholdBytes || len(v.entries) > BinaryNodeMaxKeys {
			return refactorBinary(v)
		}
	case *SetlistNode:
		if len(v.bytes) >= FullNodeThreshold {
			return promoteSetlistToFull(v), nil
		}
	case *FullNode:
		if v.count < FullNodeThreshold-1 {
			return demoteFullToSetlist(v), nil
		}
		if v.count == 0 && !v.hasEOF {
			return nil, nil // caller collapses into its single remaining child, if any.
		}
	}
	return n, nil
}

// refactorBinary picks the inner node that replaces an overflowing binary
// node over the same prefix: an empty full node when the entries' suffixes
// start with at least FullNodeThreshold distinct bytes, otherwise an empty
// setlist node. It copies no entries; the trie engine re-inserts each
// entry's (suffix, value) pair through the normal upsert path against the
// returned node.
func refactorBinary(b *BinaryNode) (Node, error) {
	uniqueFirstBytes := make(map[byte]struct{}, len(b.entries))
	for _, e := range b.entries {
		if len(e.Suffix) > 0 {
			uniqueFirstBytes[e.Suffix[0]] = struct{}{}
		}
	}

	var replacement Node
	if len(uniqueFirstBytes) >= FullNodeThreshold {
		replacement = NewFullNode(b.prefix)
	} else {
		replacement = NewSetlistNode(b.prefix)
	}
	return replacement, nil
}

func promoteSetlistToFull(s *SetlistNode) Node {
	f := NewFullNode(s.prefix)
	for i, k := range s.bytes {
		f.Put(k, s.values[i])
	}
	if s.hasEOF {
		f.PutEOF(s.eof)
	}
	return f
}

func demoteFullToSetlist(f *FullNode) Node {
	s := NewSetlistNode(f.prefix)
	for b, v := range f.slots {
		if !v.IsEmpty() {
			s.Put(byte(b), v)
		}
	}
	if f.hasEOF {
		s.PutEOF(f.eof)
	}
	return s
}
