package node

import "testing"

func TestBinaryNodePutGetRoundTrip(t *testing.T) {
	n := NewBinaryNode([]byte("users/"))
	n.Put([]byte("alice"), Value{Type: ValueTypeInline, Inline: []byte("1")})
	n.Put([]byte("bob"), Value{Type: ValueTypeInline, Inline: []byte("2")})

	v, trailing, found := n.GetValueAndTrailingKey([]byte("bob"))
	if !found || trailing != nil || string(v.Inline) != "2" {
		t.Fatalf("expected exact match for bob, got %+v trailing=%v found=%v", v, trailing, found)
	}

	if _, _, found := n.GetValueAndTrailingKey([]byte("carol")); found {
		t.Fatal("expected no match for absent key")
	}

	if err := n.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestBinaryNodeDelete(t *testing.T) {
	n := NewBinaryNode(nil)
	n.Put([]byte("a"), Value{Type: ValueTypeInline, Inline: []byte("x")})
	if !n.Delete([]byte("a")) {
		t.Fatal("expected Delete to report the entry was present")
	}
	if n.Delete([]byte("a")) {
		t.Fatal("expected second Delete to report absence")
	}
}

func TestSetlistNodeBranchLookup(t *testing.T) {
	n := NewSetlistNode([]byte("pfx"))
	n.Put('a', Value{Type: ValueTypeNode, Address: 10})
	n.Put('z', Value{Type: ValueTypeNode, Address: 20})
	n.PutEOF(Value{Type: ValueTypeInline, Inline: []byte("eof")})

	if idx := n.GetBranchIndex('z'); idx == NoIndex {
		t.Fatal("expected to find branch z")
	}
	if idx := n.GetBranchIndex('m'); idx != NoIndex {
		t.Fatal("expected no branch for m")
	}

	v, trailing, found := n.GetValueAndTrailingKey([]byte("a-rest"))
	if !found || string(trailing) != "-rest" || v.Address != 10 {
		t.Fatalf("unexpected result: v=%+v trailing=%q found=%v", v, trailing, found)
	}

	v, _, found = n.GetValueAndTrailingKey(nil)
	if !found || string(v.Inline) != "eof" {
		t.Fatalf("expected EOF value, got %+v found=%v", v, found)
	}

	if err := n.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestSetlistNodeDeleteKeepsOrder(t *testing.T) {
	n := NewSetlistNode(nil)
	for _, b := range []byte{'c', 'a', 'e', 'b'} {
		n.Put(b, Value{Type: ValueTypeInline, Inline: []byte{b}})
	}
	if !n.Delete('a') {
		t.Fatal("expected Delete('a') to report presence")
	}
	want := []byte{'b', 'c', 'e'}
	if string(n.bytes) != string(want) {
		t.Fatalf("expected sorted remaining bytes %v, got %v", want, n.bytes)
	}
}

func TestFullNodeBranchLookupAndIteration(t *testing.T) {
	n := NewFullNode(nil)
	n.Put('a', Value{Type: ValueTypeNode, Address: 1})
	n.Put('z', Value{Type: ValueTypeNode, Address: 2})
	n.PutEOF(Value{Type: ValueTypeInline, Inline: []byte("root")})

	if n.NumBranches() != 2 {
		t.Fatalf("expected 2 branches, got %d", n.NumBranches())
	}

	idx := n.BeginIndex()
	if b, isEOF := n.GetBranchKey(idx); !isEOF {
		t.Fatalf("expected begin index to be EOF, got byte %v", b)
	}

	idx = n.NextIndex(idx)
	b, isEOF := n.GetBranchKey(idx)
	if isEOF || b != 'a' {
		t.Fatalf("expected branch 'a' next, got byte=%v eof=%v", b, isEOF)
	}

	v, trailing, found := n.GetValueAndTrailingKey([]byte("z-tail"))
	if !found || string(trailing) != "-tail" || v.Address != 2 {
		t.Fatalf("unexpected lookup result: %+v %q %v", v, trailing, found)
	}
}

func TestFullNodeDeleteTracksCount(t *testing.T) {
	n := NewFullNode(nil)
	n.Put('a', Value{Type: ValueTypeInline, Inline: []byte("x")})
	if n.NumBranches() != 1 {
		t.Fatalf("expected 1 branch, got %d", n.NumBranches())
	}
	if !n.Delete('a') {
		t.Fatal("expected Delete to report presence")
	}
	if n.NumBranches() != 0 {
		t.Fatalf("expected 0 branches after delete, got %d", n.NumBranches())
	}
}

func TestValueNodeHoldsOversizedPayload(t *testing.T) {
	payload := make([]byte, 8192)
	n := NewValueNode(payload)

	v, trailing, found := n.GetValueAndTrailingKey(nil)
	if !found || trailing != nil || len(v.Inline) != len(payload) {
		t.Fatalf("unexpected value node lookup result: %+v %v %v", v, trailing, found)
	}
	if _, _, found := n.GetValueAndTrailingKey([]byte("x")); found {
		t.Fatal("expected no match when key has unconsumed bytes")
	}
}

func TestRefactorPromotesSetlistToFullAtThreshold(t *testing.T) {
	n := NewSetlistNode(nil)
	for i := 0; i < FullNodeThreshold; i++ {
		n.Put(byte(i), Value{Type: ValueTypeInline, Inline: []byte{byte(i)}})
	}

	refactored, err := RefactorIfNeeded(n, noopSizer{})
	if err != nil {
		t.Fatalf("RefactorIfNeeded failed: %v", err)
	}
	full, ok := refactored.(*FullNode)
	if !ok {
		t.Fatalf("expected promotion to *FullNode, got %T", refactored)
	}
	if full.NumBranches() != FullNodeThreshold {
		t.Fatalf("expected %d branches preserved, got %d", FullNodeThreshold, full.NumBranches())
	}
}

func TestRefactorDemotesFullToSetlistBelowThreshold(t *testing.T) {
	n := NewFullNode(nil)
	n.count = FullNodeThreshold - 2 // force below-threshold without populating 126 slots
	n.slots['a'] = Value{Type: ValueTypeInline, Inline: []byte("x")}

	refactored, err := RefactorIfNeeded(n, noopSizer{})
	if err != nil {
		t.Fatalf("RefactorIfNeeded failed: %v", err)
	}
	if _, ok := refactored.(*SetlistNode); !ok {
		t.Fatalf("expected demotion to *SetlistNode, got %T", refactored)
	}
}

type noopSizer struct{}

func (noopSizer) MaxCacheableObjectSize() uint32 { return 4096 }

func TestBinaryNodeEncodeDecodeRoundTrip(t *testing.T) {
	n := NewBinaryNode([]byte("pfx"))
	n.Put([]byte("alice"), Value{Type: ValueTypeInline, Inline: []byte("1")})
	n.Put([]byte("bob"), Value{Type: ValueTypeNode, Address: 42})
	n.header.Size = n.EncodedSize()

	buf := make([]byte, n.EncodedSize())
	n.Encode(buf)

	decoded, err := DecodeBinaryNode(buf)
	if err != nil {
		t.Fatalf("DecodeBinaryNode failed: %v", err)
	}
	if string(decoded.GetPrefix()) != "pfx" || decoded.NumBranches() != 2 {
		t.Fatalf("unexpected decoded node: prefix=%q branches=%d", decoded.GetPrefix(), decoded.NumBranches())
	}
	v, _, found := decoded.GetValueAndTrailingKey([]byte("bob"))
	if !found || v.Address != 42 {
		t.Fatalf("expected decoded bob entry to have address 42, got %+v found=%v", v, found)
	}
}

func TestSetlistNodeEncodeDecodeRoundTrip(t *testing.T) {
	n := NewSetlistNode([]byte("p"))
	n.Put('a', Value{Type: ValueTypeNode, Address: 7})
	n.PutEOF(Value{Type: ValueTypeInline, Inline: []byte("eof")})
	n.header.Size = n.EncodedSize()

	buf := make([]byte, n.EncodedSize())
	n.Encode(buf)

	decoded, err := DecodeSetlistNode(buf)
	if err != nil {
		t.Fatalf("DecodeSetlistNode failed: %v", err)
	}
	if !decoded.HasValue() || string(decoded.Value().Inline) != "eof" {
		t.Fatalf("expected decoded EOF value 'eof', got %+v", decoded.Value())
	}
	if idx := decoded.GetBranchIndex('a'); idx == NoIndex {
		t.Fatal("expected decoded branch 'a' to be found")
	}
}

func TestFullNodeEncodeDecodeRoundTrip(t *testing.T) {
	n := NewFullNode(nil)
	n.Put('z', Value{Type: ValueTypeInline, Inline: []byte("val")})
	n.header.Size = n.EncodedSize()

	buf := make([]byte, n.EncodedSize())
	n.Encode(buf)

	decoded, err := DecodeFullNode(buf)
	if err != nil {
		t.Fatalf("DecodeFullNode failed: %v", err)
	}
	if decoded.NumBranches() != 1 {
		t.Fatalf("expected 1 branch, got %d", decoded.NumBranches())
	}
	v, trailing, found := decoded.GetValueAndTrailingKey([]byte("z"))
	if !found || len(trailing) != 0 || string(v.Inline) != "val" {
		t.Fatalf("unexpected decoded lookup: %+v %q %v", v, trailing, found)
	}
}

func TestValueNodeEncodeDecodeRoundTrip(t *testing.T) {
	n := NewValueNode([]byte("a big value that did not fit inline"))
	n.header.Size = n.EncodedSize()

	buf := make([]byte, n.EncodedSize())
	n.Encode(buf)

	decoded, err := DecodeValueNode(buf)
	if err != nil {
		t.Fatalf("DecodeValueNode failed: %v", err)
	}
	if string(decoded.Data()) != string(n.Data()) {
		t.Fatalf("expected round-tripped data to match, got %q", decoded.Data())
	}
}

func TestDecodeDispatchesOnTypeTag(t *testing.T) {
	n := NewFullNode(nil)
	n.Put('a', Value{Type: ValueTypeInline, Inline: []byte("x")})
	n.header.Size = n.EncodedSize()
	buf := make([]byte, n.EncodedSize())
	n.Encode(buf)

	decoded, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if _, ok := decoded.(*FullNode); !ok {
		t.Fatalf("expected *FullNode, got %T", decoded)
	}
}
