// Package chain indexes every known slice by period and tracks the head set,
// the leaves of the slice tree, together with the latest finalized slice.
package chain

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/btree"

	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/forkchoice"
	"github.com/eigerco/montana/pkg/log"
)

// GenesisHash is the prev_hash of the first slice.
var GenesisHash = crypto.HashData([]byte("MONTANA_GENESIS"))

// Entry is one indexed slice. Height 0 is reserved for the genesis root.
type Entry struct {
	Hash     crypto.Hash
	PrevHash crypto.Hash
	Period   uint64
	Height   uint64
	Head     forkchoice.Head
}

func (e *Entry) isGenesis() bool {
	return e.Height == 0
}

func lessEntry(a, b *Entry) bool {
	if a.Period != b.Period {
		return a.Period < b.Period
	}
	return a.Hash.Compare(b.Hash) < 0
}

// Index is safe for concurrent use.
type Index struct {
	mu sync.RWMutex

	byPeriod  *btree.BTreeG[*Entry]
	byHash    map[crypto.Hash]*Entry
	leaves    map[crypto.Hash]*Entry
	finalized *Entry
}

// NewIndex returns an index holding only the genesis root, which is also
// the finalized slice.
func NewIndex() *Index {
	return NewIndexFrom(Entry{Hash: GenesisHash})
}

// NewIndexFrom roots the index at a finalized slice, typically one restored
// from storage on startup.
func NewIndexFrom(root Entry) *Index {
	r := root
	r.Head.Final = true
	ix := &Index{
		byPeriod: btree.NewG[*Entry](32, lessEntry),
		byHash:   map[crypto.Hash]*Entry{r.Hash: &r},
		leaves:   map[crypto.Hash]*Entry{r.Hash: &r},
	}
	ix.byPeriod.ReplaceOrInsert(&r)
	ix.finalized = &r
	return ix
}

// Insert adds a slice whose parent is already indexed. Height is derived
// from the parent and the stored entry is returned.
func (ix *Index) Insert(e Entry) (Entry, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.byHash[e.Hash]; ok {
		return Entry{}, ErrKnownSlice
	}
	parent, ok := ix.byHash[e.PrevHash]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownParent, e.PrevHash.Short())
	}
	if !parent.isGenesis() && e.Period <= parent.Period {
		return Entry{}, fmt.Errorf("%w: %d after %d", ErrPeriodOrder, e.Period, parent.Period)
	}
	if !ix.descendsLocked(parent, ix.finalized) {
		return Entry{}, ErrNotDescendant
	}

	n := e
	n.Height = parent.Height + 1
	n.Head.Boundary = n.Period
	n.Head.Hash = n.Hash
	ix.byHash[n.Hash] = &n
	ix.byPeriod.ReplaceOrInsert(&n)
	delete(ix.leaves, parent.Hash)
	ix.leaves[n.Hash] = &n
	return n, nil
}

func (ix *Index) Get(hash crypto.Hash) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.byHash[hash]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (ix *Index) Contains(hash crypto.Hash) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.byHash[hash]
	return ok
}

// AtPeriod returns the competing slices of a period in hash order.
func (ix *Index) AtPeriod(period uint64) []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []Entry
	ix.byPeriod.AscendGreaterOrEqual(&Entry{Period: period}, func(e *Entry) bool {
		if e.Period != period {
			return false
		}
		if !e.isGenesis() {
			out = append(out, *e)
		}
		return true
	})
	return out
}

// Leaves returns the head set ordered by period then hash.
func (ix *Index) Leaves() []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]Entry, 0, len(ix.leaves))
	for _, e := range ix.leaves {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return lessEntry(&out[i], &out[j]) })
	return out
}

func (ix *Index) LeafHashes() []crypto.Hash {
	leaves := ix.Leaves()
	out := make([]crypto.Hash, len(leaves))
	for i, e := range leaves {
		out[i] = e.Hash
	}
	return out
}

func (ix *Index) Finalized() Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return *ix.finalized
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.byPeriod.Len()
}

// descendsLocked reports whether e is anc or one of its descendants.
func (ix *Index) descendsLocked(e, anc *Entry) bool {
	cur := e
	for cur.Height > anc.Height {
		p, ok := ix.byHash[cur.PrevHash]
		if !ok {
			return false
		}
		cur = p
	}
	return cur.Hash == anc.Hash
}

// CommonAncestor returns the most recent slice both a and b descend from.
func (ix *Index) CommonAncestor(a, b crypto.Hash) (Entry, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	ea, ok := ix.byHash[a]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownSlice, a.Short())
	}
	eb, ok := ix.byHash[b]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownSlice, b.Short())
	}
	for ea.Hash != eb.Hash {
		if ea.Height >= eb.Height {
			if ea = ix.byHash[ea.PrevHash]; ea == nil {
				return Entry{}, ErrUnknownParent
			}
		} else {
			if eb = ix.byHash[eb.PrevHash]; eb == nil {
				return Entry{}, ErrUnknownParent
			}
		}
	}
	return *ea, nil
}

// Path returns the slices after from up to and including to, in ascending
// height order. from must be an ancestor of to.
func (ix *Index) Path(from, to crypto.Hash) ([]Entry, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	anc, ok := ix.byHash[from]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSlice, from.Short())
	}
	cur, ok := ix.byHash[to]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSlice, to.Short())
	}
	var rev []Entry
	for cur.Height > anc.Height {
		rev = append(rev, *cur)
		if cur = ix.byHash[cur.PrevHash]; cur == nil {
			return nil, ErrUnknownParent
		}
	}
	if cur.Hash != anc.Hash {
		return nil, ErrNotAncestor
	}
	out := make([]Entry, len(rev))
	for i, e := range rev {
		out[len(rev)-1-i] = e
	}
	return out, nil
}

// Finalize moves the finalized pointer to hash and prunes every slice that
// does not descend from it, together with its ancestors.
func (ix *Index) Finalize(hash crypto.Hash) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	f, ok := ix.byHash[hash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSlice, hash.Short())
	}
	if f.Height <= ix.finalized.Height {
		return nil
	}
	if !ix.descendsLocked(f, ix.finalized) {
		return ErrNotDescendant
	}

	var drop []*Entry
	ix.byPeriod.Ascend(func(e *Entry) bool {
		if e.Hash != f.Hash && (e.Height <= f.Height || !ix.descendsLocked(e, f)) {
			drop = append(drop, e)
		}
		return true
	})
	for _, e := range drop {
		ix.byPeriod.Delete(e)
		delete(ix.byHash, e.Hash)
		delete(ix.leaves, e.Hash)
	}
	f.Head.Final = true
	ix.finalized = f

	log.Consensus.Debug().
		Uint64("height", f.Height).
		Uint64("period", f.Period).
		Str("slice", f.Hash.Short()).
		Int("pruned", len(drop)).
		Msg("Chain index finalized")
	return nil
}
