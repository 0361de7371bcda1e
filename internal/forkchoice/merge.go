package forkchoice

import "github.com/eigerco/montana/internal/crypto"

// Merge reconciles two checkpoint chains after a partition. Both chains are
// ordered by boundary. Checkpoints up to the most recent common one are kept;
// after it, conflicting checkpoints at the same boundary are resolved with
// the cascade and the losers returned as orphaned.
func Merge(local, remote []Head) (canonical, orphaned []Head, err error) {
	if err := checkOrdered(local); err != nil {
		return nil, nil, err
	}
	if err := checkOrdered(remote); err != nil {
		return nil, nil, err
	}
	if len(local) == 0 {
		return append([]Head(nil), remote...), nil, nil
	}
	if len(remote) == 0 {
		return append([]Head(nil), local...), nil, nil
	}

	li, ri := 0, 0
	if common, ok := commonCheckpoint(local, remote); ok {
		for i, h := range local {
			if h.Hash == common {
				li = i + 1
				canonical = append(canonical, local[:li]...)
				break
			}
		}
		for i, h := range remote {
			if h.Hash == common {
				ri = i + 1
				break
			}
		}
	}

	for li < len(local) || ri < len(remote) {
		switch {
		case li < len(local) && ri < len(remote):
			l, r := local[li], remote[ri]
			switch {
			case l.Boundary == r.Boundary:
				winner, err := Resolve(l, r)
				if err != nil {
					return nil, nil, err
				}
				canonical = append(canonical, winner)
				if l.Hash != r.Hash {
					if winner.Hash == l.Hash {
						orphaned = append(orphaned, r)
					} else {
						orphaned = append(orphaned, l)
					}
				}
				li++
				ri++
			case l.Boundary < r.Boundary:
				canonical = append(canonical, l)
				li++
			default:
				canonical = append(canonical, r)
				ri++
			}
		case li < len(local):
			canonical = append(canonical, local[li])
			li++
		default:
			canonical = append(canonical, remote[ri])
			ri++
		}
	}
	return canonical, orphaned, nil
}

// commonCheckpoint returns the most recent hash of a that also appears in b.
func commonCheckpoint(a, b []Head) (crypto.Hash, bool) {
	inB := make(map[crypto.Hash]struct{}, len(b))
	for _, h := range b {
		inB[h.Hash] = struct{}{}
	}
	for i := len(a) - 1; i >= 0; i-- {
		if _, ok := inB[a[i].Hash]; ok {
			return a[i].Hash, true
		}
	}
	return crypto.Hash{}, false
}
