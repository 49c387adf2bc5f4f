package query

import "github.com/yamabiko-db/yamabiko/index"

// clausePlan is the chosen execution strategy for one DNF clause: either an
// indexable leaf to drive a tree walk, or nil (meaning the clause can only
// be resolved by a full scan, filtered post-hoc).
type clausePlan struct {
	leaves    []Leaf
	indexLeaf *Leaf
	kind      index.Kind
}

// plan chooses, for each DNF clause, the most selective leaf whose field
// has a matching index: an equality leaf on any indexed field is preferred
// (exact prefix, smallest candidate set), falling back to any comparison
// leaf on a Numeric field (range scan over the ordered bucket tree). A
// clause with no indexable leaf falls back to a full scan.
func plan(reg index.Registry, dnf [][]Leaf) []clausePlan {
	plans := make([]clausePlan, 0, len(dnf))
	for _, clause := range dnf {
		cp := clausePlan{leaves: clause}

		for i := range clause {
			if clause[i].Op != Eq {
				continue
			}
			if kind, ok := reg.Kind(clause[i].Field); ok {
				cp.indexLeaf = &clause[i]
				cp.kind = kind
				break
			}
		}
		if cp.indexLeaf == nil {
			for i := range clause {
				if kind, ok := reg.Kind(clause[i].Field); ok && kind == index.Numeric {
					cp.indexLeaf = &clause[i]
					cp.kind = kind
					break
				}
			}
		}
		plans = append(plans, cp)
	}
	return plans
}
