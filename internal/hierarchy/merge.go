package hierarchy

import "strings"

// ReplaceSuffix marks a key whose value replaces the inherited one wholesale
// instead of merging. "tags!" at a descendant level overrides an inherited
// "tags" list; the resolved view carries the bare key.
const ReplaceSuffix = "!"

// ResolvedView is the ephemeral merge of a record with all of its ancestors.
// It is never persisted; the cache layer holds copies keyed per user.
type ResolvedView struct {
	Ref           Ref    `json:"ref"`
	Data          *Data  `json:"data"`
	InheritedFrom []Ref  `json:"inherited_from"`
	OwnerID       string `json:"-"`
}

// Merge folds chain (ancestor-first, GLOBAL → … → target; missing levels
// simply absent) into a resolved view for target.
//
// Precedence: scalar keys — most specific wins. List-valued keys — ancestor
// list first, descendant appended, unless the descendant wrote the key with
// ReplaceSuffix, which discards the inherited value.
func Merge(target Ref, ownerID string, chain []*Record) *ResolvedView {
	view := &ResolvedView{
		Ref:     target,
		OwnerID: ownerID,
		Data:    NewData(),
	}

	for _, rec := range chain {
		if rec == nil {
			continue
		}
		if rec.Ref != target {
			view.InheritedFrom = append(view.InheritedFrom, rec.Ref)
		}
		if rec.Data == nil {
			continue
		}
		for pair := rec.Data.Oldest(); pair != nil; pair = pair.Next() {
			key, replace := splitReplaceKey(pair.Key)
			if key == "" {
				continue
			}
			if !replace {
				if merged, ok := concatLists(view.Data, key, pair.Value); ok {
					view.Data.Set(key, merged)
					continue
				}
			}
			view.Data.Set(key, pair.Value)
		}
	}
	return view
}

// splitReplaceKey strips ReplaceSuffix and reports whether it was present.
func splitReplaceKey(key string) (string, bool) {
	if strings.HasSuffix(key, ReplaceSuffix) {
		return strings.TrimSuffix(key, ReplaceSuffix), true
	}
	return key, false
}

// concatLists returns inherited++incoming when both values are lists.
func concatLists(data *Data, key string, incoming any) ([]any, bool) {
	prior, ok := data.Get(key)
	if !ok {
		return nil, false
	}
	priorList, ok := prior.([]any)
	if !ok {
		return nil, false
	}
	incomingList, ok := incoming.([]any)
	if !ok {
		return nil, false
	}
	merged := make([]any, 0, len(priorList)+len(incomingList))
	merged = append(merged, priorList...)
	merged = append(merged, incomingList...)
	return merged, true
}
