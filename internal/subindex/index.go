package subindex

// Transition describes a ref-count crossing zero, used to trigger
// upstream subscribe/unsubscribe publishing (spec.md §3, §4.7).
type Transition int

const (
	NoTransition          Transition = iota
	TransitionSubscribe              // 0 -> 1
	TransitionUnsubscribe            // 1 -> 0
)

// Index holds the four structures named in spec.md §4.3:
//
//	listSubscribers : list   -> set<connection>
//	symbolToLists    : symbol -> set<list>
//	quoteSubscribers : symbol -> set<connection>
//	chartSubscribers : symbol -> set<connection>
//
// quoteRefCount/chartRefCount are not stored separately: they are
// defined as the subscriber set's size (spec.md §3's invariant
// quoteRefCount[s] = |quoteSubscribers[s]|), so deriving them from the
// sharded set avoids a second structure that could drift out of sync.
type Index struct {
	listSubscribers  *shardedSetMap
	symbolToLists    *shardedSetMap
	quoteSubscribers *shardedSetMap
	chartSubscribers *shardedSetMap
}

// New builds an empty Index.
func New() *Index {
	return &Index{
		listSubscribers:  newShardedSetMap(),
		symbolToLists:    newShardedSetMap(),
		quoteSubscribers: newShardedSetMap(),
		chartSubscribers: newShardedSetMap(),
	}
}

// --- list <-> connection ---

// SubscribeList registers connID as a subscriber of list.
func (ix *Index) SubscribeList(list, connID string) {
	ix.listSubscribers.Add(list, connID)
}

// UnsubscribeList removes connID from list's subscribers.
func (ix *Index) UnsubscribeList(list, connID string) {
	ix.listSubscribers.Remove(list, connID)
}

// ListSubscribers returns a snapshot of list's subscriber connection IDs.
func (ix *Index) ListSubscribers(list string) []string {
	return ix.listSubscribers.Members(list)
}

// DeleteList removes list entirely and returns its former subscribers,
// for use when a user-scan list is deleted (spec.md Scenario 6).
func (ix *Index) DeleteList(list string) []string {
	return ix.listSubscribers.DeleteKey(list)
}

// --- symbol -> lists ---

// AddSymbolToList records that symbol currently appears in list.
func (ix *Index) AddSymbolToList(symbol, list string) {
	ix.symbolToLists.Add(symbol, list)
}

// RemoveSymbolFromList records that symbol no longer appears in list,
// returning whether the symbol now belongs to no list at all.
func (ix *Index) RemoveSymbolFromList(symbol, list string) (nowEmpty bool) {
	return ix.symbolToLists.Remove(symbol, list) == 0
}

// SymbolLists returns the lists a symbol currently appears in.
func (ix *Index) SymbolLists(symbol string) []string {
	return ix.symbolToLists.Members(symbol)
}

// SymbolInAnyList reports whether a symbol belongs to at least one
// list, per spec.md §4.7's "scanner demand dominates" rule and the
// invariant in §8.2.
func (ix *Index) SymbolInAnyList(symbol string) bool {
	return ix.symbolToLists.Has(symbol)
}

// PurgeListMemberships removes every symbolToLists membership pointing
// at list, returning the set of symbols that as a result now belong to
// no list (spec.md Scenario 6). Every shard is swept, so memberships
// are removed whether or not their symbol appears in symbols.
func (ix *Index) PurgeListMemberships(list string, symbols []string) []string {
	var orphaned []string
	for _, s := range ix.symbolToLists.shards {
		s.mu.Lock()
		for symbol, lists := range s.data {
			if _, ok := lists[list]; !ok {
				continue
			}
			delete(lists, list)
			if len(lists) == 0 {
				delete(s.data, symbol)
				orphaned = append(orphaned, symbol)
			}
		}
		s.mu.Unlock()
	}
	return orphaned
}

// --- quote ref-counting ---

// SubscribeQuote adds connID to symbol's quote subscribers and reports
// whether this caused a 0->1 transition.
func (ix *Index) SubscribeQuote(symbol, connID string) Transition {
	before := ix.quoteSubscribers.Size(symbol)
	ix.quoteSubscribers.Add(symbol, connID)
	if before == 0 {
		return TransitionSubscribe
	}
	return NoTransition
}

// UnsubscribeQuote removes connID from symbol's quote subscribers and
// reports whether this caused a 1->0 transition.
func (ix *Index) UnsubscribeQuote(symbol, connID string) Transition {
	before := ix.quoteSubscribers.Size(symbol)
	after := ix.quoteSubscribers.Remove(symbol, connID)
	if before > 0 && after == 0 {
		return TransitionUnsubscribe
	}
	return NoTransition
}

// QuoteSubscribers returns a snapshot of symbol's quote subscribers.
func (ix *Index) QuoteSubscribers(symbol string) []string {
	return ix.quoteSubscribers.Members(symbol)
}

// QuoteRefCount returns the current quote ref-count for symbol.
func (ix *Index) QuoteRefCount(symbol string) int {
	return ix.quoteSubscribers.Size(symbol)
}

// --- chart ref-counting ---

// SubscribeChart adds connID to symbol's chart subscribers and reports
// whether this caused a 0->1 transition.
func (ix *Index) SubscribeChart(symbol, connID string) Transition {
	before := ix.chartSubscribers.Size(symbol)
	ix.chartSubscribers.Add(symbol, connID)
	if before == 0 {
		return TransitionSubscribe
	}
	return NoTransition
}

// UnsubscribeChart removes connID from symbol's chart subscribers and
// reports whether this caused a 1->0 transition.
func (ix *Index) UnsubscribeChart(symbol, connID string) Transition {
	before := ix.chartSubscribers.Size(symbol)
	after := ix.chartSubscribers.Remove(symbol, connID)
	if before > 0 && after == 0 {
		return TransitionUnsubscribe
	}
	return NoTransition
}

// ChartSubscribers returns a snapshot of symbol's chart subscribers.
func (ix *Index) ChartSubscribers(symbol string) []string {
	return ix.chartSubscribers.Members(symbol)
}

// ChartRefCount returns the current chart ref-count for symbol.
func (ix *Index) ChartRefCount(symbol string) int {
	return ix.chartSubscribers.Size(symbol)
}
