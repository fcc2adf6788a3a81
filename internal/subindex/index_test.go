package subindex

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscribeQuote_TransitionOnFirstAndLast(t *testing.T) {
	ix := New()

	assert.Equal(t, TransitionSubscribe, ix.SubscribeQuote("AAPL", "conn1"))
	assert.Equal(t, NoTransition, ix.SubscribeQuote("AAPL", "conn2"))
	assert.Equal(t, 2, ix.QuoteRefCount("AAPL"))

	assert.Equal(t, NoTransition, ix.UnsubscribeQuote("AAPL", "conn1"))
	assert.Equal(t, TransitionUnsubscribe, ix.UnsubscribeQuote("AAPL", "conn2"))
	assert.Equal(t, 0, ix.QuoteRefCount("AAPL"))
}

func TestSubscribeChart_TransitionOnFirstAndLast(t *testing.T) {
	ix := New()

	assert.Equal(t, TransitionSubscribe, ix.SubscribeChart("TSLA", "conn1"))
	assert.Equal(t, NoTransition, ix.SubscribeChart("TSLA", "conn1")) // re-subscribe, same conn
	assert.Equal(t, TransitionUnsubscribe, ix.UnsubscribeChart("TSLA", "conn1"))
}

func TestSymbolInAnyList_TracksMembership(t *testing.T) {
	ix := New()
	assert.False(t, ix.SymbolInAnyList("MSFT"))

	ix.AddSymbolToList("MSFT", "gappers_up")
	assert.True(t, ix.SymbolInAnyList("MSFT"))

	ix.AddSymbolToList("MSFT", "uscan_abc")
	nowEmpty := ix.RemoveSymbolFromList("MSFT", "gappers_up")
	assert.False(t, nowEmpty, "still belongs to uscan_abc")
	assert.True(t, ix.SymbolInAnyList("MSFT"))

	nowEmpty = ix.RemoveSymbolFromList("MSFT", "uscan_abc")
	assert.True(t, nowEmpty)
	assert.False(t, ix.SymbolInAnyList("MSFT"))
}

func TestPurgeListMemberships_ReturnsOrphanedSymbols(t *testing.T) {
	ix := New()
	ix.AddSymbolToList("AAPL", "uscan_1")
	ix.AddSymbolToList("AAPL", "gappers_up")
	ix.AddSymbolToList("TSLA", "uscan_1")

	orphaned := ix.PurgeListMemberships("uscan_1", []string{"AAPL", "TSLA"})

	assert.ElementsMatch(t, []string{"TSLA"}, orphaned)
	assert.True(t, ix.SymbolInAnyList("AAPL"), "AAPL still in gappers_up")
	assert.False(t, ix.SymbolInAnyList("TSLA"))
}

func TestDeleteList_ReturnsFormerSubscribers(t *testing.T) {
	ix := New()
	ix.SubscribeList("uscan_1", "connA")
	ix.SubscribeList("uscan_1", "connB")

	subs := ix.DeleteList("uscan_1")
	assert.ElementsMatch(t, []string{"connA", "connB"}, subs)
	assert.Empty(t, ix.ListSubscribers("uscan_1"))
}

// Concurrent subscribe/unsubscribe on one symbol must never leave the
// ref-count negative or the transition count inconsistent, per spec.md
// §8's ref-count invariant.
func TestQuoteRefCount_ConcurrentSafe(t *testing.T) {
	ix := New()
	const n = 200

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			ix.SubscribeQuote("NVDA", connID(i))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, n, ix.QuoteRefCount("NVDA"))

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			ix.UnsubscribeQuote("NVDA", connID(i))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, ix.QuoteRefCount("NVDA"))
}

func connID(i int) string {
	return "conn-" + string(rune('A'+i%26)) + string(rune('0'+i/26))
}
