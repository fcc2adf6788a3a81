package redisx

import "fmt"

// Key names the gateway reads and writes in Redis, verbatim from the
// external interface contract (per-category snapshot cache, sequence
// counters, the full filtered-universe fallback, scan ownership, market
// session status, and the catalyst rolling list).
const (
	prefixCategory   = "scanner:category"
	prefixSequence   = "scanner:sequence"
	filteredComplete = "scanner:filtered_complete:LAST"
	prefixScanOwner  = "user_scan:owner"
	marketSession    = "market:session:status"
	prefixCatalyst   = "catalyst:snapshot"
)

// CategoryKey is the per-category cached row array for list.
func CategoryKey(list string) string {
	return fmt.Sprintf("%s:%s", prefixCategory, list)
}

// SequenceKey is the monotonic sequence counter for list.
func SequenceKey(list string) string {
	return fmt.Sprintf("%s:%s", prefixSequence, list)
}

// FilteredCompleteKey is the full filtered-universe fallback cache.
func FilteredCompleteKey() string {
	return filteredComplete
}

// ScanOwnerKey maps a user-scan ID to its owning user ID.
func ScanOwnerKey(scanID string) string {
	return fmt.Sprintf("%s:%s", prefixScanOwner, scanID)
}

// MarketSessionKey holds the current trading date and session phase.
func MarketSessionKey() string {
	return marketSession
}

// CatalystSnapshotKey is the capped rolling list of recent price
// observations used to seed catalyst alerts for symbol.
func CatalystSnapshotKey(symbol string) string {
	return fmt.Sprintf("%s:%s", prefixCatalyst, symbol)
}
