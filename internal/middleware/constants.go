package middleware

import "time"

// Rate Limiting Constants
const (
	// CleanupInterval is how often the rate limiter cleans up old entries
	CleanupInterval = 5 * time.Minute

	// CleanupThreshold is the age threshold for removing old entries
	CleanupThreshold = 10 * time.Minute
)
