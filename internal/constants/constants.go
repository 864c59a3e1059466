// Package constants provides shared constants used across the codebase.
package constants

// Request limits
const (
	// MaxRequestBodySize bounds JSON bodies carrying base64 photos (12MB)
	MaxRequestBodySize = 12 << 20

	// MaxNameLength is the longest accepted identity or subject name
	MaxNameLength = 200

	// MaxIDLength is the longest accepted identity id
	MaxIDLength = 64

	// MaxSubjectLength is the longest subject abbreviation the ledger stores
	MaxSubjectLength = 64
)

// Session constants
const (
	// SessionCookieName is the admin session cookie
	SessionCookieName = "attendance_session"

	// SessionMaxAgeHours is the admin session lifetime
	SessionMaxAgeHours = 12
)

// Kiosk constants
const (
	// KioskFrameTimeoutSeconds bounds the wait for a websocket frame
	KioskFrameTimeoutSeconds = 60
)

// Shutdown constants
const (
	// ShutdownTimeoutSeconds is the grace period for in-flight requests
	ShutdownTimeoutSeconds = 30
)
