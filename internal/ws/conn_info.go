package ws

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// ConnInfo is the per-connection bookkeeping attached to a hub entry. It
// travels with every ws lifecycle event published to the bus.
type ConnInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// newConnID returns a random identifier correlating one websocket session
// across its connect, error and disconnect events.
func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
