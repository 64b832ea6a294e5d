package stagecond

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// SystemUserID attributes work done by the engine itself.
const SystemUserID = "SYSTEM"

// Caller identifies who asked for an operation. It is passed explicitly to
// every registry and orchestrator call.
type Caller struct {
	TenantID string `json:"tenantId,omitempty"`
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`
}

// SystemCaller returns the caller used for engine-initiated work.
func SystemCaller(tenantID string) Caller {
	return Caller{TenantID: tenantID, UserID: SystemUserID, UserName: SystemUserID}
}

// Actor returns the identifier recorded in audit fields.
func (c Caller) Actor() string {
	if c.UserID == "" {
		return SystemUserID
	}
	return c.UserID
}

// GenerateID generates a random ID with the given prefix.
func GenerateID(prefix string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		b := make([]byte, 8)
		rand.Read(b)
		return prefix + "-" + hex.EncodeToString(b)
	}
	return prefix + "-" + strings.ReplaceAll(id.String(), "-", "")[:16]
}
