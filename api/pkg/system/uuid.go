package system

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	BrowserPrefix = "brw_"
	AgentPrefix   = "agt_"
)

func GenerateUUID() string {
	return uuid.New().String()
}

func GenerateID() string {
	return newID()
}

func newID() string {
	return strings.ToLower(ulid.Make().String())
}

// GenerateBrowserID identifies one browser connection for its lifetime.
// ULIDs sort by creation time, which keeps log lines easy to follow.
func GenerateBrowserID() string {
	return fmt.Sprintf("%s%s", BrowserPrefix, newID())
}

// GenerateAgentConnectionID identifies one agent connection. A reconnecting
// agent gets a new id, so stale handles never compare equal to live ones.
func GenerateAgentConnectionID() string {
	return fmt.Sprintf("%s%s", AgentPrefix, GenerateUUID())
}
