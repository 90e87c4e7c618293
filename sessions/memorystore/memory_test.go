package memorystore

import (
	"testing"

	"github.com/climber-engine/mcp-server-go/sessions"
	"github.com/climber-engine/mcp-server-go/sessions/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.RunStoreTests(t, func(t *testing.T) sessions.Store {
		return New()
	})
}
