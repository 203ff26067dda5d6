// Save/Load/NewStore require a live MongoDB deployment (via mongo.Client)
// and are exercised as an integration concern outside this package. Thread
// and splitThread are pure and covered directly.
package mongostore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThreadJoinsSessionAndRunWithColon(t *testing.T) {
	assert.Equal(t, "sess-1:run-1", Thread("sess-1", "run-1"))
}

func TestSplitThreadRecoversSessionAndRun(t *testing.T) {
	sessionID, runID := splitThread("sess-1:run-1")
	assert.Equal(t, "sess-1", sessionID)
	assert.Equal(t, "run-1", runID)
}

func TestSplitThreadHandlesRunIDsContainingColons(t *testing.T) {
	sessionID, runID := splitThread("sess-1:run:with:colons")
	assert.Equal(t, "sess-1", sessionID)
	assert.Equal(t, "run:with:colons", runID)
}

func TestSplitThreadWithNoColonReturnsWholeStringAsSession(t *testing.T) {
	sessionID, runID := splitThread("no-colon-here")
	assert.Equal(t, "no-colon-here", sessionID)
	assert.Equal(t, "", runID)
}

func TestThreadRoundTripsThroughSplitThread(t *testing.T) {
	thread := Thread("sess-2", "run-2")
	sessionID, runID := splitThread(thread)
	assert.Equal(t, "sess-2", sessionID)
	assert.Equal(t, "run-2", runID)
}
