// Publish/Subscribe require a live Redis-backed Pulse stream and are
// exercised as an integration concern outside this package. New's sink-name
// defaulting and streamName derivation are pure and covered directly.
package pulsebroadcaster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamNameNamespacesBySession(t *testing.T) {
	assert.Equal(t, "session/sess-1", streamName("sess-1"))
}

func TestNewDefaultsSinkNameWhenEmpty(t *testing.T) {
	b := New(nil, "")
	assert.Equal(t, "agentcore_sse", b.sinkName)
}

func TestNewKeepsProvidedSinkName(t *testing.T) {
	b := New(nil, "custom_sink")
	assert.Equal(t, "custom_sink", b.sinkName)
}
