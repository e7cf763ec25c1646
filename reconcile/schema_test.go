package reconcile_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timewarp/reconcile"
)

func TestSchemaCoversEveryMessage(t *testing.T) {
	schemas := reconcile.Schema()
	for _, name := range []string{
		"client.sync", "client.intent",
		"server.sync", "server.intent", "server.splice", "server.reduce",
	} {
		s, ok := schemas[name]
		require.True(t, ok, name)
		assert.Equal(t, name, s.Title)
	}

	data, err := json.Marshal(schemas["server.splice"])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"triggeredAtStepId"`)
	assert.Contains(t, string(data), `"timeline"`)
}
