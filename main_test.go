package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaCommand(t *testing.T) {
	var buf bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"schema"})
	require.NoError(t, cmd.Execute())

	var schemas map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(buf.Bytes(), &schemas))
	assert.Len(t, schemas, 6)

	out := filepath.Join(t.TempDir(), "protocol.json")
	cmd = newRootCommand()
	cmd.SetArgs([]string{"schema", "--out", out})
	require.NoError(t, cmd.Execute())
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.JSONEq(t, buf.String(), string(data))
}

func TestServeRejectsMissingConfig(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, cmd.Execute())
}

func TestBotDialFailureClosesEarlierConnections(t *testing.T) {
	var dials atomic.Int32
	closed := make(chan struct{})
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 只接受第一条连接
		if dials.Add(1) > 1 {
			http.Error(w, "room full", http.StatusServiceUnavailable)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				close(closed)
				return
			}
		}
	}))
	defer ts.Close()

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"bot", "--url", "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", "--count", "2"})
	require.Error(t, cmd.Execute())
	assert.Equal(t, int32(2), dials.Load())

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("first bot connection left open")
	}
}
