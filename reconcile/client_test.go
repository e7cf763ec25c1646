package reconcile_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"timewarp/patch"
	"timewarp/reconcile"
	"timewarp/reconcile/mocks"
	"timewarp/world"
)

func encode(t *testing.T, typ reconcile.MessageType, data any) []byte {
	raw, err := reconcile.Encode(typ, data)
	require.NoError(t, err)
	return raw
}

func newMockClient(t *testing.T) (*reconcile.Client, *[]any) {
	ctrl := gomock.NewController(t)
	up := mocks.NewMockUplink(ctrl)
	var sent []any
	up.EXPECT().Send(gomock.Any()).Do(func(data []byte) {
		msg, err := reconcile.DecodeClientMessage(data)
		require.NoError(t, err)
		sent = append(sent, msg)
	}).AnyTimes()
	return reconcile.NewClient("a", up), &sent
}

func syncedClient(t *testing.T) (*reconcile.Client, *[]any) {
	c, sent := newMockClient(t)
	require.NoError(t, c.HandleMessage(encode(t, reconcile.TypeSync, reconcile.SyncState{
		StepID:   0,
		Snapshot: world.EmptySnapshot(),
	})))
	require.True(t, c.Ready())
	*sent = nil
	return c, sent
}

func TestClientDispatchBeforeSync(t *testing.T) {
	c, sent := newMockClient(t)
	require.ErrorIs(t, c.Dispatch(world.AddPlayer{PlayerID: "a"}), reconcile.ErrNotReady)
	assert.Empty(t, *sent)

	c.Sync()
	require.Len(t, *sent, 1)
	assert.Equal(t, &reconcile.SyncRequest{ClientID: "a"}, (*sent)[0])
}

func TestClientDispatchIsOptimistic(t *testing.T) {
	c, sent := syncedClient(t)

	require.NoError(t, c.Dispatch(world.AddPlayer{PlayerID: "a"}))
	require.NoError(t, c.Dispatch(world.Move{Dir: world.DirUp, PlayerID: "nobody"}))

	assert.Equal(t, uint64(1), c.CurrentStep())
	_, ok := c.World().Entity("a")
	assert.True(t, ok)

	// 本地无效果的意图也会上报
	require.Len(t, *sent, 2)
	first := (*sent)[0].(*reconcile.IntentMessage)
	assert.Equal(t, uint64(0), first.StepID)
	second := (*sent)[1].(*reconcile.IntentMessage)
	assert.Equal(t, uint64(1), second.StepID)
	assert.Equal(t, world.Move{Dir: world.DirUp, PlayerID: "nobody"}, second.Intent)
}

func TestClientSyncAdoptsTimeline(t *testing.T) {
	c, _ := newMockClient(t)
	steps := []reconcile.Step{{
		Intent:    reconcile.Entry{Intent: world.AddPlayer{PlayerID: "b"}, ClientID: "b"},
		Timestamp: 12,
		Patch:     []patch.Command{patch.Add("/entities/b", world.NewEntityNode("b", 10))},
	}}
	require.NoError(t, c.HandleMessage(encode(t, reconcile.TypeSync, reconcile.SyncState{
		StepID:   4,
		Snapshot: world.EmptySnapshot(),
		Timeline: steps,
	})))

	v := c.View()
	assert.Equal(t, uint64(4), v.InitialStep)
	assert.Equal(t, uint64(5), v.CurrentStep)
	p, ok := c.World().Player("b")
	require.True(t, ok)
	assert.True(t, p.IsAlive)
}

func TestClientSpliceReplacesSpeculativeTail(t *testing.T) {
	c, _ := syncedClient(t)
	require.NoError(t, c.Dispatch(world.AddPlayer{PlayerID: "a"}))
	require.NoError(t, c.Dispatch(world.Move{Dir: world.DirUp, PlayerID: "a"}))

	// 服务端在第 1 步之后插入了 b
	authoritative := []reconcile.Step{
		{
			Intent: reconcile.Entry{Intent: world.AddPlayer{PlayerID: "b"}, ClientID: "b"},
			Patch:  []patch.Command{patch.Add("/entities/b", world.NewEntityNode("b", 10))},
		},
		{
			Intent: reconcile.Entry{Intent: world.Move{Dir: world.DirUp, PlayerID: "a"}, TriggeredAt: 1, ClientID: "a"},
			Patch:  []patch.Command{patch.Replace("/entities/a/position/initial/y", float64(1))},
		},
	}
	require.NoError(t, c.HandleMessage(encode(t, reconcile.TypeSplice, reconcile.Splice{To: 2, Timeline: authoritative})))

	v := c.View()
	assert.Equal(t, uint64(3), v.CurrentStep)
	assert.Equal(t, "b", v.Steps[1].Intent.ClientID)
	assert.Equal(t, 2, c.World().Len())
	pa, _ := c.World().Player("a")
	assert.Equal(t, world.Vector2{Y: 1}, pa.Position)
	assert.Equal(t, c.World().Snapshot(), c.At(3))
}

func TestClientUnanchoredSpliceResyncs(t *testing.T) {
	c, sent := syncedClient(t)
	require.NoError(t, c.HandleMessage(encode(t, reconcile.TypeSplice, reconcile.Splice{To: 9})))

	require.Len(t, *sent, 1)
	assert.IsType(t, &reconcile.SyncRequest{}, (*sent)[0])
}

func TestClientReduce(t *testing.T) {
	c, _ := syncedClient(t)
	require.NoError(t, c.Dispatch(world.AddPlayer{PlayerID: "a"}))
	require.NoError(t, c.Dispatch(world.Move{Dir: world.DirUp, PlayerID: "a"}))
	before := c.At(1)

	require.NoError(t, c.HandleMessage(encode(t, reconcile.TypeReduce, reconcile.Reduce{To: 1})))
	assert.Equal(t, uint64(1), c.View().InitialStep)
	assert.Equal(t, before, c.At(1))
}

func TestClientRejectsUnknownMessage(t *testing.T) {
	c, _ := syncedClient(t)
	err := c.HandleMessage([]byte(`{"type":"teleport","data":{}}`))
	require.ErrorIs(t, err, reconcile.ErrUnknownMessage)
}

func TestEntryJSON(t *testing.T) {
	e := reconcile.Entry{Intent: world.TranslateRight{PlayerID: "a", Delta: 3}, TriggeredAt: 7, ClientID: "a"}
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"translateRight","payload":{"playerId":"a","delta":3},"triggeredAtStepId":7,"clientId":"a"}`, string(data))

	var out reconcile.Entry
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, e, out)
}
