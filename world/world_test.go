package world

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timewarp/patch"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock { return &fakeClock{t: time.UnixMilli(1_700_000_000_000)} }

func newWorld(c *fakeClock, opts ...Option) *World {
	return New(append([]Option{WithClock(c.Now)}, opts...)...)
}

func dispatch(w *World, in Intent) []patch.Command {
	return w.Present(w.Translate(in))
}

func ms(v int64) *int64 { return &v }

func TestAddPlayer(t *testing.T) {
	w := newWorld(newClock(), WithStartingAmmo(3))

	p := dispatch(w, AddPlayer{PlayerID: "alice"})
	require.Len(t, p, 1)
	assert.Equal(t, patch.OpAdd, p[0].Op)
	assert.Equal(t, "/entities/alice", p[0].Path)

	e, ok := w.Entity("alice")
	require.True(t, ok)
	assert.True(t, e.IsAlive)
	assert.Equal(t, uint32(3), e.Ammo)
	assert.Equal(t, Vector2{}, e.Position.Initial)
}

func TestMoveUpIncrementsY(t *testing.T) {
	w := newWorld(newClock())
	dispatch(w, AddPlayer{PlayerID: "alice"})

	p := dispatch(w, Move{Dir: DirUp, PlayerID: "alice"})
	require.Equal(t, []patch.Command{patch.Replace("/entities/alice/position/initial/y", float64(1))}, p)

	dispatch(w, Move{Dir: DirLeft, PlayerID: "alice"})
	e, _ := w.Entity("alice")
	assert.Equal(t, Vector2{X: -1, Y: 1}, e.Position.Initial)
}

func TestMoveMissingEntityEmitsNothing(t *testing.T) {
	w := newWorld(newClock())
	assert.Empty(t, dispatch(w, Move{Dir: DirDown, PlayerID: "ghost"}))
}

func TestEndAnimationsWritesFinalValue(t *testing.T) {
	c := newClock()
	w := newWorld(c)
	dispatch(w, AddPlayer{PlayerID: "alice"})
	dispatch(w, TranslateRight{PlayerID: "alice", Delta: 10, Duration: ms(100)})
	c.Advance(10 * time.Millisecond)

	p := dispatch(w, EndAnimations{Paths: []string{AnimationPath("alice", AxisX)}})
	require.Len(t, p, 2)
	assert.Equal(t, patch.Replace(InitialPath("alice", AxisX), float64(10)), p[0])
	assert.Equal(t, patch.Remove(AnimationPath("alice", AxisX)), p[1])

	e, _ := w.Entity("alice")
	assert.Equal(t, float64(10), e.Position.Initial.X)
	assert.Empty(t, e.Position.Animation)
	assert.Empty(t, w.AnimationPaths("alice"))
}

func TestStopAnimationsFreezesProgress(t *testing.T) {
	c := newClock()
	w := newWorld(c)
	dispatch(w, AddPlayer{PlayerID: "alice"})
	dispatch(w, TranslateRight{PlayerID: "alice", Delta: 10, Duration: ms(100)})
	c.Advance(50 * time.Millisecond)

	dispatch(w, StopAnimations{Paths: []string{AnimationPath("alice", AxisX)}})

	e, _ := w.Entity("alice")
	assert.Equal(t, float64(5), e.Position.Initial.X)
	assert.Empty(t, e.Position.Animation)
}

func TestCancelAnimationsDiscardsProgress(t *testing.T) {
	c := newClock()
	w := newWorld(c)
	dispatch(w, AddPlayer{PlayerID: "alice"})
	dispatch(w, TranslateRight{PlayerID: "alice", Delta: 10, Duration: ms(5000)})
	c.Advance(20 * time.Millisecond)

	p := dispatch(w, CancelAnimations{Paths: []string{AnimationPath("alice", AxisX)}})
	require.Equal(t, []patch.Command{patch.Remove(AnimationPath("alice", AxisX))}, p)

	e, _ := w.Entity("alice")
	assert.Equal(t, float64(0), e.Position.Initial.X)
	assert.Empty(t, e.Position.Animation)
}

func TestStopAnimationWithoutAnimationIsNoop(t *testing.T) {
	w := newWorld(newClock())
	dispatch(w, AddPlayer{PlayerID: "alice"})
	assert.Empty(t, dispatch(w, StopAnimations{Paths: []string{AnimationPath("alice", AxisY)}}))
}

func TestTranslateRightDefaultDuration(t *testing.T) {
	c := newClock()
	w := newWorld(c, WithTranslateDuration(250*time.Millisecond))
	dispatch(w, AddPlayer{PlayerID: "alice"})
	dispatch(w, TranslateRight{PlayerID: "alice", Delta: 4})

	e, _ := w.Entity("alice")
	a, ok := e.Position.Animation[AxisX]
	require.True(t, ok)
	assert.Equal(t, int64(250), a.Duration)
	assert.Equal(t, c.Now().UnixMilli(), a.StartedAt)
}

func TestShotDecrementsAmmoAndHitsInterpolatedPosition(t *testing.T) {
	c := newClock()
	w := newWorld(c, WithStartingAmmo(2))
	dispatch(w, AddPlayer{PlayerID: "shooter"})
	dispatch(w, AddPlayer{PlayerID: "target"})
	dispatch(w, AddPlayer{PlayerID: "bystander"})
	for i := 0; i < 5; i++ {
		dispatch(w, Move{Dir: DirUp, PlayerID: "target"})
	}
	dispatch(w, Move{Dir: DirRight, PlayerID: "bystander"})
	dispatch(w, TranslateRight{PlayerID: "target", Delta: 10, Duration: ms(100)})
	// target 的静态位置 (0,5)，插值位置 (5,5)
	c.Advance(50 * time.Millisecond)

	p := dispatch(w, Shot{Shooter: "shooter", Direction: Vector2{X: 1, Y: 1}})
	require.Equal(t, []patch.Command{
		patch.Replace("/entities/shooter/ammo", float64(1)),
		patch.Replace("/entities/target/isAlive", false),
	}, p)

	shooter, _ := w.Entity("shooter")
	target, _ := w.Entity("target")
	bystander, _ := w.Entity("bystander")
	assert.Equal(t, uint32(1), shooter.Ammo)
	assert.True(t, shooter.IsAlive)
	assert.False(t, target.IsAlive)
	assert.True(t, bystander.IsAlive)
}

// 命中判定要求角度完全相等，几乎对准也算未命中
func TestShotNearMissIsNotAHit(t *testing.T) {
	w := newWorld(newClock())
	dispatch(w, AddPlayer{PlayerID: "shooter"})
	dispatch(w, AddPlayer{PlayerID: "target"})
	dispatch(w, Move{Dir: DirRight, PlayerID: "target"})

	p := dispatch(w, Shot{Shooter: "shooter", Direction: Vector2{X: 1, Y: 1e-9}})
	require.Len(t, p, 1)
	target, _ := w.Entity("target")
	assert.True(t, target.IsAlive)
}

func TestShotHitsShooterAwayFromOrigin(t *testing.T) {
	w := newWorld(newClock())
	dispatch(w, AddPlayer{PlayerID: "shooter"})
	dispatch(w, Move{Dir: DirRight, PlayerID: "shooter"})

	p := dispatch(w, Shot{Shooter: "shooter", From: Vector2{}, Direction: Vector2{X: 1}})
	require.Len(t, p, 2)
	assert.Equal(t, patch.Replace("/entities/shooter/isAlive", false), p[1])
	shooter, _ := w.Entity("shooter")
	assert.False(t, shooter.IsAlive)
}

func TestShotWithoutAmmoIsEmpty(t *testing.T) {
	w := newWorld(newClock(), WithStartingAmmo(0))
	dispatch(w, AddPlayer{PlayerID: "shooter"})
	assert.Empty(t, dispatch(w, Shot{Shooter: "shooter", Direction: Vector2{X: 1}}))
}

func TestApplyPatchSkipsMissingPaths(t *testing.T) {
	w := newWorld(newClock())
	dispatch(w, AddPlayer{PlayerID: "alice"})

	cmds := []patch.Command{
		patch.Replace("/entities/bob/name", "Bob"),
		patch.Replace("/entities/alice/name", "Alice"),
	}
	p := dispatch(w, ApplyPatch{Commands: cmds})
	assert.Equal(t, cmds[1:], p)

	e, _ := w.Entity("alice")
	assert.Equal(t, "Alice", e.Name)
	_, ok := w.Entity("bob")
	assert.False(t, ok)
}

func TestApplyPatchRecordsStoredValues(t *testing.T) {
	w := newWorld(newClock())
	dispatch(w, AddPlayer{PlayerID: "alice"})
	before := w.Snapshot()

	p := dispatch(w, ApplyPatch{Commands: []patch.Command{
		patch.Add("/entities/alice/score", float64(5)),
		patch.Replace("/entities/alice/ammo", float64(-3)),
		patch.Remove("/entities/alice/name"),
		patch.Replace("/entities/alice/position/animation/x", "junk"),
	}})
	assert.Equal(t, []patch.Command{
		patch.Replace("/entities/alice/ammo", float64(0)),
		patch.Replace("/entities/alice/name", ""),
	}, p)

	// 重放补丁得到的文档与模型一致
	replayed := patch.ApplyAll(before, p, func(c patch.Command, err error) {
		t.Errorf("replay %s %s: %v", c.Op, c.Path, err)
	})
	assert.Equal(t, w.Snapshot(), replayed)
}

func TestApplyPatchDroppedAnimationIsRemoved(t *testing.T) {
	c := newClock()
	w := newWorld(c)
	dispatch(w, AddPlayer{PlayerID: "alice"})
	dispatch(w, TranslateRight{PlayerID: "alice", Delta: 4, Duration: ms(100)})
	before := w.Snapshot()

	path := AnimationPath("alice", AxisX)
	p := dispatch(w, ApplyPatch{Commands: []patch.Command{patch.Replace(path, "junk")}})
	assert.Equal(t, []patch.Command{patch.Remove(path)}, p)
	assert.Equal(t, w.Snapshot(), patch.ApplyAll(before, p, nil))
}

func TestRemoveEntity(t *testing.T) {
	w := newWorld(newClock())
	dispatch(w, AddPlayer{PlayerID: "alice"})
	dispatch(w, AddPlayer{PlayerID: "bob"})

	dispatch(w, ApplyPatch{Commands: []patch.Command{patch.Remove("/entities/alice")}})
	assert.Equal(t, 1, w.Len())
	players := w.Players()
	require.Len(t, players, 1)
	assert.Equal(t, "bob", players[0].ID)
}

func TestHydrateReconcilesEntities(t *testing.T) {
	src := newWorld(newClock())
	dispatch(src, AddPlayer{PlayerID: "bob"})
	dispatch(src, AddPlayer{PlayerID: "carol"})
	dispatch(src, Move{Dir: DirUp, PlayerID: "bob"})
	snapshot := src.Snapshot()

	w := newWorld(newClock())
	dispatch(w, AddPlayer{PlayerID: "alice"})
	dispatch(w, AddPlayer{PlayerID: "bob"})
	w.mu.RLock()
	bob := w.entities["bob"]
	w.mu.RUnlock()

	tr := w.Translate(Hydrate{Snapshot: snapshot})
	assert.False(t, tr.SkipStep)
	w.Present(tr)

	assert.Equal(t, snapshot, w.Snapshot())
	w.mu.RLock()
	assert.Same(t, bob, w.entities["bob"])
	w.mu.RUnlock()
	_, ok := w.Entity("alice")
	assert.False(t, ok)
	e, _ := w.Entity("bob")
	assert.Equal(t, float64(1), e.Position.Initial.Y)
}

func TestHydrateWithoutStep(t *testing.T) {
	w := newWorld(newClock())
	no := false
	assert.True(t, w.Translate(Hydrate{Snapshot: EmptySnapshot(), ShouldRegisterStep: &no}).SkipStep)
}

func TestSnapshotIsDetached(t *testing.T) {
	w := newWorld(newClock())
	dispatch(w, AddPlayer{PlayerID: "alice"})
	snap := w.Snapshot()

	dispatch(w, Move{Dir: DirUp, PlayerID: "alice"})
	y, ok := patch.Get(snap, "/entities/alice/position/initial/y")
	require.True(t, ok)
	assert.Equal(t, float64(0), y)
}

func TestTranslateUnknownIntentPanics(t *testing.T) {
	w := newWorld(newClock())
	assert.Panics(t, func() { w.Translate(nil) })
}

func TestEnvelopeJSON(t *testing.T) {
	in := Envelope{Intent: Shot{Shooter: "alice", From: Vector2{X: 1}, Direction: Vector2{Y: 1}}}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"shot","payload":{"shoter":"alice","from":{"x":1,"y":0},"direction":{"x":0,"y":1}}}`, string(data))

	var out Envelope
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)

	var move Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"type":"moveLeft","payload":{"playerId":"bob"}}`), &move))
	assert.Equal(t, Move{Dir: DirLeft, PlayerID: "bob"}, move.Intent)
	assert.Equal(t, KindMoveLeft, move.Intent.Kind())
}

func TestDecodeUnknownIntent(t *testing.T) {
	_, err := DecodeIntent("teleport", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrUnknownIntent)
}

func TestHydrateEnvelopeRevivesDict(t *testing.T) {
	src := newWorld(newClock())
	dispatch(src, AddPlayer{PlayerID: "alice"})
	data, err := json.Marshal(Envelope{Intent: Hydrate{Snapshot: src.Snapshot()}})
	require.NoError(t, err)

	var out Envelope
	require.NoError(t, json.Unmarshal(data, &out))
	h, ok := out.Intent.(Hydrate)
	require.True(t, ok)

	w := newWorld(newClock())
	w.Present(w.Translate(h))
	_, ok = w.Entity("alice")
	assert.True(t, ok)
}
