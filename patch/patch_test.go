package patch

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDoc() any {
	entities := NewDict()
	entities.Set("alice", map[string]any{
		"id":      "alice",
		"isAlive": true,
		"ammo":    float64(3),
		"tags":    []any{"a", "b"},
	})
	return map[string]any{"entities": entities}
}

func TestApplyReplaceThroughDict(t *testing.T) {
	doc := newDoc()

	doc, err := Apply(doc, Replace("/entities/alice/ammo", float64(2)))
	require.NoError(t, err)

	v, ok := Get(doc, "/entities/alice/ammo")
	require.True(t, ok)
	assert.Equal(t, float64(2), v)
}

func TestApplyMissingSegmentIsNoop(t *testing.T) {
	doc := newDoc()
	before := Clone(doc)

	_, err := Apply(doc, Replace("/entities/bob/ammo", float64(9)))
	require.ErrorIs(t, err, ErrPathNotFound)
	assert.Equal(t, before, doc)
}

func TestApplyAddEntityKeepsInsertionOrder(t *testing.T) {
	doc := newDoc()

	doc, err := Apply(doc, Add("/entities/zed", map[string]any{"id": "zed"}))
	require.NoError(t, err)
	doc, err = Apply(doc, Add("/entities/bob", map[string]any{"id": "bob"}))
	require.NoError(t, err)

	entities, _ := Get(doc, "/entities")
	assert.Equal(t, []string{"alice", "zed", "bob"}, entities.(*Dict).Keys())
}

func TestApplyRemove(t *testing.T) {
	doc := newDoc()

	doc, err := Apply(doc, Remove("/entities/alice/isAlive"))
	require.NoError(t, err)
	_, ok := Get(doc, "/entities/alice/isAlive")
	assert.False(t, ok)

	doc, err = Apply(doc, Remove("/entities/alice"))
	require.NoError(t, err)
	entities, _ := Get(doc, "/entities")
	assert.Equal(t, 0, entities.(*Dict).Len())

	_, err = Apply(doc, Remove("/entities/alice"))
	assert.ErrorIs(t, err, ErrPathNotFound)
}

func TestApplyArrays(t *testing.T) {
	doc := newDoc()

	doc, err := Apply(doc, Push("/entities/alice/tags", "c"))
	require.NoError(t, err)
	doc, err = Apply(doc, Add("/entities/alice/tags/0", "first"))
	require.NoError(t, err)
	doc, err = Apply(doc, Replace("/entities/alice/tags/1", "A"))
	require.NoError(t, err)
	doc, err = Apply(doc, Remove("/entities/alice/tags/2"))
	require.NoError(t, err)

	tags, _ := Get(doc, "/entities/alice/tags")
	assert.Equal(t, []any{"first", "A", "c"}, tags)
}

func TestApplyReplacePastArrayEndIsMiss(t *testing.T) {
	doc := newDoc()
	tags, _ := Get(doc, "/entities/alice/tags")
	n := len(tags.([]any))

	for _, key := range []string{strconv.Itoa(n), "-"} {
		_, err := Apply(doc, Replace("/entities/alice/tags/"+key, "x"))
		assert.ErrorIs(t, err, ErrPathNotFound, key)
	}
	after, _ := Get(doc, "/entities/alice/tags")
	assert.Len(t, after, n)

	// add 仍可在末尾追加
	doc, err := Apply(doc, Add("/entities/alice/tags/"+strconv.Itoa(n), "x"))
	require.NoError(t, err)
	after, _ = Get(doc, "/entities/alice/tags")
	assert.Len(t, after, n+1)
}

func TestApplyRootReplace(t *testing.T) {
	doc := newDoc()
	next := map[string]any{"entities": NewDict()}

	out, err := Apply(doc, Replace("/", next))
	require.NoError(t, err)
	assert.Equal(t, next, out)

	// 写入的值被复制，修改原值不影响树
	next["extra"] = true
	_, ok := Get(out, "/extra")
	assert.False(t, ok)

	_, err = Apply(doc, Remove("/"))
	assert.ErrorIs(t, err, ErrBadPath)
}

func TestApplyAllSkipsFailures(t *testing.T) {
	var failed []Command
	doc := ApplyAll(newDoc(), []Command{
		Replace("/entities/ghost/ammo", float64(1)),
		Replace("/entities/alice/ammo", float64(0)),
	}, func(c Command, err error) { failed = append(failed, c) })

	require.Len(t, failed, 1)
	assert.Equal(t, "/entities/ghost/ammo", failed[0].Path)
	v, _ := Get(doc, "/entities/alice/ammo")
	assert.Equal(t, float64(0), v)
}

func TestResolve(t *testing.T) {
	parent, key, err := Resolve(newDoc(), "/entities/alice/ammo")
	require.NoError(t, err)
	assert.Equal(t, "ammo", key)
	assert.IsType(t, map[string]any{}, parent)

	_, _, err = Resolve(newDoc(), "/")
	assert.ErrorIs(t, err, ErrBadPath)
	_, _, err = Resolve(newDoc(), "/entities/alice/ammo/deeper")
	assert.ErrorIs(t, err, ErrNotContainer)
}

func TestDictJSONRoundTrip(t *testing.T) {
	doc := newDoc()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"dataType":"Map"`)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, doc, decoded)
}

func TestCommandJSONKeepsFalsyValues(t *testing.T) {
	data, err := json.Marshal([]Command{
		Replace("/entities/alice/isAlive", false),
		Remove("/entities/alice/position/animation/x"),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"op":"replace","path":"/entities/alice/isAlive","value":false},
		{"op":"remove","path":"/entities/alice/position/animation/x"}
	]`, string(data))

	var cmds []Command
	require.NoError(t, json.Unmarshal(data, &cmds))
	assert.Equal(t, false, cmds[0].Value)
	assert.Nil(t, cmds[1].Value)

	err = json.Unmarshal([]byte(`{"op":"move","path":"/a"}`), &Command{})
	assert.ErrorIs(t, err, ErrUnknownOp)
}

func TestCommandValueRevivesDict(t *testing.T) {
	var c Command
	require.NoError(t, json.Unmarshal([]byte(
		`{"op":"replace","path":"/","value":{"entities":{"dataType":"Map","value":[["bob",{"id":"bob"}]]}}}`,
	), &c))

	entities, ok := Get(c.Value, "/entities")
	require.True(t, ok)
	d, ok := entities.(*Dict)
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, d.Keys())
}
