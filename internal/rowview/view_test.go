package rowview

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailalias/backend/internal/domain"
)

func record(id, pattern, dest string) domain.AliasRecord {
	return domain.AliasRecord{ID: id, Pattern: pattern, Destination: dest}
}

func TestNewRow_Defaults(t *testing.T) {
	v := NewView(Defaults{User: "me@example.com", Domain: "example.com"})

	key := v.NewRow(nil)
	row, ok := v.Get(key)
	require.True(t, ok)
	assert.Equal(t, "@example.com", row.Edit.Pattern)
	assert.Equal(t, "me@example.com", row.Edit.Destination)
	assert.True(t, row.Changed)
	assert.True(t, row.Unsaved)
	assert.False(t, row.Locked())
}

func TestEdit_ChangedTracking(t *testing.T) {
	v := NewView(Defaults{})
	v.FullReplace([]domain.AliasRecord{record("1", "a@x.com", "u@x.com")})
	key := v.Rows()[0].Key

	edited := v.Rows()[0].Edit
	edited.Destination = "other@x.com"
	require.NoError(t, v.Edit(key, edited))
	row, _ := v.Get(key)
	assert.True(t, row.Changed)

	// 改回原值后不再标记为修改
	edited.Destination = "u@x.com"
	require.NoError(t, v.Edit(key, edited))
	row, _ = v.Get(key)
	assert.False(t, row.Changed)

	edited.Pattern = "b@x.com"
	assert.ErrorIs(t, v.Edit(key, edited), ErrIdentityLocked)
	assert.ErrorIs(t, v.Edit(RowKey(999), edited), ErrRowNotFound)
}

func TestFullReplace_DiscardsLocalRows(t *testing.T) {
	v := NewView(Defaults{})
	v.NewRow(nil)
	v.FullReplace([]domain.AliasRecord{record("1", "a@x.com", "u"), record("2", "b@x.com", "u")})

	rows := v.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "a@x.com", rows[0].Edit.Pattern)
	assert.Equal(t, "2", rows[1].ID)
	assert.Empty(t, v.ChangedRows())
}

func TestMerge_KeepsChangedRows(t *testing.T) {
	v := NewView(Defaults{})
	v.FullReplace([]domain.AliasRecord{
		record("1", "a@x.com", "u@x.com"),
		record("2", "b@x.com", "u@x.com"),
		record("3", "gone@x.com", "u@x.com"),
	})
	rows := v.Rows()

	edited := rows[0].Edit
	edited.Destination = "local@x.com"
	require.NoError(t, v.Edit(rows[0].Key, edited))
	draft := v.NewRow(&Fields{Pattern: "draft@x.com", Destination: "u@x.com"})

	v.Merge([]domain.AliasRecord{
		record("1", "a@x.com", "server@x.com"),
		record("2", "b@x.com", "server@x.com"),
		record("4", "new@x.com", "u@x.com"),
	})

	got := v.Rows()
	require.Len(t, got, 4)

	// 已修改的行保持本地编辑值
	assert.Equal(t, rows[0].Key, got[0].Key)
	assert.Equal(t, "local@x.com", got[0].Edit.Destination)
	assert.True(t, got[0].Changed)

	// 未修改的行被服务端值覆盖
	assert.Equal(t, "server@x.com", got[1].Edit.Destination)
	assert.Equal(t, "server@x.com", got[1].Data.Destination)

	// 未保存的行保留
	assert.Equal(t, draft, got[2].Key)
	assert.True(t, got[2].Unsaved)

	// 新记录追加，未被引用的已保存行被删除
	assert.Equal(t, "new@x.com", got[3].Edit.Pattern)
	assert.Equal(t, "4", got[3].ID)
	for _, row := range got {
		assert.NotEqual(t, "gone@x.com", row.Edit.Pattern)
	}
}

func TestMerge_DuplicatePatterns(t *testing.T) {
	v := NewView(Defaults{})
	v.FullReplace([]domain.AliasRecord{record("1", "dup@x.com", "a"), record("2", "dup@x.com", "b")})

	v.Merge([]domain.AliasRecord{record("1", "dup@x.com", "a2"), record("2", "dup@x.com", "b2")})

	rows := v.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "a2", rows[0].Edit.Destination)
	assert.Equal(t, "b2", rows[1].Edit.Destination)
}

func TestMarkSaved_ThenMergeFillsID(t *testing.T) {
	v := NewView(Defaults{})
	key := v.NewRow(&Fields{Pattern: "a@x.com", Destination: "u"})

	// 未保存行已修改，合并时不会被覆盖，也不会产生重复行
	v.Merge([]domain.AliasRecord{record("1", "a@x.com", "u")})
	require.Len(t, v.Rows(), 1)

	row, _ := v.Get(key)
	require.NoError(t, v.MarkSaved(key, "", row.Edit))
	row, _ = v.Get(key)
	assert.False(t, row.Changed)
	assert.False(t, row.Unsaved)
	assert.True(t, row.Locked())
	assert.Empty(t, row.ID)

	v.Merge([]domain.AliasRecord{record("1", "a@x.com", "u")})
	row, _ = v.Get(key)
	assert.Equal(t, "1", row.ID)
	assert.Equal(t, "1", row.Record().ID)

	assert.ErrorIs(t, v.MarkSaved(RowKey(42), "x", Fields{}), ErrRowNotFound)
}

func TestMarkSaved_KeepsLaterEdits(t *testing.T) {
	v := NewView(Defaults{})
	key := v.NewRow(&Fields{Pattern: "a@x.com", Destination: "u", Description: "first"})
	sent, _ := v.Get(key)

	edited := sent.Edit
	edited.Description = "second"
	require.NoError(t, v.Edit(key, edited))

	require.NoError(t, v.MarkSaved(key, "", sent.Edit))
	row, _ := v.Get(key)
	assert.Equal(t, "first", row.Data.Description)
	assert.Equal(t, "second", row.Edit.Description)
	assert.True(t, row.Changed)
	assert.False(t, row.Unsaved)

	// 服务端确认的记录只补齐 ID，编辑值不被覆盖
	v.Merge([]domain.AliasRecord{{ID: "1", Pattern: "a@x.com", Destination: "u", Description: "first"}})
	row, _ = v.Get(key)
	assert.Equal(t, "1", row.ID)
	assert.Equal(t, "second", row.Edit.Description)
	assert.True(t, row.Changed)
}

func TestRemove(t *testing.T) {
	v := NewView(Defaults{})
	key := v.NewRow(nil)
	assert.True(t, v.Remove(key))
	assert.False(t, v.Remove(key))
	_, ok := v.Get(key)
	assert.False(t, ok)
}

func TestSearch(t *testing.T) {
	v := NewView(Defaults{})
	v.FullReplace([]domain.AliasRecord{
		{ID: "1", Pattern: "Shop@x.com", Destination: "u"},
		{ID: "2", Pattern: "news@x.com", Destination: "u", Description: "Weekly SHOPPING digest"},
		{ID: "3", Pattern: "bank@x.com", Destination: "u"},
	})

	keys, err := v.Search("shop")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	keys, err = v.Search("")
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	_, err = v.Search("(")
	assert.Error(t, err)
}

func TestRandomize(t *testing.T) {
	v := NewView(Defaults{Domain: "default.org"})

	key := v.NewRow(&Fields{Pattern: "x@custom.net"})
	pattern, err := v.Randomize(key, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(pattern, "@custom.net"))
	assert.Len(t, pattern, DefaultRandomLength+len("@custom.net"))

	blank := v.NewRow(&Fields{})
	pattern, err = v.Randomize(blank, 6)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(pattern, "@default.org"))

	v.FullReplace([]domain.AliasRecord{record("1", "a@x.com", "u")})
	_, err = v.Randomize(v.Rows()[0].Key, 6)
	assert.ErrorIs(t, err, ErrIdentityLocked)
}

func TestRandomAlias_Alphabet(t *testing.T) {
	for i := 0; i < 50; i++ {
		alias := RandomAlias(12, "x.com")
		local, domainName, found := cut(alias)
		require.True(t, found)
		assert.Equal(t, "x.com", domainName)
		assert.Len(t, local, 12)
		assert.Regexp(t, `^[0-9a-y]+$`, local)
	}
}
