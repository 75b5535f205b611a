package config_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notionsync/internal/config"
	"notionsync/internal/domain"
)

func TestLoadCollections_AcceptsLegacyKeys(t *testing.T) {
	path := writeFile(t, "collections.json", `[
		{"id": "aaaa-1111", "name": "Posts", "supabase_table": "posts", "replication": true},
		{"id": "bbbb-2222", "name": "Users", "table": "users", "replicate": true,
		 "transforms": [{"field": "Email", "op": "lowercase"}]},
		{"id": "cccc-3333", "name": "Scratch", "replication": false}
	]`)

	got, err := config.LoadCollections(path)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, domain.Collection{ID: "aaaa-1111", Name: "Posts", Table: "posts", Replicate: true}, got[0])
	assert.Equal(t, "users", got[1].Table)
	assert.Len(t, got[1].Transforms, 1)
	assert.False(t, got[2].Replicate)
}

func TestLoadCollections_Rejects(t *testing.T) {
	cases := map[string]string{
		"missing id":        `[{"table": "x", "replicate": true}]`,
		"missing table":     `[{"id": "a", "replicate": true}]`,
		"bad identifier":    `[{"id": "a", "table": "My Table", "replicate": true}]`,
		"duplicate table":   `[{"id": "a", "table": "x", "replicate": true}, {"id": "b", "table": "x", "replicate": true}]`,
		"unknown transform": `[{"id": "a", "table": "x", "replicate": true, "transforms": [{"field": "f", "op": "eval"}]}]`,
		"not json":          `{`,
	}
	for name, content := range cases {
		_, err := config.LoadCollections(writeFile(t, "c.json", content))
		assert.Error(t, err, name)
	}
}

func TestLoadCollections_YAML(t *testing.T) {
	path := writeFile(t, "collections.yaml", `
- id: aaaa-1111
  name: Posts
  table: posts
  replicate: true
`)
	got, err := config.LoadCollections(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Replicate)
}

func TestSaveCollections_SortsByName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "collections.json")
	require.NoError(t, config.SaveCollections(path, []domain.Collection{
		{ID: "2", Name: "zebra", Table: "zebra", Replicate: true},
		{ID: "1", Name: "Apple", Table: "apple"},
	}))

	got, err := config.LoadCollections(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Apple", got[0].Name)
	assert.True(t, got[1].Replicate)
}

func TestMergeCollections(t *testing.T) {
	existing := []domain.Collection{
		{ID: "aaaa1111", Name: "Posts", Table: "posts", Replicate: true},
		{ID: "gone", Name: "Old", Table: "old"},
	}
	discovered := []domain.Collection{
		{ID: "aaaa-1111", Name: "Blog Posts", Table: "notion_blog_posts"},
		{ID: "new-1", Name: "Fresh", Table: "notion_fresh", Replicate: true},
	}

	merged, stats := config.MergeCollections(existing, discovered)
	require.Len(t, merged, 2)
	assert.Equal(t, domain.Collection{ID: "aaaa1111", Name: "Blog Posts", Table: "posts", Replicate: true}, merged[0])
	assert.False(t, merged[1].Replicate)
	assert.Equal(t, []string{"new-1"}, stats.New)
	assert.Equal(t, []string{"aaaa-1111"}, stats.Renamed)
	assert.Equal(t, []string{"gone"}, stats.Deleted)
	assert.Equal(t, 2, stats.Total)
}

func TestLoadRelations(t *testing.T) {
	collections := []domain.Collection{{ID: "aaaa-1111", Table: "posts"}}
	path := writeFile(t, "relations.json", `[
		{"origin_database_id": "aaaa1111", "relations": [
			{"field_name": "Authors", "related_database_id": "bbbb2222", "related_supabase_table": "users"},
			{"field_name": "Related", "related_database_id": "aaaa1111", "related_table": "posts"}
		]},
		{"origin_database_id": "x", "origin_supabase_table": "users", "relations": [
			{"field_name": "Orphan", "related_database_id": "zzzz"}
		]}
	]`)

	specs, err := config.LoadRelations(path, collections)
	require.NoError(t, err)
	assert.Equal(t, []domain.RelationSpec{
		{OriginTable: "posts", FieldName: "Authors", RelatedCollectionID: "bbbb2222", RelatedTable: "users"},
		{OriginTable: "posts", FieldName: "Related", RelatedCollectionID: "aaaa1111", RelatedTable: "posts"},
		{OriginTable: "users", FieldName: "Orphan", RelatedCollectionID: "zzzz"},
	}, specs)

	_, err = config.LoadRelations(writeFile(t, "r.json", `[{"origin_database_id": "unknown", "relations": []}]`), collections)
	assert.Error(t, err)
}

func TestSaveRelations_GroupsByOrigin(t *testing.T) {
	collections := []domain.Collection{{ID: "p", Table: "posts"}, {ID: "u", Table: "users"}}
	specs := []domain.RelationSpec{
		{OriginTable: "posts", FieldName: "Authors", RelatedCollectionID: "u", RelatedTable: "users"},
		{OriginTable: "users", FieldName: "Posts", RelatedCollectionID: "p", RelatedTable: "posts"},
		{OriginTable: "posts", FieldName: "Editors", RelatedCollectionID: "u", RelatedTable: "users"},
	}
	path := filepath.Join(t.TempDir(), "relations.yaml")
	require.NoError(t, config.SaveRelations(path, specs, collections))

	got, err := config.LoadRelations(path, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Editors", got[1].FieldName)
	assert.Equal(t, "users", got[2].OriginTable)
}
