package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadTopLevelArrayCollection(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "items.json"), `[
		{"id": "sword", "damage": 10},
		{"id": "shield", "defense": 5}
	]`)

	reg, err := Load(dir)
	require.NoError(t, err)

	ids, ok := reg.Collection("items")
	require.True(t, ok)
	require.Equal(t, []string{"shield", "sword"}, ids)

	v, ok := reg.Get("items", "sword")
	require.True(t, ok)
	require.JSONEq(t, `{"id":"sword","damage":10}`, string(v))
}

func TestLoadSubdirectoryCollectionKeysByFilename(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "rooms", "town_square.json"), `{"name": "Town Square", "exits": ["north"]}`)
	writeFile(t, filepath.Join(dir, "rooms", "market.json"), `{"name": "Market"}`)

	reg, err := Load(dir)
	require.NoError(t, err)

	ids, ok := reg.Collection("rooms")
	require.True(t, ok)
	require.Equal(t, []string{"market", "town_square"}, ids)

	v, ok := reg.Get("rooms", "town_square")
	require.True(t, ok)
	require.JSONEq(t, `{"name":"Town Square","exits":["north"]}`, string(v))
}

func TestLoadFailsOnDuplicateIDWithinACollection(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "items.json"), `[
		{"id": "sword", "damage": 10},
		{"id": "sword", "damage": 99}
	]`)

	_, err := Load(dir)
	require.Error(t, err)
}

func TestGetOnUnknownCollectionOrIDReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "items.json"), `[{"id": "sword"}]`)

	reg, err := Load(dir)
	require.NoError(t, err)

	_, ok := reg.Get("monsters", "orc")
	require.False(t, ok)

	_, ok = reg.Get("items", "missing")
	require.False(t, ok)
}

func TestLoadYAMLTopLevelAndSubdirectoryCollections(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "monsters.yaml"), "- id: orc\n  hp: 40\n- id: goblin\n  hp: 15\n")
	writeFile(t, filepath.Join(dir, "npcs", "blacksmith.yml"), "name: Blacksmith\nstock:\n  - sword\n  - shield\n")

	reg, err := Load(dir)
	require.NoError(t, err)

	ids, ok := reg.Collection("monsters")
	require.True(t, ok)
	require.Equal(t, []string{"goblin", "orc"}, ids)

	v, ok := reg.Get("monsters", "orc")
	require.True(t, ok)
	require.JSONEq(t, `{"id":"orc","hp":40}`, string(v))

	v, ok = reg.Get("npcs", "blacksmith")
	require.True(t, ok)
	require.JSONEq(t, `{"name":"Blacksmith","stock":["sword","shield"]}`, string(v))
}

func TestCollectionsListsEveryLoadedTableSorted(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "items.json"), `[{"id": "a"}]`)
	writeFile(t, filepath.Join(dir, "monsters.json"), `[{"id": "b"}]`)
	writeFile(t, filepath.Join(dir, "rooms", "r1.json"), `{}`)

	reg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"items", "monsters", "rooms"}, reg.Collections())
}
