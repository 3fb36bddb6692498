package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjustice/entitygraph/internal/entity"
)

func personGraph(t *testing.T, uid, key, surname string) *entity.Graph {
	t.Helper()
	person := entity.Rehydrate("Person", uid, key, true, map[string]string{
		"id":      key,
		"surname": surname,
	})
	race := entity.Rehydrate("PersonRace", uid+"-race", "", false, map[string]string{"race": "B"})
	person.Attach("PersonRace", race)

	g := entity.NewGraph()
	g.AddRoot(person)
	g.Reindex(person)
	g.Provenance().Touch(person.UID(), 0)
	g.Provenance().Touch(person.UID(), 2)
	g.Provenance().Touch(race.UID(), 2)
	return g
}

func TestSnapshotRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "snapshot.db")

	w, err := NewWriter(dbPath)
	require.NoError(t, err)

	g := personGraph(t, "uid-1", "123", "Doe")
	require.NoError(t, w.WriteGraph("us_xx_elite", "123", g))
	require.NoError(t, w.WriteConflicts("us_xx_elite", "123", []entity.MergeConflict{
		{EntityType: "Person", Key: "123", Attribute: "gender", Existing: "M", Incoming: "F"},
	}))
	require.NoError(t, w.Close())

	keys, err := ListGraphs(dbPath)
	require.NoError(t, err)
	assert.Equal(t, []GraphKey{{Source: "us_xx_elite", TopKey: "123"}}, keys)

	loaded, err := LoadGraph(dbPath, "us_xx_elite", "123")
	require.NoError(t, err)

	require.Len(t, loaded.Roots(), 1)
	person := loaded.Roots()[0]
	assert.Equal(t, "Person", person.Type())
	assert.Equal(t, "uid-1", person.UID())
	assert.True(t, person.Keyed())
	assert.Equal(t, "123", person.Key())
	v, _ := person.Attr("surname")
	assert.Equal(t, "Doe", v)

	indexed, ok := loaded.Lookup("Person", "123")
	require.True(t, ok)
	assert.Same(t, person, indexed)

	races := person.Children("PersonRace")
	require.Len(t, races, 1)
	assert.False(t, races[0].Keyed())
	v, _ = races[0].Attr("race")
	assert.Equal(t, "B", v)

	assert.Equal(t, []uint32{0, 2}, loaded.Provenance().Records(person.UID()))
	assert.Equal(t, []uint32{2}, loaded.Provenance().Records(races[0].UID()))

	conflicts, err := LoadConflicts(dbPath, "us_xx_elite", "123")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "gender", conflicts[0].Attribute)
	assert.Equal(t, "M", conflicts[0].Existing)
}

func TestSnapshotKeepsGraphsApart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "snapshot.db")

	w, err := NewWriter(dbPath)
	require.NoError(t, err)
	require.NoError(t, w.WriteGraph("us_xx_elite", "123", personGraph(t, "uid-1", "123", "Doe")))
	require.NoError(t, w.WriteGraph("us_xx_elite", "456", personGraph(t, "uid-2", "456", "Roe")))
	require.NoError(t, w.Close())

	keys, err := ListGraphs(dbPath)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	loaded, err := LoadGraph(dbPath, "us_xx_elite", "456")
	require.NoError(t, err)
	require.Len(t, loaded.Roots(), 1)
	assert.Equal(t, "456", loaded.Roots()[0].Key())
	v, _ := loaded.Roots()[0].Attr("surname")
	assert.Equal(t, "Roe", v)

	_, ok := loaded.Lookup("Person", "123")
	assert.False(t, ok)
}

func TestSnapshotRewriteReplaces(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "snapshot.db")

	w, err := NewWriter(dbPath)
	require.NoError(t, err)
	require.NoError(t, w.WriteGraph("us_xx_elite", "123", personGraph(t, "uid-1", "123", "Doe")))
	require.NoError(t, w.Close())

	// Re-running the same build overwrites rather than duplicating.
	w, err = NewWriter(dbPath)
	require.NoError(t, err)
	require.NoError(t, w.WriteGraph("us_xx_elite", "123", personGraph(t, "uid-1", "123", "Doe")))
	require.NoError(t, w.Close())

	loaded, err := LoadGraph(dbPath, "us_xx_elite", "123")
	require.NoError(t, err)
	require.Len(t, loaded.Roots(), 1)
	assert.Len(t, loaded.Roots()[0].Children("PersonRace"), 1)
}
