package tests

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjustice/entitygraph/internal/build"
	"github.com/openjustice/entitygraph/internal/entity"
	"github.com/openjustice/entitygraph/internal/mapping"
	"github.com/openjustice/entitygraph/internal/schema"
	"github.com/openjustice/entitygraph/internal/store"
)

// testFixture bundles the shared state for integration tests: a parsed
// schema, a spec registry over an in-memory filesystem, and a loaded,
// validated spec for one source.
type testFixture struct {
	graph *schema.Graph
	spec  *mapping.Spec
}

const testSchemaHCL = `
version = "v1"

entity "Person" {
  key        = "id"
  attributes = ["id", "surname", "given_names", "gender"]

  child "PersonRace" {}
  child "SentenceGroup" {}
}

entity "PersonRace" {
  attributes = ["race"]
}

entity "SentenceGroup" {
  key        = "group_id"
  attributes = ["group_id", "status"]

  child "Sentence" {}
}

category "Sentence" {
  default    = "IncarcerationSentence"
  subtypes   = ["IncarcerationSentence", "SupervisionSentence"]
  key        = "sentence_id"
  attributes = ["sentence_id", "county"]
}
`

const testSpecYAML = `
key_mappings:
  CmtmtLast_Nm: Person.surname
  Gender_Cd: Person.gender
child_key_mappings:
  Race_Id: PersonRace.race
  Group_Status: SentenceGroup.status
  Sentence_County: Sentence.county
primary_key:
  SID_Num: Person.id
  Group_Id: SentenceGroup.group_id
  Sentence_Num: Sentence.sentence_id
keys_to_ignore:
  Audit_Ts: load timestamp
`

const testExtractCSV = `SID_Num,CmtmtLast_Nm,Gender_Cd,Race_Id,Group_Id,Group_Status,Sentence_Num,Sentence_County,Audit_Ts
123,Doe,M,,,,,,2024-01-01
123,,,B,,,,,2024-01-01
123,,,,G1,SERVING,,,2024-01-01
123,,,,G1,,S1,Boone,2024-01-01
456,Roe,F,W,G7,COMPLETED,S9,Cole,2024-01-01
456,,M,,,,,,2024-01-01
`

// setup parses the schema, stores the spec under an in-memory registry the
// way deployments lay out their specs directory, and loads it validated.
func setup(t *testing.T) *testFixture {
	t.Helper()

	g, err := schema.Parse([]byte(testSchemaHCL), "schema.hcl")
	require.NoError(t, err)

	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "us_xx_elite.yaml", []byte(testSpecYAML), 0o644))
	registry := mapping.NewRegistry(fs, quietLogger())

	spec, err := registry.LoadValidated("us_xx_elite", g)
	require.NoError(t, err)

	return &testFixture{graph: g, spec: spec}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEndToEndBatch(t *testing.T) {
	f := setup(t)

	records, err := build.ReadCSV(strings.NewReader(testExtractCSV))
	require.NoError(t, err)
	require.Len(t, records, 6)

	report, err := build.RunBatch(context.Background(), f.graph, f.spec, records,
		build.BatchOptions{Workers: 2, Logger: quietLogger()})
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "Person", report.TopLevelType)

	t.Run("person 123", func(t *testing.T) {
		kr := report.Results[0]
		require.Equal(t, "123", kr.Key)
		assert.Equal(t, build.OutcomeSuccess, kr.Outcome)
		assert.Equal(t, 4, kr.Records)

		require.Len(t, kr.Graph.Roots(), 1)
		person := kr.Graph.Roots()[0]
		assert.Equal(t, "123", person.Key())
		surname, _ := person.Attr("surname")
		assert.Equal(t, "Doe", surname)

		races := person.Children("PersonRace")
		require.Len(t, races, 1)
		race, _ := races[0].Attr("race")
		assert.Equal(t, "B", race)

		groups := person.Children("SentenceGroup")
		require.Len(t, groups, 1)
		assert.Equal(t, "G1", groups[0].Key())
		status, _ := groups[0].Attr("status")
		assert.Equal(t, "SERVING", status)

		sentences := groups[0].Children("Sentence")
		require.Len(t, sentences, 1)
		assert.Equal(t, "IncarcerationSentence", sentences[0].Type())
		assert.Equal(t, "S1", sentences[0].Key())
		county, _ := sentences[0].Attr("county")
		assert.Equal(t, "Boone", county)
	})

	t.Run("person 456 keeps first gender and reports the second", func(t *testing.T) {
		kr := report.Results[1]
		require.Equal(t, "456", kr.Key)
		assert.Equal(t, build.OutcomeSuccessWithConflicts, kr.Outcome)
		require.Len(t, kr.Conflicts, 1)
		assert.Equal(t, "gender", kr.Conflicts[0].Attribute)
		assert.Equal(t, "F", kr.Conflicts[0].Existing)
		assert.Equal(t, "M", kr.Conflicts[0].Incoming)

		person := kr.Graph.Roots()[0]
		gender, _ := person.Attr("gender")
		assert.Equal(t, "F", gender)
	})
}

func TestEndToEndSnapshotRoundTrip(t *testing.T) {
	f := setup(t)

	records, err := build.ReadCSV(strings.NewReader(testExtractCSV))
	require.NoError(t, err)

	report, err := build.RunBatch(context.Background(), f.graph, f.spec, records,
		build.BatchOptions{Logger: quietLogger()})
	require.NoError(t, err)

	dbPath := filepath.Join(t.TempDir(), "snapshot.db")
	writer, err := store.NewWriter(dbPath)
	require.NoError(t, err)
	for _, kr := range report.Results {
		require.NoError(t, writer.WriteGraph("us_xx_elite", kr.Key, kr.Graph))
		if len(kr.Conflicts) > 0 {
			require.NoError(t, writer.WriteConflicts("us_xx_elite", kr.Key, kr.Conflicts))
		}
	}
	require.NoError(t, writer.Close())

	keys, err := store.ListGraphs(dbPath)
	require.NoError(t, err)
	assert.Equal(t, []store.GraphKey{
		{Source: "us_xx_elite", TopKey: "123"},
		{Source: "us_xx_elite", TopKey: "456"},
	}, keys)

	loaded, err := store.LoadGraph(dbPath, "us_xx_elite", "123")
	require.NoError(t, err)
	require.Len(t, loaded.Roots(), 1)
	person := loaded.Roots()[0]
	assert.Equal(t, "123", person.Key())
	require.Len(t, person.Children("SentenceGroup"), 1)
	group := person.Children("SentenceGroup")[0]
	require.Len(t, group.Children("Sentence"), 1)
	assert.Equal(t, "S1", group.Children("Sentence")[0].Key())

	// The loaded graph answers identity lookups like a freshly built one.
	indexed, ok := loaded.Lookup("SentenceGroup", "G1")
	require.True(t, ok)
	assert.Same(t, group, indexed)

	// Provenance survives: person 123 was touched by its four records.
	assert.Equal(t, []uint32{0, 1, 2, 3}, loaded.Provenance().Records(person.UID()))

	conflicts, err := store.LoadConflicts(dbPath, "us_xx_elite", "456")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, entity.MergeConflict{
		EntityType: "Person",
		Key:        "456",
		Attribute:  "gender",
		Existing:   "F",
		Incoming:   "M",
	}, conflicts[0])
}

func TestEndToEndUnknownFieldIsolation(t *testing.T) {
	f := setup(t)

	records := []build.Record{
		{Fields: []build.Field{{Name: "SID_Num", Value: "123"}, {Name: "CmtmtLast_Nm", Value: "Doe"}}},
		{Fields: []build.Field{{Name: "SID_Num", Value: "456"}, {Name: "New_Col", Value: "x"}}},
	}

	report, err := build.RunBatch(context.Background(), f.graph, f.spec, records,
		build.BatchOptions{Logger: quietLogger()})
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	assert.Equal(t, build.OutcomeSuccess, report.Results[0].Outcome)

	failed := report.Failed()
	require.Len(t, failed, 1)
	var ufe *build.UnknownFieldError
	require.ErrorAs(t, failed[0].Err, &ufe)
	assert.Equal(t, "New_Col", ufe.Field)
}
