package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Run("full document", func(t *testing.T) {
		spec, err := Decode([]byte(`
key_mappings:
  SID_Num: Person.id
  CmtmtLast_Nm: Person.surname
child_key_mappings:
  Race_Id: PersonRace.race
primary_key:
  SID_Num: Person.id
enforced_ancestor_types:
  Sentence: SupervisionSentence
keys_to_ignore:
  Row_Ts: vendor audit timestamp
`))
		require.NoError(t, err)
		assert.Equal(t, "Person.id", spec.KeyMappings["SID_Num"])
		assert.Equal(t, "PersonRace.race", spec.ChildKeyMappings["Race_Id"])
		assert.Equal(t, "SupervisionSentence", spec.EnforcedAncestorTypes["Sentence"])
		assert.Equal(t, "vendor audit timestamp", spec.KeysToIgnore["Row_Ts"])
	})

	t.Run("ignore set as sequence", func(t *testing.T) {
		spec, err := Decode([]byte(`
key_mappings:
  SID_Num: Person.id
keys_to_ignore:
  - Row_Ts
  - Op_Cd
`))
		require.NoError(t, err)
		assert.True(t, spec.KeysToIgnore.Contains("Row_Ts"))
		assert.True(t, spec.KeysToIgnore.Contains("Op_Cd"))
		assert.Empty(t, spec.KeysToIgnore["Row_Ts"])
	})

	t.Run("unknown top-level key rejected", func(t *testing.T) {
		_, err := Decode([]byte(`
key_mapings:
  SID_Num: Person.id
`))
		require.Error(t, err)
	})

	t.Run("empty document rejected", func(t *testing.T) {
		_, err := Decode([]byte(""))
		require.Error(t, err)
	})
}

func TestBucketOf(t *testing.T) {
	spec := &Spec{
		KeyMappings:      map[string]string{"SID_Num": "Person.id"},
		ChildKeyMappings: map[string]string{"Race_Id": "PersonRace.race"},
		PrimaryKey:       map[string]string{"SID_Num": "Person.id", "Cyc_No": "SentenceGroup.group_id"},
		KeysToIgnore:     IgnoreSet{"Row_Ts": "audit"},
	}

	assert.Equal(t, BucketKey, spec.BucketOf("SID_Num"))
	assert.Equal(t, BucketChildKey, spec.BucketOf("Race_Id"))
	assert.Equal(t, BucketIgnored, spec.BucketOf("Row_Ts"))
	assert.Equal(t, BucketPrimaryKey, spec.BucketOf("Cyc_No"))
	assert.Equal(t, BucketNone, spec.BucketOf("Height_In"))

	assert.True(t, spec.Covered("Cyc_No"))
	assert.False(t, spec.Covered("Height_In"))
}

func TestParseDestination(t *testing.T) {
	entityType, attr, err := ParseDestination("Person.surname")
	require.NoError(t, err)
	assert.Equal(t, "Person", entityType)
	assert.Equal(t, "surname", attr)

	_, _, err = ParseDestination("Person")
	require.Error(t, err)

	_, _, err = ParseDestination(".surname")
	require.Error(t, err)

	_, _, err = ParseDestination("Person.")
	require.Error(t, err)
}
