package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExtract(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadExtract(t *testing.T) {
	t.Run("csv", func(t *testing.T) {
		path := writeExtract(t, "rows.csv", "SID_Num,CmtmtLast_Nm\n123,Doe\n")
		records, err := readExtract(path)
		require.NoError(t, err)
		require.Len(t, records, 1)
		v, _ := records[0].Get("SID_Num")
		assert.Equal(t, "123", v)
	})

	t.Run("jsonl", func(t *testing.T) {
		path := writeExtract(t, "rows.jsonl", `{"SID_Num":"123"}`+"\n")
		records, err := readExtract(path)
		require.NoError(t, err)
		require.Len(t, records, 1)
	})

	t.Run("json requires selector", func(t *testing.T) {
		path := writeExtract(t, "rows.json", `{"rows":[{"SID_Num":"123"}]}`)
		jsonPath = ""
		_, err := readExtract(path)
		require.Error(t, err)

		jsonPath = "$.rows[*]"
		defer func() { jsonPath = "" }()
		records, err := readExtract(path)
		require.NoError(t, err)
		require.Len(t, records, 1)
	})

	t.Run("unknown extension", func(t *testing.T) {
		path := writeExtract(t, "rows.parquet", "")
		_, err := readExtract(path)
		require.Error(t, err)
	})
}
