package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entitykit/entity-audit/internal/types"
)

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestBuildGenericSchema(t *testing.T) {
	path := writeInput(t, "prior.csv",
		"CLUSTER_ID,RECORD_ID,DATA_SOURCE,SCORE\n"+
			"1,1001,CUSTOMERS,+NAME+DOB\n"+
			"1,1002,CUSTOMERS,+NAME+ADDRESS\n"+
			"2,2001,VENDORS,\n")

	ix, err := Build(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, ix.ClusterCount())
	assert.Equal(t, 3, ix.RecordCount())
	assert.Equal(t, 1, ix.MultiClusterCount())
	assert.Equal(t, 1, ix.PairCount())

	key := types.MakeRecordKey("CUSTOMERS", "1001")
	assert.Equal(t, "1", ix.Records[key])
	assert.Equal(t, "+NAME+DOB", ix.Score("1", key))
	assert.Equal(t, "2", ix.Records[types.MakeRecordKey("VENDORS", "2001")])
}

func TestBuildSniffsPipeDelimiter(t *testing.T) {
	path := writeInput(t, "prior.txt",
		"CLUSTER_ID|RECORD_ID|DATA_SOURCE\n"+
			"1|1001|CUSTOMERS\n"+
			"1|1002|CUSTOMERS\n")

	ix, err := Build(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, ix.ClusterCount())
	assert.Equal(t, 2, ix.RecordCount())
}

func TestBuildSniffsTabDelimiter(t *testing.T) {
	path := writeInput(t, "prior.tsv",
		"CLUSTER_ID\tRECORD_ID\tDATA_SOURCE\n"+
			"1\t1001\tCUSTOMERS\n")

	ix, err := Build(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, ix.RecordCount())
}

func TestBuildSnapshotSchemaRelationships(t *testing.T) {
	path := writeInput(t, "snap.csv",
		"RESOLVED_ENTITY_ID,RELATED_ENTITY_ID,MATCH_LEVEL,MATCH_KEY,DATA_SOURCE,RECORD_ID\n"+
			"1,0,1,+NAME+DOB,CUSTOMERS,1001\n"+
			"1,0,1,+NAME,CUSTOMERS,1002\n"+
			"1,5,2,+NAME+ADDRESS,CUSTOMERS,1005\n"+
			"5,0,1,,CUSTOMERS,5001\n")

	ix, err := Build(path, nil)
	require.NoError(t, err)

	// The related row binds clusters 1 and 5 but adds no member.
	assert.Equal(t, 3, ix.RecordCount())
	require.Len(t, ix.Relationships, 1)
	assert.Equal(t, "+NAME+ADDRESS", ix.Relationships[MakePairKey("1", "5")])
	assert.Equal(t, "+NAME+ADDRESS", ix.Relationships[MakePairKey("5", "1")])
}

func TestBuildSyntheticClusterIDs(t *testing.T) {
	path := writeInput(t, "prior.csv",
		"CLUSTER_ID,RECORD_ID,DATA_SOURCE\n"+
			",1001,CUSTOMERS\n"+
			",1002,CUSTOMERS\n"+
			"9,1003,CUSTOMERS\n")

	ix, err := Build(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, ix.ClusterCount())
	assert.Equal(t, "~1", ix.Records[types.MakeRecordKey("CUSTOMERS", "1001")])
	assert.Equal(t, "~2", ix.Records[types.MakeRecordKey("CUSTOMERS", "1002")])
}

func TestBuildSingleAssignment(t *testing.T) {
	path := writeInput(t, "prior.csv",
		"CLUSTER_ID,RECORD_ID,DATA_SOURCE\n"+
			"1,1001,CUSTOMERS\n"+
			"2,1001,CUSTOMERS\n")

	ix, err := Build(path, nil)
	require.NoError(t, err)

	// Later assignments for an already-seen record are dropped and counted.
	assert.Equal(t, 1, ix.RecordCount())
	assert.Equal(t, "1", ix.Records[types.MakeRecordKey("CUSTOMERS", "1001")])
	assert.Equal(t, 1, ix.Duplicates)
}

func TestBuildCompanionDescriptor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export.csv")
	require.NoError(t, os.WriteFile(path,
		[]byte("group,member\ng1,m1\ng1,m2\n"), 0644))
	require.NoError(t, os.WriteFile(path+DescriptorExt,
		[]byte(`{"clusterField": "group", "recordField": "member", "sourceValue": "LEGACY"}`), 0644))

	ix, err := Build(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, ix.ClusterCount())
	assert.Equal(t, "g1", ix.Records[types.MakeRecordKey("LEGACY", "m1")])
}

func TestBuildMissingFile(t *testing.T) {
	_, err := Build(filepath.Join(t.TempDir(), "absent.csv"), nil)
	require.Error(t, err)

	var configErr *types.ConfigError
	assert.ErrorAs(t, err, &configErr)
}

func TestBuildEmptyFile(t *testing.T) {
	path := writeInput(t, "empty.csv", "")
	_, err := Build(path, nil)
	require.Error(t, err)

	var configErr *types.ConfigError
	assert.ErrorAs(t, err, &configErr)
}

func TestBuildPair(t *testing.T) {
	prior := writeInput(t, "prior.csv", "CLUSTER_ID,RECORD_ID,DATA_SOURCE\n1,1001,A\n")
	newer := writeInput(t, "newer.csv", "CLUSTER_ID,RECORD_ID,DATA_SOURCE\n1,1001,A\n1,1002,A\n")

	p, n, err := BuildPair(context.Background(), prior, newer, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, p.RecordCount())
	assert.Equal(t, 2, n.RecordCount())
}

func TestBuildPairPropagatesError(t *testing.T) {
	prior := writeInput(t, "prior.csv", "CLUSTER_ID,RECORD_ID,DATA_SOURCE\n1,1001,A\n")

	_, _, err := BuildPair(context.Background(), prior, filepath.Join(t.TempDir(), "absent.csv"), nil, nil)
	require.Error(t, err)
}

func TestSniffDelimiter(t *testing.T) {
	cases := []struct {
		header string
		want   rune
	}{
		{"a,b,c", ','},
		{"a|b|c", '|'},
		{"a\tb\tc", '\t'},
		{"a,b|c", ','}, // tie goes to comma
		{"plain", ','},
	}
	for _, tc := range cases {
		if got := sniffDelimiter(tc.header); got != tc.want {
			t.Errorf("sniffDelimiter(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}
