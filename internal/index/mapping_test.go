package index

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entitykit/entity-audit/internal/types"
)

func TestDetectMappingSnapshotSchema(t *testing.T) {
	header := []string{"RESOLVED_ENTITY_ID", "RELATED_ENTITY_ID", "MATCH_LEVEL", "MATCH_KEY", "DATA_SOURCE", "RECORD_ID"}
	m, err := detectMapping("test.csv", header)
	require.NoError(t, err)

	assert.Equal(t, "RESOLVED_ENTITY_ID", m.ClusterField)
	assert.Equal(t, "RECORD_ID", m.RecordField)
	assert.Equal(t, "DATA_SOURCE", m.SourceField)
	assert.Equal(t, "MATCH_KEY", m.ScoreField)
	assert.Equal(t, "RELATED_ENTITY_ID", m.RelatedField)
}

func TestDetectMappingGenericSchema(t *testing.T) {
	m, err := detectMapping("test.csv", []string{"cluster_id", "record_id", "data_source", "score"})
	require.NoError(t, err)

	assert.Equal(t, "CLUSTER_ID", m.ClusterField)
	assert.Equal(t, "SCORE", m.ScoreField)
	assert.Empty(t, m.RelatedField)
}

func TestDetectMappingUnknownSchema(t *testing.T) {
	_, err := detectMapping("test.csv", []string{"id", "name", "value"})
	require.Error(t, err)

	var configErr *types.ConfigError
	assert.True(t, errors.As(err, &configErr), "expected ConfigError, got %T", err)
}

func TestLoadDescriptorYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.csv.map")
	require.NoError(t, os.WriteFile(path, []byte(`
clusterField: groupId
recordField: memberId
sourceValue: VENDORS
scoreField: matchKey
`), 0644))

	m, err := LoadDescriptor(path)
	require.NoError(t, err)
	assert.Equal(t, "groupId", m.ClusterField)
	assert.Equal(t, "memberId", m.RecordField)
	assert.Equal(t, "VENDORS", m.SourceValue)
	assert.Equal(t, "matchKey", m.ScoreField)
}

func TestLoadDescriptorJSONForm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.csv.map")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"clusterField": "cid", "recordField": "rid", "sourceField": "src"}`), 0644))

	m, err := LoadDescriptor(path)
	require.NoError(t, err)
	assert.Equal(t, "cid", m.ClusterField)
	assert.Equal(t, "src", m.SourceField)
}

func TestLoadDescriptorMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.map")
	require.NoError(t, os.WriteFile(path, []byte("clusterField: [unterminated"), 0644))

	_, err := LoadDescriptor(path)
	require.Error(t, err)

	var parseErr *types.ParseError
	assert.True(t, errors.As(err, &parseErr), "expected ParseError, got %T", err)
}

func TestLoadDescriptorMissingRoles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.map")
	require.NoError(t, os.WriteFile(path, []byte("clusterField: cid\nrecordField: rid\n"), 0644))

	_, err := LoadDescriptor(path)
	require.Error(t, err)

	var configErr *types.ConfigError
	require.True(t, errors.As(err, &configErr))
	assert.Contains(t, configErr.Reason, "sourceField or sourceValue")
}

func TestResolveMissingRequiredColumn(t *testing.T) {
	m := &Mapping{ClusterField: "CID", RecordField: "RID", SourceField: "SRC"}
	_, err := m.resolve("test.csv", []string{"CID", "SRC"})
	require.Error(t, err)

	var configErr *types.ConfigError
	require.True(t, errors.As(err, &configErr))
	assert.Contains(t, configErr.Reason, `"RID"`)
}

func TestResolveOptionalColumnsDropOut(t *testing.T) {
	m := &Mapping{ClusterField: "CID", RecordField: "RID", SourceValue: "FIXED", ScoreField: "SCORE"}
	roles, err := m.resolve("test.csv", []string{"CID", "RID"})
	require.NoError(t, err)
	assert.Equal(t, -1, roles.score)
	assert.Equal(t, -1, roles.related)
	assert.Equal(t, "FIXED", roles.sourceValue)
}
