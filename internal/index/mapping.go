package index

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/entitykit/entity-audit/internal/types"
)

// Mapping assigns column roles to a delimited input. Either SourceField or
// SourceValue must be set: SourceField names the column holding the data
// source, SourceValue applies a fixed data source to every row.
type Mapping struct {
	ClusterField string `yaml:"clusterField"`
	RecordField  string `yaml:"recordField"`
	SourceField  string `yaml:"sourceField"`
	SourceValue  string `yaml:"sourceValue"`
	ScoreField   string `yaml:"scoreField"`
	RelatedField string `yaml:"relatedField"`
}

// DescriptorExt is the extension of a companion descriptor file. For an
// input "prior.csv" the builder looks for "prior.csv.map".
const DescriptorExt = ".map"

// LoadDescriptor reads a companion mapping descriptor. The descriptor is
// YAML, which also accepts the JSON form. A malformed document is a
// ParseError; a document missing required roles is a ConfigError.
func LoadDescriptor(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.Configf(path, "cannot read descriptor: %v", err)
	}

	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &types.ParseError{Input: path, Err: err}
	}

	if m.ClusterField == "" {
		return nil, types.Configf(path, "descriptor missing clusterField")
	}
	if m.RecordField == "" {
		return nil, types.Configf(path, "descriptor missing recordField")
	}
	if m.SourceField == "" && m.SourceValue == "" {
		return nil, types.Configf(path, "descriptor needs sourceField or sourceValue")
	}

	return &m, nil
}

// detectMapping matches the header against the two recognized conventional
// schemas: the snapshot export layout (RESOLVED_ENTITY_ID / DATA_SOURCE /
// RECORD_ID with optional MATCH_KEY and RELATED_ENTITY_ID) and the generic
// layout (CLUSTER_ID / RECORD_ID / DATA_SOURCE with optional SCORE).
// Header names are matched case-insensitively.
func detectMapping(input string, header []string) (*Mapping, error) {
	has := make(map[string]bool, len(header))
	for _, h := range header {
		has[strings.ToUpper(strings.TrimSpace(h))] = true
	}

	switch {
	case has["RESOLVED_ENTITY_ID"] && has["RECORD_ID"] && has["DATA_SOURCE"]:
		m := &Mapping{
			ClusterField: "RESOLVED_ENTITY_ID",
			RecordField:  "RECORD_ID",
			SourceField:  "DATA_SOURCE",
		}
		if has["MATCH_KEY"] {
			m.ScoreField = "MATCH_KEY"
		}
		if has["RELATED_ENTITY_ID"] {
			m.RelatedField = "RELATED_ENTITY_ID"
		}
		return m, nil

	case has["CLUSTER_ID"] && has["RECORD_ID"] && has["DATA_SOURCE"]:
		m := &Mapping{
			ClusterField: "CLUSTER_ID",
			RecordField:  "RECORD_ID",
			SourceField:  "DATA_SOURCE",
		}
		if has["SCORE"] {
			m.ScoreField = "SCORE"
		}
		return m, nil
	}

	return nil, types.Configf(input, "header matches no recognized schema and no descriptor was supplied (columns: %s)", strings.Join(header, ", "))
}

// columnRoles holds the resolved column indexes for one input file. An
// index of -1 means the role is unused.
type columnRoles struct {
	cluster     int
	record      int
	source      int // -1 when sourceValue applies
	sourceValue string
	score       int
	related     int
}

// resolve binds a mapping's field names to header positions. Required roles
// that cannot be found are a ConfigError.
func (m *Mapping) resolve(input string, header []string) (columnRoles, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToUpper(strings.TrimSpace(h))] = i
	}

	find := func(name string) int {
		if name == "" {
			return -1
		}
		if i, ok := pos[strings.ToUpper(name)]; ok {
			return i
		}
		return -2
	}

	roles := columnRoles{
		cluster:     find(m.ClusterField),
		record:      find(m.RecordField),
		source:      find(m.SourceField),
		sourceValue: m.SourceValue,
		score:       find(m.ScoreField),
		related:     find(m.RelatedField),
	}

	if roles.cluster < 0 {
		return roles, types.Configf(input, "cluster column %q not found in header", m.ClusterField)
	}
	if roles.record < 0 {
		return roles, types.Configf(input, "record column %q not found in header", m.RecordField)
	}
	if roles.source == -2 {
		return roles, types.Configf(input, "source column %q not found in header", m.SourceField)
	}
	if roles.source < 0 && roles.sourceValue == "" {
		return roles, types.Configf(input, "no source column and no fixed source value")
	}
	// Optional roles silently drop out when absent.
	if roles.score == -2 {
		roles.score = -1
	}
	if roles.related == -2 {
		roles.related = -1
	}

	return roles, nil
}
