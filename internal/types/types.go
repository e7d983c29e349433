// Package types defines the shared data model for the cluster-resolution
// audit engine: cluster records, audit rows, classification statuses and
// flags, and the error taxonomy.
package types

import "strings"

// recordKeySep separates the data source from the raw record id inside a
// RecordKey. Source names in practice are alphanumeric identifiers, so the
// pipe never collides.
const recordKeySep = "|"

// RecordKey uniquely identifies a record across data sources. Raw record ids
// are only unique within a source, so the key is the source name joined with
// the raw id.
type RecordKey string

// MakeRecordKey builds the composite key for a record.
func MakeRecordKey(dataSource, recordID string) RecordKey {
	return RecordKey(dataSource + recordKeySep + recordID)
}

// Split returns the data source and raw record id components of the key.
func (k RecordKey) Split() (dataSource, recordID string) {
	s := string(k)
	if i := strings.Index(s, recordKeySep); i >= 0 {
		return s[:i], s[i+1:]
	}
	return "", s
}

// ClusterRecord is one membership row parsed from a clustering snapshot:
// a record assigned to a cluster, optionally carrying the score or match
// key that explains the assignment.
type ClusterRecord struct {
	ClusterID string    `json:"cluster_id"`
	RecordID  RecordKey `json:"record_id"`
	Score     string    `json:"score,omitempty"`
}

// Status describes how a single record's cluster membership changed between
// the prior and newer generations.
type Status string

const (
	// StatusSame means the record stayed with the retained group.
	StatusSame Status = "same"
	// StatusNewPositive means the record joined the newer cluster from elsewhere.
	StatusNewPositive Status = "new positive"
	// StatusNewNegative means the record left the prior cluster for another.
	StatusNewNegative Status = "new negative"
	// StatusMissing means the record exists in the prior index but not the newer.
	StatusMissing Status = "missing"
)

// IsValid checks if the status value is one of the recognized constants.
func (s Status) IsValid() bool {
	switch s {
	case StatusSame, StatusNewPositive, StatusNewNegative, StatusMissing:
		return true
	}
	return false
}

// Classification flags. A prior cluster's audit category is the ordered
// concatenation of the flags that apply to it.
const (
	FlagMissing = "MISSING"
	FlagSplit   = "SPLIT"
	FlagMerge   = "MERGE"

	// CategoryUnknown is assigned when a cluster changed but none of the
	// flags apply.
	CategoryUnknown = "UNKNOWN"
)

// Category builds the audit category string from the three classification
// flags. Flag order is fixed so equal classifications always produce equal
// category strings.
func Category(missing, split, merge bool) string {
	var flags []string
	if missing {
		flags = append(flags, FlagMissing)
	}
	if split {
		flags = append(flags, FlagSplit)
	}
	if merge {
		flags = append(flags, FlagMerge)
	}
	if len(flags) == 0 {
		return CategoryUnknown
	}
	return strings.Join(flags, "+")
}

// AuditRow is one record-level line of the audit trail. Rows are grouped
// into events by AuditID: every member row of a classified prior cluster is
// written under the same id. Rows are never mutated after creation.
type AuditRow struct {
	AuditID        int    `json:"audit_id"`
	Category       string `json:"category"`
	Status         Status `json:"status"`
	DataSource     string `json:"data_source"`
	RecordID       string `json:"record_id"`
	PriorClusterID string `json:"prior_cluster_id"`
	PriorScore     string `json:"prior_score,omitempty"`
	NewerClusterID string `json:"newer_cluster_id"`
	NewerScore     string `json:"newer_score,omitempty"`
}
