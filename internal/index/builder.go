// Package index builds in-memory cluster indices from delimited clustering
// snapshots. An index maps records to clusters and clusters to their
// members, plus an optional relationship table keyed by unordered cluster
// pairs. Indices are built once per input and never mutated afterward.
package index

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/entitykit/entity-audit/internal/types"
)

// PairKey identifies an unordered pair of cluster ids.
type PairKey string

// MakePairKey builds the canonical key for a cluster pair. Order of the
// arguments does not matter.
func MakePairKey(a, b string) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey(a + "|" + b)
}

// ClusterIndex is the record/cluster lookup built from one snapshot file.
// Invariant: every record key appears in exactly one cluster.
type ClusterIndex struct {
	// Source is the path of the input file the index was built from.
	Source string

	// Records maps a record key to the id of the cluster holding it.
	Records map[types.RecordKey]string

	// Clusters maps a cluster id to its members and their scores.
	Clusters map[string]map[types.RecordKey]string

	// Relationships maps an unordered cluster pair to the match key of a
	// disclosed relationship between them.
	Relationships map[PairKey]string

	// Duplicates counts rows dropped because their record key was already
	// assigned to a cluster.
	Duplicates int
}

// ClusterCount returns the number of clusters in the index.
func (ix *ClusterIndex) ClusterCount() int { return len(ix.Clusters) }

// RecordCount returns the number of records in the index.
func (ix *ClusterIndex) RecordCount() int { return len(ix.Records) }

// MultiClusterCount returns the number of clusters with more than one member.
func (ix *ClusterIndex) MultiClusterCount() int {
	n := 0
	for _, members := range ix.Clusters {
		if len(members) > 1 {
			n++
		}
	}
	return n
}

// PairCount returns the total number of unique member pairs across all
// multi-member clusters: the sum of n*(n-1)/2 per cluster. The result is a
// property of the index alone, independent of any traversal order.
func (ix *ClusterIndex) PairCount() int {
	n := 0
	for _, members := range ix.Clusters {
		k := len(members)
		n += k * (k - 1) / 2
	}
	return n
}

// Score returns the score recorded for a member of a cluster, or "" if the
// cluster or member is unknown.
func (ix *ClusterIndex) Score(clusterID string, key types.RecordKey) string {
	if members, ok := ix.Clusters[clusterID]; ok {
		return members[key]
	}
	return ""
}

// Build parses a delimited snapshot file into a ClusterIndex. The mapping
// may be nil, in which case a companion descriptor ("<path>.map") is used
// when present, and otherwise the header must match one of the recognized
// conventional schemas. The delimiter (comma, pipe, or tab) is sniffed from
// the header line.
func Build(path string, mapping *Mapping) (*ClusterIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.Configf(path, "cannot open input: %v", err)
	}
	defer f.Close()

	if mapping == nil {
		descPath := path + DescriptorExt
		if _, err := os.Stat(descPath); err == nil {
			mapping, err = LoadDescriptor(descPath)
			if err != nil {
				return nil, err
			}
		}
	}

	br := bufio.NewReader(f)
	headerLine, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading header of %s: %w", path, err)
	}
	if strings.TrimSpace(headerLine) == "" {
		return nil, types.Configf(path, "input has no header row")
	}

	delim := sniffDelimiter(headerLine)

	r := csv.NewReader(io.MultiReader(strings.NewReader(headerLine), br))
	r.Comma = delim
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, types.Configf(path, "cannot parse header row: %v", err)
	}

	if mapping == nil {
		mapping, err = detectMapping(path, header)
		if err != nil {
			return nil, err
		}
	}
	roles, err := mapping.resolve(path, header)
	if err != nil {
		return nil, err
	}

	ix := &ClusterIndex{
		Source:        path,
		Records:       make(map[types.RecordKey]string),
		Clusters:      make(map[string]map[types.RecordKey]string),
		Relationships: make(map[PairKey]string),
	}

	synthetic := 0
	line := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s line %d: %w", path, line+1, err)
		}
		line++

		field := func(i int) string {
			if i < 0 || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		clusterID := field(roles.cluster)
		score := field(roles.score)

		// Relationship rows bind two clusters to a match key; they carry no
		// membership of their own.
		if related := field(roles.related); related != "" && related != "0" {
			ix.Relationships[MakePairKey(clusterID, related)] = score
			continue
		}

		// A blank cluster id still represents a record; give it a synthetic
		// file-local cluster so it is never dropped.
		if clusterID == "" {
			synthetic++
			clusterID = fmt.Sprintf("~%d", synthetic)
		}

		source := roles.sourceValue
		if roles.source >= 0 {
			source = field(roles.source)
		}
		key := types.MakeRecordKey(source, field(roles.record))

		if _, seen := ix.Records[key]; seen {
			ix.Duplicates++
			continue
		}
		ix.Records[key] = clusterID

		members, ok := ix.Clusters[clusterID]
		if !ok {
			members = make(map[types.RecordKey]string)
			ix.Clusters[clusterID] = members
		}
		members[key] = score
	}

	return ix, nil
}

// BuildPair builds the prior and newer indices concurrently. Comparison
// only starts once both have been fully materialized, so the parallelism
// here never overlaps the single-threaded comparison pass.
func BuildPair(ctx context.Context, priorPath, newerPath string, priorMap, newerMap *Mapping) (prior, newer *ClusterIndex, err error) {
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		prior, err = Build(priorPath, priorMap)
		return err
	})
	g.Go(func() error {
		var err error
		newer, err = Build(newerPath, newerMap)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return prior, newer, nil
}

// sniffDelimiter picks the delimiter for a file from its header line:
// whichever of comma, pipe, or tab occurs most often, comma on ties.
func sniffDelimiter(header string) rune {
	commas := strings.Count(header, ",")
	pipes := strings.Count(header, "|")
	tabs := strings.Count(header, "\t")

	best := ','
	n := commas
	if pipes > n {
		best, n = '|', pipes
	}
	if tabs > n {
		best = '\t'
	}
	return best
}
