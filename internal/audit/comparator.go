// Package audit implements the core comparison pass: one walk over the
// prior cluster index that classifies each prior cluster's fate in the
// newer index and emits audit events and counter updates along the way.
package audit

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/entitykit/entity-audit/internal/index"
	"github.com/entitykit/entity-audit/internal/stats"
	"github.com/entitykit/entity-audit/internal/types"
)

// RowSink consumes audit events. An event is atomic: the sink receives all
// rows of a classified prior cluster in one call, or none at all.
type RowSink interface {
	WriteEvent(rows []types.AuditRow) error
}

// MultiSink fans an event out to several sinks in order.
func MultiSink(sinks ...RowSink) RowSink { return multiSink(sinks) }

type multiSink []RowSink

func (m multiSink) WriteEvent(rows []types.AuditRow) error {
	for _, s := range m {
		if err := s.WriteEvent(rows); err != nil {
			return err
		}
	}
	return nil
}

// Comparator walks the prior index once and classifies every prior cluster
// against the newer index. It owns both indices exclusively for the run's
// duration; neither is mutated.
type Comparator struct {
	prior *index.ClusterIndex
	newer *index.ClusterIndex
	pack  *stats.StatPack
	sink  RowSink

	verbose  bool
	progress rate.Sometimes

	nextAuditID int
	processed   int
}

// New creates a comparator over two fully built indices. The per-side
// totals are stamped into the StatPack immediately; the common counters
// accrue during Run.
func New(prior, newer *index.ClusterIndex, pack *stats.StatPack, sink RowSink, verbose bool) *Comparator {
	pack.SetTotals(
		prior.ClusterCount(), newer.ClusterCount(),
		prior.MultiClusterCount(), newer.MultiClusterCount(),
		prior.PairCount(), newer.PairCount(),
		prior.RecordCount(), newer.RecordCount(),
	)
	return &Comparator{
		prior:       prior,
		newer:       newer,
		pack:        pack,
		sink:        sink,
		verbose:     verbose,
		progress:    rate.Sometimes{Interval: 2 * time.Second},
		nextAuditID: 1,
	}
}

// Run performs the comparison pass. Prior clusters are visited in sorted id
// order so repeated runs over the same inputs are byte-identical.
// Cancellation is cooperative: the context is checked at each prior-cluster
// boundary, and an event is never left half-written.
func (c *Comparator) Run(ctx context.Context) error {
	ids := make([]string, 0, len(c.prior.Clusters))
	for id := range c.prior.Clusters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, priorID := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.compareCluster(priorID); err != nil {
			return err
		}
		c.processed++
		if c.verbose {
			c.progress.Do(func() {
				fmt.Fprintf(os.Stderr, "audited %d of %d prior clusters\n", c.processed, len(ids))
			})
		}
	}
	return nil
}

// compareCluster classifies one prior cluster and emits its audit event, if
// any.
func (c *Comparator) compareCluster(priorID string) error {
	members := c.prior.Clusters[priorID]

	memberKeys := make([]types.RecordKey, 0, len(members))
	for k := range members {
		memberKeys = append(memberKeys, k)
	}
	sort.Slice(memberKeys, func(i, j int) bool { return memberKeys[i] < memberKeys[j] })

	// Resolve every member against the newer index and histogram the newer
	// clusters reached. A member absent from the newer side is a data
	// condition, not an error.
	overlap := make(map[string][]types.RecordKey)
	var missing []types.RecordKey
	for _, k := range memberKeys {
		newerID, ok := c.newer.Records[k]
		if !ok {
			missing = append(missing, k)
			continue
		}
		overlap[newerID] = append(overlap[newerID], k)
	}

	newerIDs := make([]string, 0, len(overlap))
	for id := range overlap {
		newerIDs = append(newerIDs, id)
	}
	sort.Strings(newerIDs)

	// Unchanged membership: all members resolved into a single newer
	// cluster of exactly the same size. No rows are emitted.
	if len(missing) == 0 && len(newerIDs) == 1 {
		if len(c.newer.Clusters[newerIDs[0]]) == len(members) {
			c.pack.RecordSame(len(members))
			return nil
		}
	}

	resolvedNewerTotal := 0
	for _, nid := range newerIDs {
		resolvedNewerTotal += len(c.newer.Clusters[nid])
	}

	flagMissing := len(missing) > 0
	flagSplit := len(newerIDs) > 1
	flagMerge := resolvedNewerTotal > len(members)
	category := types.Category(flagMissing, flagSplit, flagMerge)

	// Retained group: the newer cluster with the largest member overlap.
	// newerIDs is sorted and the comparison strict, so ties go to the
	// lowest id.
	retained := ""
	for _, nid := range newerIDs {
		if retained == "" || len(overlap[nid]) > len(overlap[retained]) {
			retained = nid
		}
	}

	// A cluster whose only change is being merged away is credited by the
	// newer cluster's largest contributor; every other contributor defers
	// and emits nothing, so the merge is never double-counted.
	if flagMerge && !flagMissing && !flagSplit && !c.isLargestContributor(priorID, retained, len(overlap[retained])) {
		return nil
	}

	auditID := c.nextAuditID
	c.nextAuditID++

	rows := make([]types.AuditRow, 0, len(members))
	row := func(key types.RecordKey, status types.Status, newerID, newerScore string) types.AuditRow {
		ds, rec := key.Split()
		r := types.AuditRow{
			AuditID:        auditID,
			Category:       category,
			Status:         status,
			DataSource:     ds,
			RecordID:       rec,
			NewerClusterID: newerID,
			NewerScore:     newerScore,
		}
		if pid, ok := c.prior.Records[key]; ok {
			r.PriorClusterID = pid
			r.PriorScore = c.prior.Score(pid, key)
		}
		return r
	}

	for _, k := range missing {
		rows = append(rows, row(k, types.StatusMissing, "", ""))
	}

	// Distinct scores seen in the retained group, used to backfill blank
	// new-positive scores when exactly one candidate exists.
	retainedScores := make(map[string]struct{})
	for _, k := range overlap[retained] {
		if s := c.newer.Score(retained, k); s != "" {
			retainedScores[s] = struct{}{}
		}
	}
	backfill := ""
	if len(retainedScores) == 1 {
		for s := range retainedScores {
			backfill = s
		}
	}

	for _, k := range overlap[retained] {
		rows = append(rows, row(k, types.StatusSame, retained, c.newer.Score(retained, k)))
	}

	// Members split off to other newer clusters leave the retained group.
	// A disclosed relationship between the retained cluster and the
	// member's destination annotates the row when the member itself has no
	// score.
	for _, nid := range newerIDs {
		if nid == retained {
			continue
		}
		for _, k := range overlap[nid] {
			score := c.newer.Score(nid, k)
			if score == "" {
				if rel, ok := c.newer.Relationships[index.MakePairKey(retained, nid)]; ok {
					score = rel
				}
			}
			rows = append(rows, row(k, types.StatusNewNegative, nid, score))
		}
	}

	// Merged-in records: members of a touched newer cluster that were not
	// in this prior cluster. Emitted only when this prior cluster is the
	// elected (largest) contributor to that newer cluster.
	for _, nid := range newerIDs {
		if !c.isLargestContributor(priorID, nid, len(overlap[nid])) {
			continue
		}
		foreign := c.foreignMembers(nid, members)
		if len(foreign) == 0 {
			continue
		}
		for _, k := range foreign {
			score := c.newer.Score(nid, k)
			if score == "" {
				score = backfill
			}
			rows = append(rows, row(k, types.StatusNewPositive, nid, score))
		}
		c.pack.RecordMergeCredit()
	}

	c.pack.RecordEvent(category, auditID, len(overlap[retained]), len(missing))

	if err := c.sink.WriteEvent(rows); err != nil {
		return fmt.Errorf("writing audit event %d: %w", auditID, err)
	}
	return nil
}

// isLargestContributor reports whether priorID contributes more members to
// the newer cluster than any other prior cluster. Ties go to the lowest
// prior cluster id, so exactly one contributor is elected per newer
// cluster.
func (c *Comparator) isLargestContributor(priorID, newerID string, mine int) bool {
	contrib := make(map[string]int)
	for k := range c.newer.Clusters[newerID] {
		if pid, ok := c.prior.Records[k]; ok {
			contrib[pid]++
		}
	}
	for pid, n := range contrib {
		if pid == priorID {
			continue
		}
		if n > mine || (n == mine && pid < priorID) {
			return false
		}
	}
	return true
}

// foreignMembers returns the members of a newer cluster absent from the
// prior cluster, in sorted order.
func (c *Comparator) foreignMembers(newerID string, priorMembers map[types.RecordKey]string) []types.RecordKey {
	var foreign []types.RecordKey
	for k := range c.newer.Clusters[newerID] {
		if _, ok := priorMembers[k]; !ok {
			foreign = append(foreign, k)
		}
	}
	sort.Slice(foreign, func(i, j int) bool { return foreign[i] < foreign[j] })
	return foreign
}
