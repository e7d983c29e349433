// Package stats accumulates the audit run's counters and derives the final
// precision/recall/F1 metrics. A StatPack is mutated incrementally while
// the comparator runs and finalized exactly once at completion.
package stats

import (
	"math"
	"math/rand/v2"

	"github.com/google/uuid"
)

// RunStatus marks how the run ended.
type RunStatus string

const (
	// StatusCompleted means the prior index was exhausted.
	StatusCompleted RunStatus = "completed"
	// StatusAborted means the run was cancelled at a cluster boundary; the
	// counters cover only the clusters processed before the interrupt.
	StatusAborted RunStatus = "aborted"
)

// SampleCapacity bounds the number of audit ids kept per audit category.
const SampleCapacity = 100

// Fixed PCG seeds for reservoir sampling. Sampling must be uniform but the
// whole document has to be byte-identical across re-runs, so the stream is
// pinned.
const (
	sampleSeedLo = 0x5eed5eed5eed5eed
	sampleSeedHi = 0x0a0d17ab1ed0c0de
)

// Metrics is one precision/recall family over cluster-level counts.
type Metrics struct {
	PriorCount  int     `json:"prior_count"`
	NewerCount  int     `json:"newer_count"`
	CommonCount int     `json:"common_count"`
	Precision   float64 `json:"precision"`
	Recall      float64 `json:"recall"`
	F1          float64 `json:"f1"`
}

// PairMetrics is a precision/recall family over pairwise or per-row counts,
// where the positive/negative components are derived from the totals.
type PairMetrics struct {
	PriorCount   int     `json:"prior_count"`
	NewerCount   int     `json:"newer_count"`
	CommonCount  int     `json:"common_count"`
	SamePositive int     `json:"same_positive"`
	NewPositive  int     `json:"new_positive"`
	NewNegative  int     `json:"new_negative"`
	Precision    float64 `json:"precision"`
	Recall       float64 `json:"recall"`
	F1           float64 `json:"f1"`
}

// CategoryStats counts the audit events of one category and keeps a bounded
// uniform sample of their audit ids.
type CategoryStats struct {
	Count  int   `json:"count"`
	Sample []int `json:"sample"`
}

// StatPack is the statistics document for one audit run.
type StatPack struct {
	RunID              string                    `json:"run_id"`
	Status             RunStatus                 `json:"status"`
	PriorSource        string                    `json:"prior_source"`
	NewerSource        string                    `json:"newer_source"`
	Entity             Metrics                   `json:"entity"`
	Clusters           Metrics                   `json:"clusters"`
	Pairs              PairMetrics               `json:"pairs"`
	Records            PairMetrics               `json:"records"`
	MissingRecordCount int                       `json:"missing_record_count"`
	Audit              map[string]*CategoryStats `json:"audit"`

	rng *rand.Rand
}

// New creates a StatPack for a run over the two named inputs. The run id is
// a deterministic fingerprint of the input paths (version 5 UUID), so
// re-running the same comparison yields the same id.
func New(priorSource, newerSource string) *StatPack {
	return &StatPack{
		RunID:       uuid.NewSHA1(uuid.NameSpaceOID, []byte(priorSource+"\x00"+newerSource)).String(),
		Status:      StatusCompleted,
		PriorSource: priorSource,
		NewerSource: newerSource,
		Audit:       make(map[string]*CategoryStats),
		rng:         rand.New(rand.NewPCG(sampleSeedLo, sampleSeedHi)),
	}
}

// SetTotals records the per-side totals known once both indices are built:
// cluster counts, multi-member cluster counts, pair counts, and record
// counts for the prior and newer generations.
func (p *StatPack) SetTotals(priorClusters, newerClusters, priorMulti, newerMulti, priorPairs, newerPairs, priorRecords, newerRecords int) {
	p.Entity.PriorCount = priorClusters
	p.Entity.NewerCount = newerClusters
	p.Clusters.PriorCount = priorMulti
	p.Clusters.NewerCount = newerMulti
	p.Pairs.PriorCount = priorPairs
	p.Pairs.NewerCount = newerPairs
	p.Records.PriorCount = priorRecords
	p.Records.NewerCount = newerRecords
}

// RecordSame credits a prior cluster whose membership is unchanged in the
// newer generation. No audit rows exist for it; only the common counters
// move.
func (p *StatPack) RecordSame(size int) {
	p.Entity.CommonCount++
	if size > 1 {
		p.Clusters.CommonCount++
	}
	p.Pairs.CommonCount += size * (size - 1) / 2
	p.Records.CommonCount += size
}

// RecordMergeCredit credits one merge event: a newer cluster that absorbed
// records from more than one prior cluster, counted once by the elected
// contributor.
func (p *StatPack) RecordMergeCredit() {
	p.Clusters.CommonCount++
}

// RecordEvent accumulates the counters for one classified (non-same) audit
// event: retained is the overlap with the retained newer group, missing the
// number of unresolved members.
func (p *StatPack) RecordEvent(category string, auditID, retained, missing int) {
	p.Pairs.CommonCount += retained * (retained - 1) / 2
	p.Records.CommonCount += retained
	p.MissingRecordCount += missing

	cs, ok := p.Audit[category]
	if !ok {
		cs = &CategoryStats{}
		p.Audit[category] = cs
	}
	cs.Count++
	p.sample(cs, auditID)
}

// sample maintains a bounded uniform reservoir (Algorithm R) of audit ids
// for one category.
func (p *StatPack) sample(cs *CategoryStats, auditID int) {
	if len(cs.Sample) < SampleCapacity {
		cs.Sample = append(cs.Sample, auditID)
		return
	}
	if j := p.rng.IntN(cs.Count); j < SampleCapacity {
		cs.Sample[j] = auditID
	}
}

// Finalize computes the derived ratios and stamps the run status. Called
// exactly once, when the comparator finishes or is cancelled.
func (p *StatPack) Finalize(status RunStatus) {
	p.Status = status

	finishMetrics(&p.Entity)
	finishMetrics(&p.Clusters)
	finishPairMetrics(&p.Pairs)
	finishPairMetrics(&p.Records)
}

func finishMetrics(m *Metrics) {
	precision := safeRatio(m.CommonCount, m.NewerCount)
	recall := safeRatio(m.CommonCount, m.PriorCount)
	m.Precision = round5(precision)
	m.Recall = round5(recall)
	m.F1 = round5(f1(precision, recall))
}

func finishPairMetrics(m *PairMetrics) {
	m.SamePositive = m.CommonCount
	m.NewPositive = max(m.NewerCount-m.CommonCount, 0)
	m.NewNegative = max(m.PriorCount-m.CommonCount, 0)

	precision := safeRatio(m.SamePositive, m.SamePositive+m.NewPositive)
	recall := safeRatio(m.SamePositive, m.SamePositive+m.NewNegative)
	m.Precision = round5(precision)
	m.Recall = round5(recall)
	m.F1 = round5(f1(precision, recall))
}

// safeRatio divides without faulting: a zero denominator yields 0.
func safeRatio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func f1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// round5 rounds to five decimal places, the precision the statistics
// document reports.
func round5(x float64) float64 {
	return math.Round(x*1e5) / 1e5
}
