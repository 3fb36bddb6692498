package build

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/openjustice/entitygraph/internal/entity"
	"github.com/openjustice/entitygraph/internal/mapping"
	"github.com/openjustice/entitygraph/internal/schema"
)

// Outcome classifies how one top-level key's build ended.
type Outcome string

const (
	OutcomeSuccess              Outcome = "success"
	OutcomeSuccessWithConflicts Outcome = "success_with_conflicts"
	OutcomeFailed               Outcome = "failed"
)

// KeyResult is the build result for one top-level primary key. A failed key
// carries its error; it never aborts the rest of the batch.
type KeyResult struct {
	Key        string
	Outcome    Outcome
	Graph      *entity.Graph
	Records    int
	Conflicts  []entity.MergeConflict
	Collisions []*entity.DuplicateIdentityError
	Err        error
}

// BatchReport is the outcome of running a whole extract through one source's
// spec, keyed result per top-level entity in first-seen order.
type BatchReport struct {
	Source       string
	TopLevelType string
	Results      []KeyResult
}

// Failed returns the results that did not produce a usable graph.
func (r *BatchReport) Failed() []KeyResult {
	var failed []KeyResult
	for _, kr := range r.Results {
		if kr.Outcome == OutcomeFailed {
			failed = append(failed, kr)
		}
	}
	return failed
}

// Graphs returns the successfully built graphs in result order.
func (r *BatchReport) Graphs() []*entity.Graph {
	var graphs []*entity.Graph
	for _, kr := range r.Results {
		if kr.Outcome != OutcomeFailed {
			graphs = append(graphs, kr.Graph)
		}
	}
	return graphs
}

// BatchOptions tunes a batch run. The zero value picks sensible defaults.
type BatchOptions struct {
	// Workers bounds concurrent per-key builds. Defaults to GOMAXPROCS.
	Workers int
	// Logger receives per-key progress. Defaults to slog.Default().
	Logger *slog.Logger
}

// RunBatch partitions records by the source's top-level primary key and
// builds each key's graph independently, in parallel. Keys never share
// mutable state, so a record failure poisons only its own key. Spec-level
// problems are returned directly: a broken spec fails the whole batch
// before any record is touched.
func RunBatch(ctx context.Context, g *schema.Graph, spec *mapping.Spec, records []Record, opts BatchOptions) (*BatchReport, error) {
	plans, err := compile(g, spec)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	// Partition in first-seen key order so the report is deterministic for
	// a given extract. Rows missing the key field group under "" and fail
	// together at Finalize.
	byKey := make(map[string][]Record)
	var keys []string
	for _, rec := range records {
		key, _ := rec.Get(plans.topKeyField)
		if _, seen := byKey[key]; !seen {
			keys = append(keys, key)
		}
		byKey[key] = append(byKey[key], rec)
	}

	logger.Info("starting batch",
		"source", spec.Source,
		"top_level_type", plans.top,
		"records", len(records),
		"keys", len(keys),
		"workers", workers)

	results := make([]KeyResult, len(keys))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, key := range keys {
		i, key := i, key
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = KeyResult{Key: key, Outcome: OutcomeFailed, Err: err}
				return nil
			}
			results[i] = buildKey(g, spec, plans, key, byKey[key])
			logKeyResult(logger, results[i])
			return nil
		})
	}
	// Workers report per-key failures through their slot, never through the
	// group error.
	_ = eg.Wait()

	return &BatchReport{Source: spec.Source, TopLevelType: plans.top, Results: results}, nil
}

func buildKey(g *schema.Graph, spec *mapping.Spec, plans *planSet, key string, recs []Record) KeyResult {
	graph := entity.NewGraph()
	b := newBuilder(g, spec, graph, plans)
	res := KeyResult{Key: key, Graph: graph}
	for _, rec := range recs {
		ir, err := b.Ingest(rec)
		if err != nil {
			res.Outcome = OutcomeFailed
			res.Err = err
			return res
		}
		res.Records++
		res.Conflicts = append(res.Conflicts, ir.Conflicts...)
		res.Collisions = append(res.Collisions, ir.Collisions...)
	}
	if err := b.Finalize(); err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}
	if len(res.Conflicts) > 0 {
		res.Outcome = OutcomeSuccessWithConflicts
	} else {
		res.Outcome = OutcomeSuccess
	}
	return res
}

func logKeyResult(logger *slog.Logger, kr KeyResult) {
	switch kr.Outcome {
	case OutcomeFailed:
		logger.Warn("top-level build failed", "key", kr.Key, "records", kr.Records, "err", kr.Err)
	case OutcomeSuccessWithConflicts:
		logger.Info("top-level build finished with conflicts",
			"key", kr.Key, "records", kr.Records, "conflicts", len(kr.Conflicts))
	default:
		logger.Debug("top-level build finished", "key", kr.Key, "records", kr.Records)
	}
}
