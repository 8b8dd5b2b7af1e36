package app

import (
	"context"
	"errors"

	"audimeta/pkg/domain"
	"audimeta/pkg/store"
)

// Outcome names the write decision taken for a candidate record.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeKept      Outcome = "kept"
)

// Result is the record to serve after reconciliation and whether the store changed.
type Result[T any] struct {
	Record   T
	Modified bool
	Outcome  Outcome
}

// enrichmentAllowsUpdate reports whether a candidate may replace a stored
// record given the sizes of their enrichment fields. A populated field is
// never replaced by an empty one.
func enrichmentAllowsUpdate(stored, candidate int) bool {
	return candidate > 0 || stored == 0
}

// CreateOrUpdate merges candidate into repo.
//
// Without a stored record the candidate is inserted; losing an insert race
// to another writer keeps the winner. With one, the stored
// record wins unless forced is set; a forced candidate is written only when
// its content differs and it does not drop enrichment data.
func CreateOrUpdate[T domain.Record[T]](ctx context.Context, repo store.Repository[T], candidate T, forced bool) (Result[T], error) {
	asin, region := candidate.Identity()
	stored, ok, err := repo.Find(ctx, asin, region)
	if err != nil {
		return Result[T]{}, wrapf(err, "load %s/%s", region, asin)
	}
	if !ok {
		err := repo.Insert(ctx, candidate)
		if errors.Is(err, store.ErrDuplicate) {
			// A concurrent writer stored it first; serve that copy.
			if winner, found, ferr := repo.Find(ctx, asin, region); ferr == nil && found {
				return Result[T]{Record: winner, Outcome: OutcomeKept}, nil
			}
		}
		if err != nil {
			return Result[T]{}, wrapf(err, "insert %s/%s", region, asin)
		}
		return Result[T]{Record: reread(ctx, repo, candidate), Modified: true, Outcome: OutcomeCreated}, nil
	}
	if !forced {
		return Result[T]{Record: stored, Outcome: OutcomeKept}, nil
	}
	if domain.SameContent(stored, candidate) {
		return Result[T]{Record: stored, Outcome: OutcomeUnchanged}, nil
	}
	if !enrichmentAllowsUpdate(stored.EnrichmentSize(), candidate.EnrichmentSize()) {
		return Result[T]{Record: stored, Outcome: OutcomeSkipped}, nil
	}
	if err := repo.Update(ctx, candidate); err != nil {
		return Result[T]{}, wrapf(err, "update %s/%s", region, asin)
	}
	return Result[T]{Record: reread(ctx, repo, candidate), Modified: true, Outcome: OutcomeUpdated}, nil
}

// reread returns the stored copy of record, falling back to record itself
// when the read fails.
func reread[T domain.Record[T]](ctx context.Context, repo store.Repository[T], record T) T {
	asin, region := record.Identity()
	fresh, ok, err := repo.Find(ctx, asin, region)
	if err != nil || !ok {
		return record
	}
	return fresh
}

// DeleteRecord removes a stored record and reports whether one existed.
func DeleteRecord[T any](ctx context.Context, repo store.Repository[T], asin, region string) (bool, error) {
	removed, err := repo.Delete(ctx, asin, region)
	if err != nil {
		return false, wrapf(err, "delete %s/%s", region, asin)
	}
	return removed, nil
}
