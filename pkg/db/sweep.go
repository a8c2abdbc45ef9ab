package db

import (
	"context"
	"errors"
	"time"

	"github.com/yuxki/dytrust/pkg/revocation"
)

// ScanRepository is a repository that can list its rows.
type ScanRepository interface {
	Scan(ctx context.Context) ([]RowEntry, error)
	Remove(ctx context.Context, key string) error
}

// Sweep scans repo and removes the rows that ctl reports as expired, and the
// rows that are invalid. It returns the number of valid rows left.
func Sweep(ctx context.Context, repo ScanRepository, ctl *ExpirationControl, now time.Time) (int, error) {
	entries, err := repo.Scan(ctx)
	if err != nil {
		return 0, err
	}

	valids, expired := ctl.Do(now, entries)
	for idx := range entries {
		if entries[idx].Err() != nil {
			expired = append(expired, entries[idx])
		}
	}

	for idx := range expired {
		err := repo.Remove(ctx, expired[idx].Key)
		if err != nil && !errors.Is(err, revocation.ErrNotFound) {
			return len(valids), err
		}
	}

	return len(valids), nil
}
