package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/yuxki/dytrust/pkg/revocation"
	"golang.org/x/crypto/ocsp"
)

func openTestBolt(t *testing.T) *BoltRepository {
	t.Helper()

	repo, err := OpenBoltRepository(filepath.Join(t.TempDir(), "tokens.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestBoltRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := openTestBolt(t)

	now := time.Date(2033, 6, 9, 12, 33, 17, 0, time.UTC)
	first := stubEntry("crl:aa:01", revocation.Good, revocation.ReasonAbsent, now.Add(time.Hour)).Token
	second := stubEntry("crl:aa:02", revocation.Revoked, ocsp.KeyCompromise, now.Add(time.Hour)).Token
	second.RevocationDate = now.Add(-time.Hour)

	_, err := repo.Find(ctx, "crl:aa:01")
	require.ErrorIs(t, err, revocation.ErrNotFound)
	require.ErrorIs(t, repo.Update(ctx, "crl:aa:01", first), revocation.ErrNotFound)
	require.ErrorIs(t, repo.Remove(ctx, "crl:aa:01"), revocation.ErrNotFound)

	require.NoError(t, repo.Insert(ctx, "crl:aa:01", first))
	require.ErrorIs(t, repo.Insert(ctx, "crl:aa:01", second), revocation.ErrKeyExists)

	got, err := repo.Find(ctx, "crl:aa:01")
	require.NoError(t, err)
	require.Equal(t, first.Digest(), got.Digest())
	require.True(t, first.NextUpdate.Equal(got.NextUpdate))
	require.Zero(t, first.Serial.Cmp(got.Serial))

	require.NoError(t, repo.Update(ctx, "crl:aa:01", second))
	got, err = repo.Find(ctx, "crl:aa:01")
	require.NoError(t, err)
	require.Equal(t, revocation.Revoked, got.Status)
	require.Equal(t, ocsp.KeyCompromise, got.Reason)

	invalid := first.Clone()
	invalid.ThisUpdate = time.Time{}
	require.ErrorIs(t, repo.Insert(ctx, "crl:aa:09", invalid), revocation.ErrInvalidToken)

	require.NoError(t, repo.Remove(ctx, "crl:aa:01"))
	_, err = repo.Find(ctx, "crl:aa:01")
	require.ErrorIs(t, err, revocation.ErrNotFound)
}

func TestSweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := openTestBolt(t)

	now := time.Date(2033, 6, 9, 12, 33, 17, 0, time.UTC)
	fresh := stubEntry("crl:aa:01", revocation.Good, revocation.ReasonAbsent, now.Add(time.Hour)).Token
	stale := stubEntry("crl:aa:02", revocation.Good, revocation.ReasonAbsent, now.Add(-time.Hour)).Token
	revoked := stubEntry("crl:aa:03", revocation.Revoked, ocsp.KeyCompromise, now.Add(-time.Hour)).Token
	revoked.RevocationDate = now.Add(-2 * time.Hour)

	require.NoError(t, repo.Insert(ctx, "crl:aa:01", fresh))
	require.NoError(t, repo.Insert(ctx, "crl:aa:02", stale))
	require.NoError(t, repo.Insert(ctx, "crl:aa:03", revoked))

	var logger StubLogger
	left, err := Sweep(ctx, repo, NewExpirationControl(WithLogger(&logger)), now)
	require.NoError(t, err)
	require.Equal(t, 2, left)

	entries, err := repo.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "crl:aa:01", entries[0].Key)
	require.Equal(t, "crl:aa:03", entries[1].Key)
	require.Equal(t,
		"StubLogger Invalid: It is no longer valid because it has exceeded next update: crl:aa:02",
		logger.logMsg,
	)
}
