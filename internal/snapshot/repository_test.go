package snapshot_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/strata/internal/catalog"
	"github.com/bamsammich/strata/internal/domain"
	"github.com/bamsammich/strata/internal/filter"
	"github.com/bamsammich/strata/internal/selector"
	"github.com/bamsammich/strata/internal/snapshot"
	"github.com/bamsammich/strata/internal/store"
	"github.com/bamsammich/strata/internal/tree"
)

// clock hands out a fixed time that tests advance explicitly.
type clock struct{ t time.Time }

func newClock() *clock {
	return &clock{t: time.Date(2024, 1, 15, 15, 30, 0, 0, time.Local)}
}

func (c *clock) Now() time.Time         { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }
func (c *clock) ID() domain.SnapshotID   { return domain.NewSnapshotID(c.t) }

func openRepo(t *testing.T, root string, clk *clock, mutate ...func(*snapshot.Options)) *snapshot.Repository {
	t.Helper()
	opts := snapshot.Options{Root: root, Now: clk.Now, CacheSize: 16}
	for _, m := range mutate {
		m(&opts)
	}
	repo, err := snapshot.Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

// setTree makes root hold exactly files (outside the backup dir).
func setTree(t *testing.T, root string, files domain.FileSet) {
	t.Helper()
	require.NoError(t, tree.Write(context.Background(), tree.WriteConfig{
		Root:        root,
		Files:       files,
		Prune:       true,
		ExcludeDirs: []string{snapshot.DefaultBackupDir},
	}))
}

func liveTree(t *testing.T, root string) domain.FileSet {
	t.Helper()
	files, err := tree.Collect(context.Background(), tree.CollectConfig{
		Root:        root,
		ExcludeDirs: []string{snapshot.DefaultBackupDir},
	})
	require.NoError(t, err)
	return files
}

var (
	v1 = domain.FileSet{
		"readme.md":   []byte("# v1"),
		"src/main.go": []byte("package main"),
		"gone.txt":    []byte("removed in v2"),
	}
	v2 = domain.FileSet{
		"readme.md":   []byte("# v2"),
		"src/main.go": []byte("package main"),
		"empty":       {},
		"bin/data":    {0x00, 0xff, 0x10},
	}
	v3 = domain.FileSet{
		"readme.md":   []byte("# v2"),
		"src/main.go": []byte("package main // v3"),
		"bin/data":    {0x00, 0xff, 0x10},
		"gone.txt":    []byte("back again"),
	}
)

func TestTakeAndRestoreChain(t *testing.T) {
	for _, mode := range []store.Mode{store.ModeDiscrete, store.ModeArchive} {
		for _, tier := range []domain.Tier{domain.TierNone, domain.TierPerFile, domain.TierWholePayload} {
			t.Run(mode.String()+"/"+tier.String(), func(t *testing.T) {
				root := t.TempDir()
				clk := newClock()
				repo := openRepo(t, root, clk, func(o *snapshot.Options) {
					o.Mode = mode
					o.Tier = tier
				})
				ctx := context.Background()

				var ids []domain.SnapshotID
				for _, v := range []domain.FileSet{v1, v2, v3} {
					setTree(t, root, v)
					id, err := repo.Take(ctx)
					require.NoError(t, err)
					assert.Equal(t, clk.ID(), id)
					ids = append(ids, id)
					clk.Advance(time.Minute)
				}

				listed, err := repo.List()
				require.NoError(t, err)
				assert.Equal(t, ids, listed)

				for i, want := range []domain.FileSet{v1, v2, v3} {
					res, err := repo.Restore(ctx, ids[i], snapshot.RestoreOptions{Prune: true})
					require.NoError(t, err)
					assert.Nil(t, res.Anomaly)
					assert.Len(t, res.Chain, i+1)
					assert.True(t, want.Equal(res.State), "state of %s", ids[i])
					assert.True(t, want.Equal(liveTree(t, root)), "tree after restoring %s", ids[i])
				}

				// The empty file is restored as an empty file, not dropped.
				_, err = repo.Restore(ctx, ids[1], snapshot.RestoreOptions{Prune: true})
				require.NoError(t, err)
				info, err := os.Stat(filepath.Join(root, "empty"))
				require.NoError(t, err)
				assert.Zero(t, info.Size())
			})
		}
	}
}

func TestDiffsAreIncremental(t *testing.T) {
	root := t.TempDir()
	clk := newClock()
	repo := openRepo(t, root, clk)
	ctx := context.Background()

	setTree(t, root, v1)
	_, err := repo.Take(ctx)
	require.NoError(t, err)
	clk.Advance(time.Second)

	setTree(t, root, v2)
	id2, err := repo.Take(ctx)
	require.NoError(t, err)

	rec, d, err := repo.Changes(ctx, id2)
	require.NoError(t, err)
	assert.NotNil(t, rec.PrevID)
	want := domain.Diff{
		"readme.md": domain.Replace([]byte("# v2")),
		"empty":     domain.Replace([]byte{}),
		"bin/data":  domain.Replace([]byte{0x00, 0xff, 0x10}),
		"gone.txt":  domain.Delete(),
	}
	assert.True(t, want.Equal(d), "diff %v", d)
}

func TestTakeRecordsEmptyDiff(t *testing.T) {
	root := t.TempDir()
	clk := newClock()
	repo := openRepo(t, root, clk)
	ctx := context.Background()

	setTree(t, root, v1)
	_, err := repo.Take(ctx)
	require.NoError(t, err)
	clk.Advance(time.Second)

	id, err := repo.Take(ctx)
	require.NoError(t, err)
	_, d, err := repo.Changes(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, d)

	res, err := repo.State(ctx, id)
	require.NoError(t, err)
	assert.True(t, v1.Equal(res.State))
}

func TestTakeSameSecond(t *testing.T) {
	root := t.TempDir()
	repo := openRepo(t, root, newClock())

	setTree(t, root, v1)
	_, err := repo.Take(context.Background())
	require.NoError(t, err)
	_, err = repo.Take(context.Background())
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestTakeEmptyTree(t *testing.T) {
	root := t.TempDir()
	repo := openRepo(t, root, newClock())

	id, err := repo.Take(context.Background())
	require.NoError(t, err)
	res, err := repo.State(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, res.State)
}

func TestTakeLocked(t *testing.T) {
	root := t.TempDir()
	repo := openRepo(t, root, newClock())

	unlock, err := store.Lock(repo.BackupDir())
	require.NoError(t, err)
	defer unlock()

	_, err = repo.Take(context.Background())
	assert.ErrorIs(t, err, domain.ErrLocked)
}

func TestRestoreWithoutPruneKeepsNewFiles(t *testing.T) {
	root := t.TempDir()
	clk := newClock()
	repo := openRepo(t, root, clk)
	ctx := context.Background()

	setTree(t, root, v1)
	id, err := repo.Take(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "new.txt"), []byte("n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.md"), []byte("edited"), 0o644))

	_, err = repo.Restore(ctx, id, snapshot.RestoreOptions{})
	require.NoError(t, err)

	live := liveTree(t, root)
	assert.Equal(t, []byte("# v1"), live["readme.md"])
	assert.Equal(t, []byte("n"), live["new.txt"])
}

func TestRestoreLatest(t *testing.T) {
	root := t.TempDir()
	clk := newClock()
	repo := openRepo(t, root, clk)
	ctx := context.Background()

	_, _, err := repo.RestoreLatest(ctx, snapshot.RestoreOptions{})
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "no snapshots found")

	setTree(t, root, v1)
	_, err = repo.Take(ctx)
	require.NoError(t, err)
	clk.Advance(time.Second)
	setTree(t, root, v2)
	want, err := repo.Take(ctx)
	require.NoError(t, err)

	setTree(t, root, v3)
	id, res, err := repo.RestoreLatest(ctx, snapshot.RestoreOptions{Prune: true})
	require.NoError(t, err)
	assert.Equal(t, want, id)
	assert.True(t, v2.Equal(res.State))
	assert.True(t, v2.Equal(liveTree(t, root)))
}

func TestRestoreToDate(t *testing.T) {
	root := t.TempDir()
	clk := newClock()
	repo := openRepo(t, root, clk)
	ctx := context.Background()

	start := clk.Now()
	var ids []domain.SnapshotID
	for _, v := range []domain.FileSet{v1, v2, v3} {
		setTree(t, root, v)
		id, err := repo.Take(ctx)
		require.NoError(t, err)
		ids = append(ids, id)
		clk.Advance(100 * time.Second)
	}
	// Snapshots at +0s, +100s, +200s.

	id, res, err := repo.RestoreToDate(ctx, start.Add(150*time.Second), selector.Before, snapshot.RestoreOptions{Prune: true})
	require.NoError(t, err)
	assert.Equal(t, ids[1], id)
	assert.True(t, v2.Equal(res.State))

	id, _, err = repo.RestoreToDate(ctx, start.Add(150*time.Second), selector.After, snapshot.RestoreOptions{Prune: true})
	require.NoError(t, err)
	assert.Equal(t, ids[2], id)

	id, _, err = repo.RestoreToDate(ctx, start.Add(40*time.Second), selector.Closest, snapshot.RestoreOptions{Prune: true})
	require.NoError(t, err)
	assert.Equal(t, ids[0], id)
	assert.True(t, v1.Equal(liveTree(t, root)))

	_, _, err = repo.RestoreToDate(ctx, start.Add(150*time.Second), selector.Exact, snapshot.RestoreOptions{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = repo.RestoreToDate(ctx, start.Add(-time.Hour), selector.Before, snapshot.RestoreOptions{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRestoreToDateExcludesExactTarget(t *testing.T) {
	root := t.TempDir()
	clk := newClock()
	repo := openRepo(t, root, clk)
	ctx := context.Background()
	file := filepath.Join(root, "file.txt")

	require.NoError(t, os.WriteFile(file, []byte("v1"), 0o644))
	s1, err := repo.Take(ctx)
	require.NoError(t, err)
	t1 := clk.Now()

	clk.Advance(time.Minute)
	require.NoError(t, os.WriteFile(file, []byte("v2"), 0o644))
	s2, err := repo.Take(ctx)
	require.NoError(t, err)
	t2 := clk.Now()

	require.NoError(t, os.WriteFile(file, []byte("v3"), 0o644))

	id, _, err := repo.RestoreToDate(ctx, t2, selector.Before, snapshot.RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, s1, id)
	got, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	id, _, err = repo.RestoreToDate(ctx, t1, selector.After, snapshot.RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, s2, id)
	got, err = os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	id, _, err = repo.RestoreToDate(ctx, t1, selector.Exact, snapshot.RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, s1, id)
}

func TestOpenValidation(t *testing.T) {
	ctx := context.Background()

	_, err := snapshot.Open(ctx, snapshot.Options{Root: filepath.Join(t.TempDir(), "missing")})
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = snapshot.Open(ctx, snapshot.Options{Root: file})
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = snapshot.Open(ctx, snapshot.Options{Root: t.TempDir(), Tier: domain.Tier(9)})
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	root := t.TempDir()
	_, err = snapshot.Open(ctx, snapshot.Options{Root: root, BackupDir: root})
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	// Nothing was created for the rejected configurations.
	_, err = os.Stat(filepath.Join(root, snapshot.DefaultBackupDir))
	assert.True(t, os.IsNotExist(err))
}

func TestBackupDirOutsideRoot(t *testing.T) {
	root := t.TempDir()
	backup := t.TempDir()
	repo := openRepo(t, root, newClock(), func(o *snapshot.Options) { o.BackupDir = backup })

	setTree(t, root, v1)
	_, err := repo.Take(context.Background())
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(backup, "snapshot_*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestFilterAndIgnoreFile(t *testing.T) {
	root := t.TempDir()
	setTree(t, root, domain.FileSet{
		"keep.txt":      []byte("k"),
		"debug.log":     []byte("l"),
		"cache/blob":    []byte("c"),
		".strataignore": []byte("cache/\n"),
	})

	chain := filter.NewChain()
	require.NoError(t, chain.AddExclude("*.log"))

	repo := openRepo(t, root, newClock(), func(o *snapshot.Options) { o.Filter = chain })
	id, err := repo.Take(context.Background())
	require.NoError(t, err)

	res, err := repo.State(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{".strataignore", "keep.txt"}, res.State.Paths())

	// The caller's chain is not modified by the ignore file.
	assert.Equal(t, 1, chain.Len())

	// A pruning restore leaves excluded files alone.
	_, err = repo.Restore(context.Background(), id, snapshot.RestoreOptions{Prune: true})
	require.NoError(t, err)
	live := liveTree(t, root)
	assert.Contains(t, live, "debug.log")
	assert.Contains(t, live, "cache/blob")
}

func TestHistoryRebuildsCatalog(t *testing.T) {
	root := t.TempDir()
	clk := newClock()
	ctx := context.Background()

	repo, err := snapshot.Open(ctx, snapshot.Options{Root: root, Now: clk.Now})
	require.NoError(t, err)
	setTree(t, root, v1)
	id1, err := repo.Take(ctx)
	require.NoError(t, err)
	clk.Advance(time.Second)
	setTree(t, root, v2)
	id2, err := repo.Take(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	backup := filepath.Join(root, snapshot.DefaultBackupDir)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		os.Remove(filepath.Join(backup, catalog.FileName+suffix))
	}

	repo = openRepo(t, root, clk)
	history, err := repo.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, id1, history[0].ID)
	assert.Empty(t, history[0].PrevID)
	assert.Equal(t, id2, history[1].ID)
	assert.Equal(t, id1, history[1].PrevID)
	assert.Equal(t, 3, history[1].Replaced)
	assert.Equal(t, 1, history[1].Deleted)
}

func TestVerify(t *testing.T) {
	root := t.TempDir()
	clk := newClock()
	ctx := context.Background()
	repo := openRepo(t, root, clk)

	for _, v := range []domain.FileSet{v1, v2, v3} {
		setTree(t, root, v)
		_, err := repo.Take(ctx)
		require.NoError(t, err)
		clk.Advance(time.Second)
	}

	report, err := repo.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 3, report.Checked)
}

func TestVerifyReportsCorruption(t *testing.T) {
	root := t.TempDir()
	clk := newClock()
	ctx := context.Background()
	repo := openRepo(t, root, clk, func(o *snapshot.Options) { o.CacheSize = 0 })

	var ids []domain.SnapshotID
	for _, v := range []domain.FileSet{v1, v2, v3} {
		setTree(t, root, v)
		id, err := repo.Take(ctx)
		require.NoError(t, err)
		ids = append(ids, id)
		clk.Advance(time.Second)
	}

	// Replace the middle record with one whose data does not decode.
	path := filepath.Join(root, snapshot.DefaultBackupDir, store.RecordName(ids[1]))
	bad := `{"id":"` + string(ids[1]) + `","data":{"readme.md":"@@not base64@@"},"compression":0,"prev_id":"` + string(ids[0]) + `"}`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))

	report, err := repo.Verify(ctx)
	require.NoError(t, err)
	assert.False(t, report.OK())
	// The tampered record fails its digest; the one above it fails to resolve.
	require.Len(t, report.Problems, 2)
	assert.Equal(t, ids[1], report.Problems[0].ID)
	assert.ErrorIs(t, report.Problems[0].Err, snapshot.ErrDigestMismatch)
	assert.Equal(t, ids[2], report.Problems[1].ID)
	assert.ErrorIs(t, report.Problems[1].Err, domain.ErrCorruptData)

	_, err = repo.Restore(ctx, ids[2], snapshot.RestoreOptions{})
	assert.ErrorIs(t, err, domain.ErrCorruptData)

	// A new snapshot starts a fresh chain instead of building on the damage.
	setTree(t, root, v1)
	id, err := repo.Take(ctx)
	require.NoError(t, err)
	rec, _, err := repo.Changes(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, rec.PrevID)

	res, err := repo.Restore(ctx, id, snapshot.RestoreOptions{Prune: true})
	require.NoError(t, err)
	assert.True(t, v1.Equal(res.State))
}

func TestVerifyReportsUnreadableRecordWhileRebuilding(t *testing.T) {
	root := t.TempDir()
	clk := newClock()
	ctx := context.Background()

	repo, err := snapshot.Open(ctx, snapshot.Options{Root: root, Now: clk.Now})
	require.NoError(t, err)
	var ids []domain.SnapshotID
	for _, v := range []domain.FileSet{v1, v2, v3} {
		setTree(t, root, v)
		id, err := repo.Take(ctx)
		require.NoError(t, err)
		ids = append(ids, id)
		clk.Advance(time.Second)
	}
	require.NoError(t, repo.Close())

	backup := filepath.Join(root, snapshot.DefaultBackupDir)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		os.Remove(filepath.Join(backup, catalog.FileName+suffix))
	}
	require.NoError(t, os.WriteFile(filepath.Join(backup, store.RecordName(ids[1])), []byte("not json"), 0o644))

	repo = openRepo(t, root, clk, func(o *snapshot.Options) { o.CacheSize = 0 })
	history, err := repo.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, ids[1], history[1].ID)
	assert.Empty(t, history[1].Digest)

	report, err := repo.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	require.Len(t, report.Problems, 2)
	assert.Equal(t, ids[1], report.Problems[0].ID)
	assert.ErrorIs(t, report.Problems[0].Err, domain.ErrCorruptData)
	assert.Equal(t, ids[2], report.Problems[1].ID)
	assert.ErrorIs(t, report.Problems[1].Err, domain.ErrCorruptData)
}

func TestTakeStartsNewChainOverMissingPrev(t *testing.T) {
	root := t.TempDir()
	clk := newClock()
	ctx := context.Background()
	repo := openRepo(t, root, clk, func(o *snapshot.Options) { o.CacheSize = 0 })

	var ids []domain.SnapshotID
	for _, v := range []domain.FileSet{v1, v2} {
		setTree(t, root, v)
		id, err := repo.Take(ctx)
		require.NoError(t, err)
		ids = append(ids, id)
		clk.Advance(time.Second)
	}
	require.NoError(t, os.Remove(filepath.Join(root, snapshot.DefaultBackupDir, store.RecordName(ids[0]))))

	_, err := repo.State(ctx, ids[1])
	require.ErrorIs(t, err, domain.ErrNotFound)

	setTree(t, root, v3)
	id, err := repo.Take(ctx)
	require.NoError(t, err)
	rec, _, err := repo.Changes(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, rec.PrevID)

	res, err := repo.State(ctx, id)
	require.NoError(t, err)
	assert.True(t, v3.Equal(res.State))
}

func TestTakeRefusesClockStepBack(t *testing.T) {
	root := t.TempDir()
	clk := newClock()
	repo := openRepo(t, root, clk)
	ctx := context.Background()

	setTree(t, root, v1)
	_, err := repo.Take(ctx)
	require.NoError(t, err)

	clk.Advance(-time.Hour)
	_, err = repo.Take(ctx)
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.Contains(t, err.Error(), "clock moved back")

	clk.Advance(time.Hour + time.Second)
	_, err = repo.Take(ctx)
	assert.NoError(t, err)
}

func TestTakeStartsNewChainAtMaxDepth(t *testing.T) {
	root := t.TempDir()
	clk := newClock()
	ctx := context.Background()
	repo := openRepo(t, root, clk, func(o *snapshot.Options) { o.MaxDepth = 2 })

	var ids []domain.SnapshotID
	for _, v := range []domain.FileSet{v1, v2, v3} {
		setTree(t, root, v)
		id, err := repo.Take(ctx)
		require.NoError(t, err)
		ids = append(ids, id)
		clk.Advance(time.Second)
	}

	rec, _, err := repo.Changes(ctx, ids[2])
	require.NoError(t, err)
	assert.Nil(t, rec.PrevID)

	for i, want := range []domain.FileSet{v1, v2, v3} {
		res, err := repo.State(ctx, ids[i])
		require.NoError(t, err)
		assert.Nil(t, res.Anomaly)
		assert.True(t, want.Equal(res.State))
	}
}

func TestBandwidthLimit(t *testing.T) {
	_, err := snapshot.Open(context.Background(), snapshot.Options{Root: t.TempDir(), BandwidthLimit: -1})
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	root := t.TempDir()
	clk := newClock()
	repo := openRepo(t, root, clk, func(o *snapshot.Options) { o.BandwidthLimit = 64 << 20 })

	setTree(t, root, v1)
	id, err := repo.Take(context.Background())
	require.NoError(t, err)

	setTree(t, root, v2)
	res, err := repo.Restore(context.Background(), id, snapshot.RestoreOptions{Prune: true})
	require.NoError(t, err)
	assert.True(t, v1.Equal(res.State))
	assert.True(t, v1.Equal(liveTree(t, root)))
}
