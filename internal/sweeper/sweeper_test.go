package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConfig struct {
	values map[string]string
	err    error
}

func (f fakeConfig) Lookup(_ context.Context, path string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	v, ok := f.values[path]
	return v, ok, nil
}

// fakeStore keeps expiry timestamps in memory and records every call.
type fakeStore struct {
	expires   []int64
	countErr  error
	deleteErr error

	calls   []string
	cutoffs []int64
	limits  []int
}

func (f *fakeStore) Table() string { return "session" }

func (f *fakeStore) CountExpired(_ context.Context, cutoff int64, limit int) (int64, error) {
	f.calls = append(f.calls, "count")
	f.cutoffs = append(f.cutoffs, cutoff)
	f.limits = append(f.limits, limit)
	if f.countErr != nil {
		return 0, f.countErr
	}
	var n int64
	for _, e := range f.expires {
		if e <= cutoff && n < int64(limit) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) DeleteExpired(_ context.Context, cutoff int64, limit int) (int64, error) {
	f.calls = append(f.calls, "delete")
	f.cutoffs = append(f.cutoffs, cutoff)
	f.limits = append(f.limits, limit)
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	var kept []int64
	var n int64
	for _, e := range f.expires {
		if e <= cutoff && n < int64(limit) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	f.expires = kept
	return n, nil
}

var fixedNow = time.Date(2026, 10, 19, 3, 0, 0, 0, time.UTC)

func newSweeper(cfg Config, st Store) (*Sweeper, *logtest.Hook) {
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return New(cfg, st, log, WithClock(func() time.Time { return fixedNow })), hook
}

func enabledWith(kv ...string) fakeConfig {
	values := map[string]string{KeyEnabled: "1"}
	for i := 0; i+1 < len(kv); i += 2 {
		values[kv[i]] = kv[i+1]
	}
	return fakeConfig{values: values}
}

func TestRunDisabledIsSilentNoop(t *testing.T) {
	for _, v := range []string{"", "0", "yes", "true", "2"} {
		st := &fakeStore{expires: []int64{0, 1, 2}}
		cfg := fakeConfig{values: map[string]string{KeyEnabled: v, KeyExpiryLimit: "-5"}}
		sw, hook := newSweeper(cfg, st)

		res, err := sw.Run(context.Background())
		require.NoError(t, err, "enabled=%q", v)
		assert.True(t, res.Skipped)
		assert.Zero(t, res.Removed)
		assert.Empty(t, st.calls, "enabled=%q", v)
		assert.Empty(t, hook.AllEntries(), "enabled=%q", v)
	}
}

func TestRunMissingEnabledIsDisabled(t *testing.T) {
	st := &fakeStore{}
	sw, _ := newSweeper(fakeConfig{values: map[string]string{}}, st)
	res, err := sw.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, st.calls)
}

func TestRunScenarioGracePeriod(t *testing.T) {
	now := fixedNow.Unix()
	var expires []int64
	for i := 0; i < 5; i++ {
		expires = append(expires, now-8*secondsPerDay)
	}
	for i := 0; i < 3; i++ {
		expires = append(expires, now-1*secondsPerDay)
	}
	st := &fakeStore{expires: expires}
	sw, hook := newSweeper(enabledWith(KeyExpiryLimit, "7", KeyDeleteLimit, "1000"), st)

	res, err := sw.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.Removed)
	assert.EqualValues(t, 5, res.Deleted)
	assert.Len(t, st.expires, 3)
	assert.Equal(t, []string{"count", "delete"}, st.calls)
	assert.Equal(t, now-7*secondsPerDay, res.Cutoff.Unix())

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, logrus.InfoLevel, e.Level)
	}
	assert.Contains(t, entries[0].Message, "7 day(s)")
	assert.Contains(t, entries[1].Message, "removed 5")
}

func TestRunUsesSingleCutoff(t *testing.T) {
	calls := 0
	st := &fakeStore{}
	log, _ := logtest.NewNullLogger()
	// a clock that moves on every call must not split count and delete
	clock := func() time.Time {
		calls++
		return fixedNow.Add(time.Duration(calls) * time.Hour)
	}
	sw := New(enabledWith(KeyExpiryLimit, "3"), st, log, WithClock(clock))

	_, err := sw.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, st.cutoffs, 2)
	assert.Equal(t, st.cutoffs[0], st.cutoffs[1])
	assert.Equal(t, st.limits[0], st.limits[1])
}

func TestRunBatchLimitDefaults(t *testing.T) {
	cases := map[string]fakeConfig{
		"unset":       enabledWith(),
		"empty":       enabledWith(KeyDeleteLimit, ""),
		"zero":        enabledWith(KeyDeleteLimit, "0"),
		"non-numeric": enabledWith(KeyDeleteLimit, "lots"),
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			st := &fakeStore{}
			sw, _ := newSweeper(cfg, st)
			res, err := sw.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, DefaultBatchLimit, res.BatchLimit)
			assert.Equal(t, []int{DefaultBatchLimit, DefaultBatchLimit}, st.limits)
		})
	}
}

func TestRunGraceDefaultsToZero(t *testing.T) {
	for _, cfg := range []fakeConfig{enabledWith(), enabledWith(KeyExpiryLimit, "week")} {
		st := &fakeStore{}
		sw, _ := newSweeper(cfg, st)
		res, err := sw.Run(context.Background())
		require.NoError(t, err)
		assert.Zero(t, res.GraceDays)
		assert.Equal(t, fixedNow.Unix(), st.cutoffs[0])
	}
}

func TestRunBoundaryInclusive(t *testing.T) {
	now := fixedNow.Unix()
	st := &fakeStore{expires: []int64{now - 2*secondsPerDay, now - 2*secondsPerDay + 1}}
	sw, _ := newSweeper(enabledWith(KeyExpiryLimit, "2"), st)

	res, err := sw.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Removed)
	assert.Equal(t, []int64{now - 2*secondsPerDay + 1}, st.expires)
}

func TestRunBatchLimitCapsCountAndDelete(t *testing.T) {
	expires := make([]int64, 2000)
	st := &fakeStore{expires: expires}
	sw, _ := newSweeper(enabledWith(KeyDeleteLimit, "500"), st)

	res, err := sw.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 500, res.Removed)
	assert.Len(t, st.expires, 1500)
}

func TestRunIdempotent(t *testing.T) {
	st := &fakeStore{expires: []int64{1, 2, 3}}
	sw, _ := newSweeper(enabledWith(), st)

	first, err := sw.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, first.Removed)

	second, err := sw.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Removed)
}

func TestRunCountFailureSkipsDelete(t *testing.T) {
	connErr := errors.New("connection refused")
	st := &fakeStore{expires: []int64{1, 2}, countErr: connErr}
	sw, hook := newSweeper(enabledWith(), st)

	_, err := sw.Run(context.Background())
	require.Error(t, err)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "count", se.Op)
	assert.ErrorIs(t, err, connErr)
	assert.Equal(t, "storage", Kind(err))
	assert.Equal(t, []string{"count"}, st.calls)
	assert.Len(t, st.expires, 2)

	// only the announcement, no success line
	require.Len(t, hook.AllEntries(), 1)
}

func TestRunDeleteFailure(t *testing.T) {
	st := &fakeStore{expires: []int64{1}, deleteErr: errors.New("permission denied")}
	sw, _ := newSweeper(enabledWith(), st)

	_, err := sw.Run(context.Background())
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "delete", se.Op)
	assert.Equal(t, "session", se.Table)
}

func TestRunConfigSourceFailure(t *testing.T) {
	st := &fakeStore{}
	sw, _ := newSweeper(fakeConfig{err: errors.New("redis down")}, st)

	_, err := sw.Run(context.Background())
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KeyEnabled, ce.Key)
	assert.Equal(t, "configuration", Kind(err))
	assert.Empty(t, st.calls)
}

func TestRunNegativeValuesRejected(t *testing.T) {
	for _, key := range []string{KeyExpiryLimit, KeyDeleteLimit} {
		st := &fakeStore{}
		sw, _ := newSweeper(enabledWith(key, "-1"), st)
		_, err := sw.Run(context.Background())
		var ce *ConfigurationError
		require.ErrorAs(t, err, &ce, key)
		assert.Equal(t, key, ce.Key)
		assert.ErrorIs(t, err, ErrNegative)
		assert.Empty(t, st.calls)
	}
}

func TestCoercionWarns(t *testing.T) {
	st := &fakeStore{}
	sw, hook := newSweeper(enabledWith(KeyExpiryLimit, "7.9"), st)

	res, err := sw.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 7, res.GraceDays)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["key"] == KeyExpiryLimit {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestSettings(t *testing.T) {
	sw, _ := newSweeper(enabledWith(KeyExpiryLimit, "14", KeyDeleteLimit, "250"), &fakeStore{})
	set, err := sw.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Settings{Enabled: true, GraceDays: 14, BatchLimit: 250}, set)

	sw, _ = newSweeper(fakeConfig{values: map[string]string{}}, &fakeStore{})
	set, err = sw.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Settings{Enabled: false, GraceDays: 0, BatchLimit: DefaultBatchLimit}, set)
}
