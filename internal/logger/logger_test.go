package logger

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/viture-view/internal/headtrack"
)

func csvFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "viture_*.csv"))
	require.NoError(t, err)
	return matches
}

func TestLoggerDisabledWritesNothing(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: false, Path: dir})
	l.Record(&headtrack.Pose{Valid: true, Roll: 1}, nil)
	l.Close()
	require.Empty(t, csvFiles(t, dir))
}

func TestLoggerWritesRowsWithIntervalGate(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir, IntervalMs: 50})

	pose := &headtrack.Pose{Valid: true, Roll: 1.5, Pitch: -2.25, Yaw: 30, DeviceTime: 42, Rate: 60}
	l.Record(pose, &Rel{Roll: 0.5, Pitch: -0.25, Yaw: 10})
	l.Record(pose, nil) // gated, same tick
	time.Sleep(60 * time.Millisecond)
	l.Record(pose, nil)
	l.Close()

	files := csvFiles(t, dir)
	require.Len(t, files, 1)

	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3) // header + two rows
	require.Equal(t, csvHeader, rows[0])

	first := rows[1]
	require.Equal(t, "1", first[1])
	require.Equal(t, "1.500", first[2])
	require.Equal(t, "-2.250", first[3])
	require.Equal(t, "30.000", first[4])
	require.Equal(t, "0.500", first[5])
	require.Equal(t, "10.000", first[7])
	require.Equal(t, "42", first[8])

	// Second row has no relative pose; those columns stay empty.
	require.Equal(t, "", rows[2][5])
}

func TestLoggerSetEnabledClosesFile(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir, IntervalMs: 50})
	l.Record(&headtrack.Pose{Valid: true}, nil)
	require.True(t, l.IsEnabled())

	l.SetEnabled(false)
	require.False(t, l.IsEnabled())
	l.Record(&headtrack.Pose{Valid: true}, nil)

	files := csvFiles(t, dir)
	require.Len(t, files, 1)
}

func TestLoggerNilPoseStillStamps(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir, IntervalMs: 50})
	l.Record(nil, nil)
	l.Close()

	files := csvFiles(t, dir)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	require.Contains(t, string(data), "timestamp")
}

func TestLoggerRotationStartsFreshFile(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir, IntervalMs: 50})
	t.Cleanup(l.Close)

	// Timestamps a second apart keep the two filenames distinct.
	now := time.Date(2026, 8, 22, 10, 0, 0, 0, time.UTC)
	require.NoError(t, l.rotateFile(now))
	l.rows = maxRowsPerFile
	require.NoError(t, l.rotateFile(now.Add(time.Second)))
	require.Zero(t, l.rows, "rotation must reset the row count")

	files := csvFiles(t, dir)
	require.Len(t, files, 2)
	for _, name := range files {
		f, err := os.Open(name)
		require.NoError(t, err)
		rows, err := csv.NewReader(f).ReadAll()
		f.Close()
		require.NoError(t, err)
		require.NotEmpty(t, rows)
		require.Equal(t, csvHeader, rows[0], "every log file starts with the header")
	}
}
