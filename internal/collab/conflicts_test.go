package collab

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReportRecordsConflict(t *testing.T) {
	tracker := NewConflictTracker()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker.timeNow = func() time.Time { return now }

	conflict := tracker.Report(ConflictReport{
		ResourceID:   "floor-1",
		ConflictType: "concurrent_edit",
		Severity:     SeverityHigh,
		UserA:        "u1",
		UserB:        "u2",
		Description:  "both edited wall 14",
	})

	require.NotEmpty(t, conflict.ID)
	require.Equal(t, now, conflict.CreatedAt)
	require.False(t, conflict.Resolved)

	stored, ok := tracker.Get(conflict.ID)
	require.True(t, ok)
	require.Equal(t, conflict, stored)
}

func TestResolveIsOneWay(t *testing.T) {
	tracker := NewConflictTracker()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker.timeNow = func() time.Time { return now }

	conflict := tracker.Report(ConflictReport{
		ResourceID: "floor-1",
		Severity:   SeverityLow,
		UserA:      "u1",
		UserB:      "u2",
	})

	resolvedAt := now.Add(time.Minute)
	tracker.timeNow = func() time.Time { return resolvedAt }

	resolved, err := tracker.Resolve(conflict.ID, "kept version A", "u1")
	require.NoError(t, err)
	require.True(t, resolved.Resolved)
	require.Equal(t, "kept version A", resolved.Resolution)
	require.Equal(t, "u1", resolved.ResolvedBy)
	require.NotNil(t, resolved.ResolvedAt)
	require.Equal(t, resolvedAt, *resolved.ResolvedAt)

	_, err = tracker.Resolve(conflict.ID, "again", "u2")
	require.ErrorIs(t, err, ErrConflictResolved)

	// The failed second resolution must not alter the record.
	stored, ok := tracker.Get(conflict.ID)
	require.True(t, ok)
	require.Equal(t, "u1", stored.ResolvedBy)
}

func TestResolveUnknownConflict(t *testing.T) {
	tracker := NewConflictTracker()

	_, err := tracker.Resolve("missing", "n/a", "u1")
	require.ErrorIs(t, err, ErrConflictNotFound)
}

func TestListFiltersAndPreservesOrder(t *testing.T) {
	tracker := NewConflictTracker()

	first := tracker.Report(ConflictReport{ResourceID: "floor-1", Severity: SeverityLow, UserA: "u1", UserB: "u2"})
	second := tracker.Report(ConflictReport{ResourceID: "floor-2", Severity: SeverityMedium, UserA: "u1", UserB: "u3"})
	third := tracker.Report(ConflictReport{ResourceID: "floor-1", Severity: SeverityCritical, UserA: "u2", UserB: "u3"})

	_, err := tracker.Resolve(first.ID, "done", "u1")
	require.NoError(t, err)

	open := tracker.List(ListOptions{})
	require.Len(t, open, 2)
	require.Equal(t, second.ID, open[0].ID)
	require.Equal(t, third.ID, open[1].ID)

	all := tracker.List(ListOptions{IncludeResolved: true})
	require.Len(t, all, 3)
	require.Equal(t, first.ID, all[0].ID)

	floorOne := tracker.List(ListOptions{ResourceID: "floor-1", IncludeResolved: true})
	require.Len(t, floorOne, 2)

	require.Equal(t, 3, tracker.Count())
}

func TestParseSeverity(t *testing.T) {
	severity, err := ParseSeverity(" CRITICAL ")
	require.NoError(t, err)
	require.Equal(t, SeverityCritical, severity)

	_, err = ParseSeverity("catastrophic")
	require.Error(t, err)
}

func TestSeverityRank(t *testing.T) {
	require.True(t, SeverityLow.Rank() < SeverityMedium.Rank())
	require.True(t, SeverityMedium.Rank() < SeverityHigh.Rank())
	require.True(t, SeverityHigh.Rank() < SeverityCritical.Rank())
	require.Equal(t, -1, Severity("bogus").Rank())
}
