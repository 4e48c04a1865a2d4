package recorders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/offspot-lab/offspot-metrics/internal/core/inputs"
)

func TestIntCounter_CountsInputs(t *testing.T) {
	r := NewIntCounter()
	require.Equal(t, int64(0), r.Value())

	require.NoError(t, r.Process(inputs.PackageHomeVisit{Title: "wikipedia"}))
	require.NoError(t, r.Process(inputs.PackageHomeVisit{Title: "wikipedia"}))
	require.NoError(t, r.Process(inputs.PackageRequest{Title: "wikipedia"}))

	require.Equal(t, int64(3), r.Value())
}

func TestIntCounter_SharedFilesOperationAddsCount(t *testing.T) {
	r := NewIntCounter()

	require.NoError(t, r.Process(inputs.SharedFilesOperation{Kind: inputs.OperationCreated, Count: 4}))
	require.NoError(t, r.Process(inputs.SharedFilesOperation{Kind: inputs.OperationCreated, Count: 1}))

	require.Equal(t, int64(5), r.Value())
}

func TestIntCounter_StateRoundTrip(t *testing.T) {
	r := NewIntCounter()
	for i := 0; i < 42; i++ {
		require.NoError(t, r.Process(inputs.PackageRequest{Title: "x"}))
	}
	require.Equal(t, "42", r.State())

	restored := NewIntCounter()
	require.NoError(t, restored.RestoreState(r.State()))
	require.Equal(t, r.Value(), restored.Value())
	require.Equal(t, r.State(), restored.State())
}

func TestIntCounter_RestoreStateRejectsGarbage(t *testing.T) {
	r := NewIntCounter()
	require.Error(t, r.RestoreState("not-a-number"))
}

func usageInput(base time.Time, offsetMinutes int) inputs.Input {
	return inputs.PackageRequest{
		Ts:    base.Add(time.Duration(offsetMinutes) * time.Minute),
		Title: "wikipedia",
	}
}

func TestUsage_SingleInput(t *testing.T) {
	base := time.Date(2023, 6, 8, 10, 0, 0, 0, time.UTC)
	r := NewUsage()

	require.Equal(t, int64(0), r.Value())
	require.NoError(t, r.Process(usageInput(base, 3)))
	require.Equal(t, int64(10), r.Value())
}

func TestUsage_SameSlotCountsOnce(t *testing.T) {
	base := time.Date(2023, 6, 8, 10, 0, 0, 0, time.UTC)
	r := NewUsage()

	require.NoError(t, r.Process(usageInput(base, 0)))
	require.NoError(t, r.Process(usageInput(base, 4)))
	require.NoError(t, r.Process(usageInput(base, 9)))

	require.Equal(t, int64(10), r.Value())
}

func TestUsage_FullHourSaturatesAtSixSlots(t *testing.T) {
	base := time.Date(2023, 6, 8, 10, 0, 0, 0, time.UTC)
	r := NewUsage()

	// One request every minute across a full hour lands in exactly six
	// slots; the 60-minute offset clamps into the last one.
	for offset := 0; offset <= 60; offset++ {
		require.NoError(t, r.Process(usageInput(base, offset)))
	}

	require.Equal(t, int64(60), r.Value())
}

func TestUsage_SlotsAlignToFirstInput(t *testing.T) {
	base := time.Date(2023, 6, 8, 10, 7, 0, 0, time.UTC)
	r := NewUsage()

	// Slot grid starts at the first input: [7,17) and [17,27).
	require.NoError(t, r.Process(usageInput(base, 0)))
	require.NoError(t, r.Process(usageInput(base, 9)))
	require.Equal(t, int64(10), r.Value())

	require.NoError(t, r.Process(usageInput(base, 10)))
	require.Equal(t, int64(20), r.Value())
}

func TestUsage_OutOfOrderInputsShareTheGrid(t *testing.T) {
	base := time.Date(2023, 6, 8, 10, 30, 0, 0, time.UTC)
	r := NewUsage()

	// First input sets the grid at minute 30; an earlier input within the
	// width limit must land on the same ten-minute grid, not on its own.
	require.NoError(t, r.Process(usageInput(base, 0)))
	require.NoError(t, r.Process(usageInput(base, -14))) // slot [-20, -10)
	require.NoError(t, r.Process(usageInput(base, -1)))  // slot [-10, 0)

	require.Equal(t, int64(30), r.Value())
}

func TestUsage_TooWideSpreadFails(t *testing.T) {
	base := time.Date(2023, 6, 8, 10, 30, 0, 0, time.UTC)
	r := NewUsage()

	require.NoError(t, r.Process(usageInput(base, -14)))
	require.NoError(t, r.Process(usageInput(base, -1)))

	err := r.Process(usageInput(base, 52))
	var tooWide *TooWideUsageError
	require.ErrorAs(t, err, &tooWide)
	require.Equal(t, 66, tooWide.Minutes)

	// The failed input leaves the recorder untouched.
	require.Equal(t, int64(20), r.Value())
}

func TestUsage_RejectsWrongInputType(t *testing.T) {
	r := NewUsage()

	err := r.Process(inputs.PackageHomeVisit{Title: "wikipedia"})
	var wrongType *WrongInputTypeError
	require.ErrorAs(t, err, &wrongType)
}

func TestUsage_StateRoundTrip(t *testing.T) {
	base := time.Date(2023, 6, 8, 10, 0, 0, 0, time.UTC)
	r := NewUsage()

	require.NoError(t, r.Process(usageInput(base, 2)))
	require.NoError(t, r.Process(usageInput(base, 25)))
	require.NoError(t, r.Process(usageInput(base, 59)))
	require.Equal(t, int64(30), r.Value())

	restored := NewUsage()
	require.NoError(t, restored.RestoreState(r.State()))
	require.Equal(t, r.Value(), restored.Value())
	require.Equal(t, r.State(), restored.State())

	// A restored recorder keeps accumulating on the same grid.
	require.NoError(t, restored.Process(usageInput(base, 26)))
	require.Equal(t, int64(30), restored.Value())
}

func TestUsage_RestoreEmptyState(t *testing.T) {
	r := NewUsage()
	require.NoError(t, r.RestoreState(""))
	require.Equal(t, int64(0), r.Value())
}

func TestUsage_RestoreStateRejectsGarbage(t *testing.T) {
	r := NewUsage()
	require.Error(t, r.RestoreState("12,x,30"))
}
