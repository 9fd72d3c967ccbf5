package models

import "fmt"

// AlignmentNote records a pair of neighbours whose overlap could not be
// measured. The model-predicted offset was kept for that pair.
type AlignmentNote struct {
	Row         int
	LeftColumn  int
	RightColumn int
	Reason      string

	// Peak is the phase-correlation peak height, 0 when never computed
	Peak float64
}

func (n AlignmentNote) String() string {
	return fmt.Sprintf("row %d, columns %d-%d: %s", n.Row, n.LeftColumn, n.RightColumn, n.Reason)
}

// CoverageSummary describes how much of the canvas received any frame.
type CoverageSummary struct {
	Width  int
	Height int

	// Uncovered counts canvas pixels with zero accumulated weight
	Uncovered int

	// Fraction is Uncovered divided by the canvas area
	Fraction float64

	// Tolerance is the fraction above which Gap is raised
	Tolerance float64

	// Gap flags a hole in rig coverage
	Gap bool

	// ColumnProfile is the covered fraction of every canvas column
	ColumnProfile []float64
}

// QualitySummary collects the soft conditions of a successful stitch.
type QualitySummary struct {
	Coverage  CoverageSummary
	Alignment []AlignmentNote

	// FallbackRows lists rows that used the rig-wide focal
	FallbackRows []int
}

// Degraded reports whether the stitch finished with any quality note.
func (q QualitySummary) Degraded() bool {
	return q.Coverage.Gap || len(q.Alignment) > 0 || len(q.FallbackRows) > 0
}

// Notes renders every quality condition as a human-readable line.
func (q QualitySummary) Notes() []string {
	var notes []string
	if q.Coverage.Gap {
		notes = append(notes, fmt.Sprintf("coverage gap: %.2f%% of canvas uncovered (tolerance %.2f%%)",
			q.Coverage.Fraction*100, q.Coverage.Tolerance*100))
	}
	for _, n := range q.Alignment {
		notes = append(notes, "alignment fallback: "+n.String())
	}
	for _, r := range q.FallbackRows {
		notes = append(notes, fmt.Sprintf("row %d: rig-wide fallback focal used", r))
	}
	return notes
}
