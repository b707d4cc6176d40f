// Package sketches provides the probabilistic summaries behind selectivity
// estimation: a Count-Min Sketch for value frequencies and a HyperLogLog for
// distinct counts.
package sketches

// SketchType represents the type of sketch
type SketchType string

const (
	HyperLogLogType    SketchType = "hyperloglog"
	CountMinSketchType SketchType = "countmin"
)

// Sketch interface for all sketch types
type Sketch interface {
	// Serialize returns the sketch as bytes for storage
	Serialize() []byte

	// Type returns the sketch type
	Type() SketchType
}

// CardinalitySketch interface for cardinality estimation (HyperLogLog)
type CardinalitySketch interface {
	Sketch
	Add([]byte)
	AddString(string)
	Count() uint64
	StandardError() float64
}

// FrequencySketch interface for frequency estimation (Count-Min Sketch)
type FrequencySketch interface {
	Sketch
	Update(uint64, int64)
	UpdateString(string, int64)
	Estimate(uint64) int64
	EstimateString(string) int64
	TotalCount() int64
	ErrorBound() int64
	Confidence() float64
}

var _ CardinalitySketch = (*HyperLogLog)(nil)
var _ FrequencySketch = (*CountMinSketch)(nil)

func (hll *HyperLogLog) Type() SketchType {
	return HyperLogLogType
}

func (cms *CountMinSketch) Type() SketchType {
	return CountMinSketchType
}
