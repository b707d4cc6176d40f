package sketches

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/bits"

	"github.com/cockroachdb/errors"
)

// HyperLogLog estimates the number of distinct values in a column. The
// collector uses it to derive records-per-key statistics for indexes.
type HyperLogLog struct {
	registers []uint8
	b         uint8   // register index bits, m = 2^b
	m         uint32  // number of registers
	alpha     float64 // bias correction constant
}

// NewHyperLogLog creates a new HyperLogLog with 2^b registers, 4 <= b <= 16.
func NewHyperLogLog(b uint8) (*HyperLogLog, error) {
	if b < 4 || b > 16 {
		return nil, errors.Newf("hyperloglog precision must be in [4, 16], got %d", b)
	}
	m := uint32(1) << b

	var alpha float64
	switch {
	case m >= 128:
		alpha = 0.7213 / (1 + 1.079/float64(m))
	case m >= 64:
		alpha = 0.709
	case m >= 32:
		alpha = 0.697
	default:
		alpha = 0.673
	}

	return &HyperLogLog{
		registers: make([]uint8, m),
		b:         b,
		m:         m,
		alpha:     alpha,
	}, nil
}

// Precision returns b, the number of register index bits.
func (hll *HyperLogLog) Precision() uint8 { return hll.b }

// Add adds a value to the HyperLogLog
func (hll *HyperLogLog) Add(value []byte) {
	h := fnv.New64a()
	_, _ = h.Write(value)
	x := h.Sum64()

	j := x & uint64(hll.m-1)
	w := x >> hll.b
	// rank is the position of the lowest set bit in the remaining 64-b bits
	rank := uint8(64-hll.b) + 1
	if w != 0 {
		rank = uint8(bits.TrailingZeros64(w)) + 1
	}
	if rank > hll.registers[j] {
		hll.registers[j] = rank
	}
}

func (hll *HyperLogLog) AddString(value string) {
	hll.Add([]byte(value))
}

// Count estimates the cardinality
func (hll *HyperLogLog) Count() uint64 {
	m := float64(hll.m)
	sum := 0.0
	zeros := 0
	for _, reg := range hll.registers {
		sum += math.Ldexp(1, -int(reg))
		if reg == 0 {
			zeros++
		}
	}
	raw := hll.alpha * m * m / sum

	// small range correction
	if raw <= 2.5*m && zeros != 0 {
		return uint64(math.Round(m * math.Log(m/float64(zeros))))
	}
	return uint64(math.Round(raw))
}

// StandardError returns the theoretical relative standard error.
func (hll *HyperLogLog) StandardError() float64 {
	return 1.04 / math.Sqrt(float64(hll.m))
}

// Merge combines this HLL with another HLL (must have same precision)
func (hll *HyperLogLog) Merge(other *HyperLogLog) error {
	if hll.b != other.b {
		return errors.Newf("cannot merge HLLs with precision %d and %d", hll.b, other.b)
	}
	for i, r := range other.registers {
		if r > hll.registers[i] {
			hll.registers[i] = r
		}
	}
	return nil
}

// Serialize returns the HLL state as bytes
func (hll *HyperLogLog) Serialize() []byte {
	data := make([]byte, 5+len(hll.registers))
	data[0] = hll.b
	binary.LittleEndian.PutUint32(data[1:5], hll.m)
	copy(data[5:], hll.registers)
	return data
}

// DeserializeHyperLogLog loads HLL state from bytes
func DeserializeHyperLogLog(data []byte) (*HyperLogLog, error) {
	if len(data) < 5 {
		return nil, errors.New("insufficient data for HLL deserialization")
	}
	hll, err := NewHyperLogLog(data[0])
	if err != nil {
		return nil, err
	}
	if m := binary.LittleEndian.Uint32(data[1:5]); m != hll.m || len(data) != int(5+m) {
		return nil, errors.New("data length mismatch")
	}
	copy(hll.registers, data[5:])
	return hll, nil
}
