package sketches

import (
	crand "crypto/rand"
	"encoding/binary"
	"math"
	"math/bits"
	"math/rand"

	"github.com/cockroachdb/errors"
)

// LongPrime is the modulus of the pairwise-independent hash family.
const LongPrime uint64 = 4294967311

var (
	ErrInvalidEpsilon       = errors.New("epsilon must satisfy 0.01 < epsilon < 1")
	ErrInvalidGamma         = errors.New("gamma must satisfy 0 < gamma < 1")
	ErrIncompatibleSketches = errors.New("sketches have different dimensions or hash coefficients")
)

// SeedMode selects where hash coefficients come from.
type SeedMode int

const (
	// SeedRandom draws coefficients from an entropy-seeded generator.
	SeedRandom SeedMode = iota
	// SeedFixed draws coefficients from a generator seeded with Seeding.Seed,
	// so two sketches built with the same seed and parameters hash identically.
	SeedFixed
)

// Seeding configures coefficient generation for new sketches.
type Seeding struct {
	Mode SeedMode
	Seed int64
}

// FixedSeed returns a reproducible seeding.
func FixedSeed(seed int64) Seeding {
	return Seeding{Mode: SeedFixed, Seed: seed}
}

// RandomSeed returns an entropy-backed seeding.
func RandomSeed() Seeding {
	return Seeding{Mode: SeedRandom}
}

func (s Seeding) source() *rand.Rand {
	if s.Mode == SeedFixed {
		return rand.New(rand.NewSource(s.Seed))
	}
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(errors.Wrap(err, "reading entropy for sketch seed"))
	}
	return rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(b[:]))))
}

// HashPair holds the (a, b) coefficients of one row's hash function
// h(x) = (a*x + b) mod LongPrime.
type HashPair struct {
	A uint64 `json:"a"`
	B uint64 `json:"b"`
}

// GenerateHashes draws depth coefficient pairs uniformly from [1, LongPrime].
func GenerateHashes(depth int, seeding Seeding) []HashPair {
	rng := seeding.source()
	hashes := make([]HashPair, depth)
	for i := range hashes {
		hashes[i] = HashPair{
			A: uint64(rng.Int63n(int64(LongPrime))) + 1,
			B: uint64(rng.Int63n(int64(LongPrime))) + 1,
		}
	}
	return hashes
}

// CountMinSketch implements the Count-Min Sketch for frequency estimation.
// Counters live in a single buffer indexed by row*width + col.
type CountMinSketch struct {
	counters []int64
	hashes   []HashPair
	depth    int
	width    int
	epsilon  float64 // relative error bound
	gamma    float64 // failure probability
	total    int64   // sum of all inserted weights
}

// Dimensions returns the width and depth implied by (epsilon, gamma):
// width = ceil(e/epsilon), depth = ceil(ln(1/gamma)).
func Dimensions(epsilon, gamma float64) (width, depth int, err error) {
	if !(epsilon > 0.01 && epsilon < 1) {
		return 0, 0, errors.Wrapf(ErrInvalidEpsilon, "got %v", epsilon)
	}
	if !(gamma > 0 && gamma < 1) {
		return 0, 0, errors.Wrapf(ErrInvalidGamma, "got %v", gamma)
	}
	width = int(math.Ceil(math.E / epsilon))
	depth = int(math.Ceil(math.Log(1 / gamma)))
	if depth < 1 {
		depth = 1
	}
	return width, depth, nil
}

// NewCountMinSketch creates a new Count-Min Sketch.
// epsilon: relative error bound, 0.01 < epsilon < 1 (e.g. 0.05)
// gamma: failure probability, 0 < gamma < 1 (e.g. 0.01)
// Out-of-range parameters are rejected, not clamped.
func NewCountMinSketch(epsilon, gamma float64, seeding Seeding) (*CountMinSketch, error) {
	_, depth, err := Dimensions(epsilon, gamma)
	if err != nil {
		return nil, err
	}
	return NewCountMinSketchWithHashes(epsilon, gamma, GenerateHashes(depth, seeding))
}

// NewCountMinSketchWithHashes creates a sketch that uses the given hash
// coefficients. len(hashes) must equal the depth implied by gamma.
func NewCountMinSketchWithHashes(epsilon, gamma float64, hashes []HashPair) (*CountMinSketch, error) {
	width, depth, err := Dimensions(epsilon, gamma)
	if err != nil {
		return nil, err
	}
	if len(hashes) != depth {
		return nil, errors.Newf("need %d hash pairs for gamma %v, got %d", depth, gamma, len(hashes))
	}
	return &CountMinSketch{
		counters: make([]int64, depth*width),
		hashes:   append([]HashPair(nil), hashes...),
		depth:    depth,
		width:    width,
		epsilon:  epsilon,
		gamma:    gamma,
	}, nil
}

func (cms *CountMinSketch) index(row int, key uint64) int {
	h := cms.hashes[row]
	hi, lo := bits.Mul64(h.A, key)
	lo, carry := bits.Add64(lo, h.B, 0)
	hi += carry
	return int(bits.Rem64(hi, lo, LongPrime) % uint64(cms.width))
}

// Update adds weight to the counters of key.
func (cms *CountMinSketch) Update(key uint64, weight int64) {
	for j := 0; j < cms.depth; j++ {
		cms.counters[j*cms.width+cms.index(j, key)] += weight
	}
	cms.total += weight
}

// UpdateString is a convenience method for string keys.
func (cms *CountMinSketch) UpdateString(key string, weight int64) {
	cms.Update(HashString(key), weight)
}

// Estimate returns the minimum counter of key across all rows.
func (cms *CountMinSketch) Estimate(key uint64) int64 {
	minCount := int64(math.MaxInt64)
	for j := 0; j < cms.depth; j++ {
		if c := cms.counters[j*cms.width+cms.index(j, key)]; c < minCount {
			minCount = c
		}
	}
	return minCount
}

// EstimateString is a convenience method for string keys.
func (cms *CountMinSketch) EstimateString(key string) int64 {
	return cms.Estimate(HashString(key))
}

// TotalCount returns the total weight inserted so far.
func (cms *CountMinSketch) TotalCount() int64 {
	return cms.total
}

func (cms *CountMinSketch) Depth() int { return cms.depth }

func (cms *CountMinSketch) Width() int { return cms.width }

func (cms *CountMinSketch) Epsilon() float64 { return cms.epsilon }

func (cms *CountMinSketch) Gamma() float64 { return cms.gamma }

// Row returns the counters of hash row j. The slice aliases the sketch and
// must not be modified.
func (cms *CountMinSketch) Row(j int) []int64 {
	return cms.counters[j*cms.width : (j+1)*cms.width : (j+1)*cms.width]
}

// Hashes returns the coefficients of hash row j.
func (cms *CountMinSketch) Hashes(j int) HashPair {
	return cms.hashes[j]
}

// ErrorBound returns the additive error bound epsilon * total.
func (cms *CountMinSketch) ErrorBound() int64 {
	return int64(cms.epsilon * float64(cms.total))
}

// Confidence returns the probability (1 - gamma) that an estimate is within
// ErrorBound of the true count.
func (cms *CountMinSketch) Confidence() float64 {
	return 1.0 - cms.gamma
}

// SizeBytes is the memory held by the counter matrix.
func (cms *CountMinSketch) SizeBytes() uint64 {
	return uint64(len(cms.counters)) * 8
}

// Compatible reports whether two sketches hash keys identically, which is
// required both for Merge and for row-wise join estimation.
func (cms *CountMinSketch) Compatible(other *CountMinSketch) bool {
	if cms.depth != other.depth || cms.width != other.width {
		return false
	}
	for j := range cms.hashes {
		if cms.hashes[j] != other.hashes[j] {
			return false
		}
	}
	return true
}

// EmptyCopy returns a zeroed sketch with the same dimensions and hash
// coefficients, for accumulating a batch of updates to Merge later.
func (cms *CountMinSketch) EmptyCopy() *CountMinSketch {
	return &CountMinSketch{
		counters: make([]int64, len(cms.counters)),
		hashes:   append([]HashPair(nil), cms.hashes...),
		depth:    cms.depth,
		width:    cms.width,
		epsilon:  cms.epsilon,
		gamma:    cms.gamma,
	}
}

// Merge combines this CMS with another CMS (must be Compatible).
func (cms *CountMinSketch) Merge(other *CountMinSketch) error {
	if !cms.Compatible(other) {
		return ErrIncompatibleSketches
	}
	for i, c := range other.counters {
		cms.counters[i] += c
	}
	cms.total += other.total
	return nil
}

// Serialize returns the CMS state as bytes.
func (cms *CountMinSketch) Serialize() []byte {
	// Header: depth(4) + width(4) + epsilon(8) + gamma(8) + total(8) = 32 bytes
	// Hashes: depth * 16 bytes, counters: depth * width * 8 bytes
	headerSize := 32
	data := make([]byte, headerSize+cms.depth*16+len(cms.counters)*8)

	binary.LittleEndian.PutUint32(data[0:4], uint32(cms.depth))
	binary.LittleEndian.PutUint32(data[4:8], uint32(cms.width))
	binary.LittleEndian.PutUint64(data[8:16], math.Float64bits(cms.epsilon))
	binary.LittleEndian.PutUint64(data[16:24], math.Float64bits(cms.gamma))
	binary.LittleEndian.PutUint64(data[24:32], uint64(cms.total))

	offset := headerSize
	for _, h := range cms.hashes {
		binary.LittleEndian.PutUint64(data[offset:offset+8], h.A)
		binary.LittleEndian.PutUint64(data[offset+8:offset+16], h.B)
		offset += 16
	}
	for _, c := range cms.counters {
		binary.LittleEndian.PutUint64(data[offset:offset+8], uint64(c))
		offset += 8
	}
	return data
}

// DeserializeCountMinSketch loads CMS state from bytes.
func DeserializeCountMinSketch(data []byte) (*CountMinSketch, error) {
	if len(data) < 32 {
		return nil, errors.New("insufficient data for CMS deserialization")
	}

	depth := int(binary.LittleEndian.Uint32(data[0:4]))
	width := int(binary.LittleEndian.Uint32(data[4:8]))
	epsilon := math.Float64frombits(binary.LittleEndian.Uint64(data[8:16]))
	gamma := math.Float64frombits(binary.LittleEndian.Uint64(data[16:24]))
	total := int64(binary.LittleEndian.Uint64(data[24:32]))

	if depth < 1 || width < 1 {
		return nil, errors.Newf("invalid CMS dimensions %dx%d", depth, width)
	}
	// Bound both dimensions by the payload before multiplying them.
	body := len(data) - 32
	if depth > body/16 || width > (body-depth*16)/8/depth {
		return nil, errors.Newf("CMS dimensions %dx%d exceed %d bytes of data", depth, width, len(data))
	}
	expectedSize := 32 + depth*16 + depth*width*8
	if len(data) != expectedSize {
		return nil, errors.Newf("data length mismatch: expected %d, got %d", expectedSize, len(data))
	}

	cms := &CountMinSketch{
		counters: make([]int64, depth*width),
		hashes:   make([]HashPair, depth),
		depth:    depth,
		width:    width,
		epsilon:  epsilon,
		gamma:    gamma,
		total:    total,
	}
	offset := 32
	for j := range cms.hashes {
		cms.hashes[j] = HashPair{
			A: binary.LittleEndian.Uint64(data[offset : offset+8]),
			B: binary.LittleEndian.Uint64(data[offset+8 : offset+16]),
		}
		offset += 16
	}
	for i := range cms.counters {
		cms.counters[i] = int64(binary.LittleEndian.Uint64(data[offset : offset+8]))
		offset += 8
	}
	return cms, nil
}

// HashString is the djb2 string hash: h = 5381; h = h*33 + byte.
func HashString(s string) uint64 {
	h := uint64(5381)
	for i := 0; i < len(s); i++ {
		h = (h << 5) + h + uint64(s[i])
	}
	return h
}
