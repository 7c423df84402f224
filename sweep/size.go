package sweep

import (
	"errors"
	"math"
)

// MinRatio is the smallest storage overhead ratio accepted by EstimateSizeBytes.
const MinRatio = 1e-9

// ErrDegenerateRatio is returned when the ratio is zero, negative, or not finite.
var ErrDegenerateRatio = errors.New("overhead ratio is zero or not finite")

// EstimateSizeBytes converts overhead bits and the overhead ratio into total
// hardware size: overhead/ratio recovers the data bits, plus the overhead
// itself, rounded up to whole bytes.
func EstimateSizeBytes(overheadBits uint64, ratio float64) (uint64, error) {
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) || ratio < MinRatio {
		return 0, ErrDegenerateRatio
	}
	overhead := float64(overheadBits)
	bits := overhead/ratio + overhead
	if math.IsInf(bits, 0) || bits > math.MaxUint64 {
		return 0, ErrDegenerateRatio
	}
	return uint64(math.Ceil(bits / 8)), nil
}
