package math

import (
	"crypto/rand"
	"math/big"
	"sort"
)

// PercentilesFloat64Reverse calculates the percentile of a slice of floats in reverse order.
// NOTE: The unit of each value of xs is 'bytes' and the result is 'MB'.
func PercentilesFloat64Reverse(xs []float64, ps ...float64) []float64 {
	if len(xs) == 0 {
		return nil
	}

	// Sort in descending order
	sort.Sort(ReverseFloat64Slice(xs))
	results := []float64{}

	for _, p := range ps {
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}

		i := int(float64(len(xs)-1) * p)
		results = append(results, xs[i]/1024/1024)
	}

	return results
}

// RandomOffsets generates n random offsets in [0, size), simulating the
// seek pattern of a demuxer scrubbing through a stream.
func RandomOffsets(size int64, n int) []int64 {
	offsets := make([]int64, 0, n)
	if size <= 0 {
		return offsets
	}

	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, big.NewInt(size))
		if err != nil {
			panic(err)
		}
		offsets = append(offsets, v.Int64())
	}

	return offsets
}
