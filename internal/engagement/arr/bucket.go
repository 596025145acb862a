package arr

import (
	"fmt"
	"math"
)

// Bucket is the account revenue tier derived from trailing ARR.
type Bucket string

const (
	BucketUnder50k     Bucket = "<50k"
	Bucket50kTo100k    Bucket = "50-100k"
	Bucket100kPlus     Bucket = "100k+"
	BucketUnclassified Bucket = "unclassified"
)

const (
	lowerBoundMid  = 50000.0
	lowerBoundHigh = 100000.0
)

// orderedBuckets is the display order; unclassified always sorts last.
var orderedBuckets = []Bucket{
	BucketUnder50k,
	Bucket50kTo100k,
	Bucket100kPlus,
	BucketUnclassified,
}

// Classify maps an ARR value to its bracket. Lower bounds are inclusive:
// 50000 is 50-100k and 100000 is 100k+. A nil or NaN value is unclassified.
func Classify(value *float64) Bucket {
	if value == nil || math.IsNaN(*value) {
		return BucketUnclassified
	}
	switch v := *value; {
	case v < lowerBoundMid:
		return BucketUnder50k
	case v < lowerBoundHigh:
		return Bucket50kTo100k
	default:
		return Bucket100kPlus
	}
}

// ClassifyAll returns the bracket for each value, preserving positions.
func ClassifyAll(values []*float64) []Bucket {
	out := make([]Bucket, len(values))
	for i, v := range values {
		out[i] = Classify(v)
	}
	return out
}

// Ordered returns every bucket in display order.
func Ordered() []Bucket {
	out := make([]Bucket, len(orderedBuckets))
	copy(out, orderedBuckets)
	return out
}

// IsValid reports whether the value is one of the known buckets.
func (b Bucket) IsValid() bool {
	return b.Rank() >= 0
}

// Rank is the position of the bucket in display order, or -1 when unknown.
func (b Bucket) Rank() int {
	for i, candidate := range orderedBuckets {
		if candidate == b {
			return i
		}
	}
	return -1
}

// ParseBucket converts the raw label to a Bucket.
func ParseBucket(value string) (Bucket, error) {
	for _, candidate := range orderedBuckets {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid arr bucket %q", value)
}
