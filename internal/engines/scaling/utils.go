package scaling

// clamp bounds v to [lo, hi]. lo <= hi is assumed.
func clamp(v int64, lo, hi int32) int32 {
	if v < int64(lo) {
		return lo
	}
	if v > int64(hi) {
		return hi
	}
	return int32(v)
}
