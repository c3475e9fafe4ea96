package filter

// BatchSizeFor picks the live-search batch size for a venue of n photos.
// Larger venues use larger batches to bound the number of sequential phases.
func BatchSizeFor(n int) int {
	switch {
	case n <= 50:
		return 10
	case n <= 200:
		return 15
	default:
		return 20
	}
}

// ClampBatchSize keeps size within [1, ceiling]. A ceiling <= 0 means none.
func ClampBatchSize(size, ceiling int) int {
	if size < 1 {
		size = 1
	}
	if ceiling > 0 && size > ceiling {
		size = ceiling
	}
	return size
}

// Partition splits keys into consecutive batches of at most size elements.
func Partition(keys []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	batches := make([][]string, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		batches = append(batches, keys[start:end])
	}
	return batches
}
