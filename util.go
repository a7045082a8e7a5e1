package flexihash

// extractHashTag returns the part of key between the first '{' and the
// following '}', so that "user{42}:name" and "cart{42}" land on the same
// target. Keys without a non-empty tag are returned unchanged.
func extractHashTag(key string) string {
	start := -1
	stop := -1
	for i, b := range key {
		if start == -1 && b == '{' {
			start = i
		} else if start >= 0 && stop == -1 && b == '}' {
			stop = i
		}
	}
	if start >= 0 && start+1 < stop {
		return key[start+1 : stop]
	}
	return key
}
