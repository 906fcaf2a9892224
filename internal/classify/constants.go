package classify

// Matching thresholds
const (
	// Tokens shorter than this are OCR debris (counters, icons)
	MinTokenLen = 4

	// Candidate is truncated to this many characters before matching
	MaxPrefixLen = 6

	// Edit distance must be strictly below this to match a label
	MaxDistance = 2
)
