package chess

const (
	defaultSearchDepth = 12
	maxSearchDepth     = 30
)

func normalizeDepth(depth int) int {
	switch {
	case depth <= 0:
		return defaultSearchDepth
	case depth > maxSearchDepth:
		return maxSearchDepth
	}
	return depth
}
