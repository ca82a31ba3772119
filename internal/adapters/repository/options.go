package repository

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithHistoryLimit caps the retained weight-history rows per segment and the
// retained drift reports per segment. Zero or negative keeps everything.
func WithHistoryLimit(n int) Option {
	return func(s *MemoryStore) {
		s.historyLimit = n
	}
}

// WithMaxLimit bounds the limit accepted by history reads.
func WithMaxLimit(n int) Option {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}
