package dedupe

// Option configures the in-memory deduper.
type Option func(*fifoDeduper)

// WithMaxSize bounds the remembered keys. Zero or negative keeps every key.
func WithMaxSize(maxSize int) Option {
	return func(d *fifoDeduper) {
		d.maxSize = maxSize
	}
}
