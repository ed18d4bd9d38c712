package core

import "context"

// ReadableStore is a store that can verify it is readable.
type ReadableStore interface {
	CheckReadable(ctx context.Context) error
}

// WritableStore is a store that can verify it is writable.
type WritableStore interface {
	CheckWritable(ctx context.Context) error
}

// InputStoreProbe reports whether the input field store can be read.
func InputStoreProbe(s ReadableStore) HealthProbe {
	return ProbeFunc{ProbeName: "input_store", Fn: s.CheckReadable}
}

// OutputStoreProbe reports whether the output field store accepts writes.
func OutputStoreProbe(s WritableStore) HealthProbe {
	return ProbeFunc{ProbeName: "output_store", Fn: s.CheckWritable}
}
