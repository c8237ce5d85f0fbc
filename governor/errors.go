package governor

import "errors"

var (
	// ErrClosed is returned by Fetch after Close.
	ErrClosed = errors.New("governor: closed")

	// ErrNilProducer is returned when Fetch is called without a producer.
	ErrNilProducer = errors.New("governor: nil producer")

	// ErrProducerPanic wraps a panic raised inside a producer.
	ErrProducerPanic = errors.New("governor: producer panicked")

	// ErrUnexpectedType is returned by FetchAs when a cached value has a
	// different type than requested.
	ErrUnexpectedType = errors.New("governor: unexpected value type")
)
