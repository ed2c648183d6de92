package core

// Frame is one encoded outbound message.
type Frame []byte

// SignalConnection abstracts the messaging transport of one client.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues f without blocking. An error means the transport
	// can no longer keep up or is gone.
	TrySend(Frame) error
	Close()
}
