package constants

const (
	// IDRandomBytes is the number of random bytes in generated entity IDs.
	IDRandomBytes = 12

	// WSClientSendBufferSize is the per-connection outbound buffer.
	WSClientSendBufferSize = 256

	// WSBroadcastBufferSize is the hub's fan-out queue depth.
	WSBroadcastBufferSize = 1024

	// MessageHistoryMaxLimit caps the page size of history queries.
	MessageHistoryMaxLimit = 200
)
