package constants

const (
	// ChunkSize is the default chunk payload size in bytes.
	ChunkSize = 1024

	// ReplicationFactor is the minimum number of distinct peers every
	// chunk must be pushed to during replication.
	ReplicationFactor = 2
)
