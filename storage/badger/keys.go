package badger

// Key prefixes for different data types
const (
	resultPrefix     = "result:"
	deadLetterPrefix = "dead:"
	checkpointPrefix = "chkpt:"
)

// makeResultKey generates a key for a result by record id.
func makeResultKey(recordID string) []byte {
	return []byte(resultPrefix + recordID)
}

// makeDeadLetterKey generates a key for a dead letter by record id.
func makeDeadLetterKey(recordID string) []byte {
	return []byte(deadLetterPrefix + recordID)
}

// makeCheckpointKey generates a key for pipeline checkpoints.
func makeCheckpointKey(pipelineID string) []byte {
	return []byte(checkpointPrefix + pipelineID)
}
