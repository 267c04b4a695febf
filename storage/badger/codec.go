package badger

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mstfbysl/ai-clickhouse-pipeline/storage"
)

// Values are stored as BSON so a local store holds the same documents the
// mongo sink writes.

func encode(v any) ([]byte, error) {
	data, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return data, nil
}

func decode(data []byte, v any) error {
	if err := bson.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return nil
}
