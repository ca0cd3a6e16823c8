package core

import "fmt"

// Operation is the mutation carried by a log record.
type Operation uint8

const (
	OperationAdd Operation = iota
	OperationUpdate
	OperationUpsert
	OperationDelete
)

func (o Operation) String() string {
	switch o {
	case OperationAdd:
		return "add"
	case OperationUpdate:
		return "update"
	case OperationUpsert:
		return "upsert"
	case OperationDelete:
		return "delete"
	default:
		return fmt.Sprintf("operation(%d)", uint8(o))
	}
}

// EmbeddingRecord is the unit of log and segment data that flows through
// scan, dedup and write. ID is both the dedup key and the partition key.
type EmbeddingRecord struct {
	ID           string
	SeqID        int64
	Embedding    []float32
	Encoding     string
	Metadata     map[string]any
	Operation    Operation
	CollectionID string
}

// Clone returns a deep copy of the record.
func (r *EmbeddingRecord) Clone() *EmbeddingRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Embedding != nil {
		out.Embedding = append([]float32(nil), r.Embedding...)
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// IDs returns the record identifiers in input order.
func IDs(records []*EmbeddingRecord) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}
