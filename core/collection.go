package core

// SegmentScope says which part of a collection a segment serves.
type SegmentScope string

const (
	SegmentScopeVector   SegmentScope = "VECTOR"
	SegmentScopeMetadata SegmentScope = "METADATA"
)

// Collection is the catalog view of a collection.
type Collection struct {
	ID        string
	Name      string
	Topic     string
	Dimension int
	Tenant    string
	Database  string
	Metadata  map[string]any
}

// SegmentTypeRecord is the type of the segment compaction writes into.
const SegmentTypeRecord = "record"

// RecordSegmentID is the id of a collection's record segment.
func RecordSegmentID(collectionID string) string {
	return collectionID + "-record"
}

// Segment is the catalog view of a segment owned by a collection.
type Segment struct {
	ID           string
	Type         string
	Scope        SegmentScope
	Topic        string
	CollectionID string
	Metadata     map[string]any
}
