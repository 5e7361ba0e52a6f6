package models

// Category is one node of the operator-edited category tree. ParentID
// is nil at the roots. The tree is small and read far more often than
// it changes, so services work from an in-memory snapshot.
type Category struct {
	ID       int    `json:"id"`
	ParentID *int   `json:"parent_id,omitempty"`
	Name     string `json:"name"`
}
