package suppliers

// Supplier is the subset of supplier master data needed to attribute
// received batches.
type Supplier struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}
