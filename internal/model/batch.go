package model

// Batch is an ordered, fixed subset of hosts restarted concurrently as a
// unit. Batches are constructed once per rollout and never change
// membership, even when hosts fail.
type Batch struct {
	Index int     `json:"index"`
	Group string  `json:"group"`
	Hosts []*Host `json:"hosts"`
}
