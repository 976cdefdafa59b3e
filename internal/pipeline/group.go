package pipeline

// Bucket holds the items displayed under one stage and their value total.
type Bucket[T Item] struct {
	Stage Stage   `json:"stage"`
	Items []T     `json:"items"`
	Total float64 `json:"total"`
}

// Count returns the number of items in the bucket.
func (b Bucket[T]) Count() int { return len(b.Items) }

// Group distributes items into one bucket per stage, in stage order. Items
// keep their source order inside a bucket. overrides, keyed by item id,
// replaces an item's stage for display. Items whose stage is not in stages
// are left out.
func Group[T Item](stages Stages, items []T, overrides map[string]Stage) []Bucket[T] {
	buckets := make([]Bucket[T], len(stages))
	index := make(map[Stage]int, len(stages))
	for i, s := range stages {
		buckets[i] = Bucket[T]{Stage: s, Items: []T{}}
		index[s] = i
	}
	for _, item := range items {
		stage := item.PipelineStage()
		if override, ok := overrides[item.PipelineID()]; ok {
			stage = override
		}
		i, ok := index[stage]
		if !ok {
			continue
		}
		buckets[i].Items = append(buckets[i].Items, item)
		buckets[i].Total += item.PipelineValue()
	}
	return buckets
}

// Locate finds the item with id and its displayed stage.
func Locate[T Item](items []T, overrides map[string]Stage, id string) (T, Stage, bool) {
	for _, item := range items {
		if item.PipelineID() != id {
			continue
		}
		stage := item.PipelineStage()
		if override, ok := overrides[id]; ok {
			stage = override
		}
		return item, stage, true
	}
	var zero T
	return zero, "", false
}
