// Package domain defines the transfer, batch and run records shared by the
// dispensecore planner, executor and persistence layers.
package domain

// TransferRequest is one row of a cherry-pick transfer list: move Volume from
// a source well to a destination well. Requests are parsed once and never mutated.
type TransferRequest struct {
	SourcePlate      string  `json:"source_plate"`
	SourceWell       string  `json:"source_well"`
	DestinationPlate string  `json:"destination_plate"`
	DestinationWell  string  `json:"destination_well"`
	Volume           float64 `json:"volume"`
}

// Key returns the source identity used to group requests into batches.
func (r TransferRequest) Key() SourceKey {
	return SourceKey{Plate: r.SourcePlate, Well: r.SourceWell}
}

// SourceKey identifies a single source well on a named plate.
type SourceKey struct {
	Plate string `json:"plate"`
	Well  string `json:"well"`
}

func (k SourceKey) String() string {
	return k.Plate + ":" + k.Well
}

// TransferBatch groups every request that draws from one source well. The
// destination and volume slices are parallel: index i describes one dispense.
type TransferBatch struct {
	SourcePlate       string    `json:"source_plate"`
	SourceWell        string    `json:"source_well"`
	DestinationPlates []string  `json:"destination_plates"`
	DestinationWells  []string  `json:"destination_wells"`
	Volumes           []float64 `json:"volumes"`
	TotalVolume       float64   `json:"total_volume"`
	DispenseCount     int       `json:"dispense_count"`
}

// Key returns the source identity of the batch.
func (b TransferBatch) Key() SourceKey {
	return SourceKey{Plate: b.SourcePlate, Well: b.SourceWell}
}

// Dispense is a single destination of a batch.
type Dispense struct {
	Plate  string  `json:"plate"`
	Well   string  `json:"well"`
	Volume float64 `json:"volume"`
}

// Dispenses returns the batch destinations in dispense order.
func (b TransferBatch) Dispenses() []Dispense {
	out := make([]Dispense, b.DispenseCount)
	for i := range out {
		out[i] = Dispense{Plate: b.DestinationPlates[i], Well: b.DestinationWells[i], Volume: b.Volumes[i]}
	}
	return out
}

// Aligned reports whether the parallel slices and the counters agree.
func (b TransferBatch) Aligned() bool {
	n := b.DispenseCount
	return len(b.DestinationPlates) == n && len(b.DestinationWells) == n && len(b.Volumes) == n
}
