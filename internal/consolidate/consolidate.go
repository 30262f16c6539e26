// Package consolidate groups a flat cherry-pick transfer list into one
// dispense batch per source well.
//
// Batches come back in the order their source well first appears in the
// input, and each batch lists its destinations in input row order. That order
// decides which reagent a device draws down first, so callers must not
// re-sort the result.
package consolidate

import "dispensecore/pkg/domain"

// index is an insertion-ordered map from source key to batch.
type index struct {
	batches  []domain.TransferBatch
	position map[domain.SourceKey]int
}

func newIndex(capacity int) *index {
	return &index{
		batches:  make([]domain.TransferBatch, 0, capacity),
		position: make(map[domain.SourceKey]int, capacity),
	}
}

func (ix *index) add(req domain.TransferRequest) {
	key := req.Key()
	pos, ok := ix.position[key]
	if !ok {
		ix.position[key] = len(ix.batches)
		ix.batches = append(ix.batches, domain.TransferBatch{
			SourcePlate:       req.SourcePlate,
			SourceWell:        req.SourceWell,
			DestinationPlates: []string{req.DestinationPlate},
			DestinationWells:  []string{req.DestinationWell},
			Volumes:           []float64{req.Volume},
			TotalVolume:       req.Volume,
			DispenseCount:     1,
		})
		return
	}
	b := &ix.batches[pos]
	b.DestinationPlates = append(b.DestinationPlates, req.DestinationPlate)
	b.DestinationWells = append(b.DestinationWells, req.DestinationWell)
	b.Volumes = append(b.Volumes, req.Volume)
	b.TotalVolume += req.Volume
	b.DispenseCount++
}

// Consolidate scans requests once and returns one batch per distinct
// (source plate, source well) pair. It never mutates requests, never fails
// and does not validate volumes.
func Consolidate(requests []domain.TransferRequest) []domain.TransferBatch {
	ix := newIndex(len(requests))
	for _, req := range requests {
		ix.add(req)
	}
	return ix.batches
}
