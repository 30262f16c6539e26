package consolidate

import (
	"sort"

	"dispensecore/pkg/domain"
)

// Summary aggregates a consolidated worklist.
type Summary struct {
	Batches     int
	Requests    int
	TotalVolume float64
	// PlateVolumes is the volume delivered to each destination plate.
	PlateVolumes map[string]float64
	// LargestBatch is the source with the highest total volume.
	LargestBatch domain.SourceKey
	LargestTotal float64
}

// Summarize computes totals over batches.
func Summarize(batches []domain.TransferBatch) Summary {
	s := Summary{Batches: len(batches), PlateVolumes: make(map[string]float64)}
	for _, b := range batches {
		s.Requests += b.DispenseCount
		s.TotalVolume += b.TotalVolume
		for i, plate := range b.DestinationPlates {
			s.PlateVolumes[plate] += b.Volumes[i]
		}
		if b.TotalVolume > s.LargestTotal {
			s.LargestTotal = b.TotalVolume
			s.LargestBatch = b.Key()
		}
	}
	return s
}

// DestinationPlates returns the destination plate names in sorted order.
func (s Summary) DestinationPlates() []string {
	out := make([]string, 0, len(s.PlateVolumes))
	for plate := range s.PlateVolumes {
		out = append(out, plate)
	}
	sort.Strings(out)
	return out
}
