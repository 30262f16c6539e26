package transferlist

import (
	"encoding/csv"
	"io"
	"strconv"

	"dispensecore/pkg/domain"
)

// BatchHeader is the column order of a consolidated worklist.
var BatchHeader = []string{"Batch", ColumnSourcePlate, ColumnSourceWell, ColumnDestinationPlate, ColumnDestinationWell, ColumnVolume, "Batch Total"}

// Write renders requests with the canonical header.
func Write(w io.Writer, requests []domain.TransferRequest) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Header); err != nil {
		return err
	}
	for _, r := range requests {
		record := []string{r.SourcePlate, r.SourceWell, r.DestinationPlate, r.DestinationWell, formatVolume(r.Volume)}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteBatches renders one row per dispense, numbering batches from 1 in
// execution order.
func WriteBatches(w io.Writer, batches []domain.TransferBatch) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(BatchHeader); err != nil {
		return err
	}
	for n, b := range batches {
		for _, d := range b.Dispenses() {
			record := []string{
				strconv.Itoa(n + 1),
				b.SourcePlate,
				b.SourceWell,
				d.Plate,
				d.Well,
				formatVolume(d.Volume),
				formatVolume(b.TotalVolume),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatVolume(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
