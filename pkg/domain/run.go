package domain

import (
	"fmt"
	"time"
)

// RunStatus describes the outcome of an executed transfer list.
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run records one execution of a transfer list against a device.
type Run struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Status         RunStatus          `json:"status"`
	Pipette        string             `json:"pipette"`
	Requests       int                `json:"requests"`
	Batches        int                `json:"batches"`
	Cycles         int                `json:"cycles"`
	Dispenses      int                `json:"dispenses"`
	TotalVolume    float64            `json:"total_volume"`
	DisposalVolume float64            `json:"disposal_volume"`
	PlateVolumes   map[string]float64 `json:"plate_volumes,omitempty"`
	Artifacts      []string           `json:"artifacts,omitempty"`
	Error          string             `json:"error,omitempty"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     time.Time          `json:"finished_at"`
}

// Duration returns the wall time spent executing the run.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Clone returns a deep copy of the run.
func (r Run) Clone() Run {
	cp := r
	if r.PlateVolumes != nil {
		cp.PlateVolumes = make(map[string]float64, len(r.PlateVolumes))
		for k, v := range r.PlateVolumes {
			cp.PlateVolumes[k] = v
		}
	}
	cp.Artifacts = append([]string(nil), r.Artifacts...)
	return cp
}

// ErrRunNotFound is returned when a run lookup misses.
type ErrRunNotFound struct {
	ID string
}

func (e ErrRunNotFound) Error() string {
	return fmt.Sprintf("run %s not found", e.ID)
}
