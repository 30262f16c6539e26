package config

import (
	"dispensecore/internal/labware"
	"dispensecore/internal/logging"
	"dispensecore/internal/planner"
	"fmt"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "distribute.policy")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Validate checks every section and returns all failures
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validateDistribute()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateArchive()...)
	errs = append(errs, c.validateMetrics()...)
	return errs
}

func (c *Config) validateLogging() []ValidationError {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return []ValidationError{{Field: "logging.level", Value: c.Logging.Level, Message: "must be one of debug, info, warn, error, dpanic, panic, fatal"}}
	}
	return nil
}

func (c *Config) validateDistribute() []ValidationError {
	var errs []ValidationError
	if _, err := labware.LookupPipette(c.Pipette.Model); err != nil {
		errs = append(errs, ValidationError{Field: "pipette.model", Value: c.Pipette.Model, Message: "must be one of " + strings.Join(labware.PipetteModels(), ", ")})
	}
	d := c.Distribute
	if d.DisposalVolume < 0 {
		errs = append(errs, ValidationError{Field: "distribute.disposal_volume", Value: d.DisposalVolume, Message: "must not be negative"})
	}
	if _, err := planner.ParsePolicy(d.Policy); err != nil {
		errs = append(errs, ValidationError{Field: "distribute.policy", Value: d.Policy, Message: "must be split or strict"})
	}
	if d.MixRepetitions < 0 {
		errs = append(errs, ValidationError{Field: "distribute.mix_repetitions", Value: d.MixRepetitions, Message: "must not be negative"})
	}
	if d.MixVolume < 0 {
		errs = append(errs, ValidationError{Field: "distribute.mix_volume", Value: d.MixVolume, Message: "must not be negative"})
	}
	if _, err := planner.ParseBlowOut(d.BlowOut); err != nil {
		errs = append(errs, ValidationError{Field: "distribute.blow_out", Value: d.BlowOut, Message: "must be source, destination or trash"})
	}
	if d.AspirateOffset < 0 {
		errs = append(errs, ValidationError{Field: "distribute.aspirate_offset", Value: d.AspirateOffset, Message: "must not be negative"})
	}
	if d.DispenseOffset < 0 {
		errs = append(errs, ValidationError{Field: "distribute.dispense_offset", Value: d.DispenseOffset, Message: "must not be negative"})
	}
	if d.FlowRateFraction <= 0 || d.FlowRateFraction > 1 {
		errs = append(errs, ValidationError{Field: "distribute.flow_rate_fraction", Value: d.FlowRateFraction, Message: "must be in (0, 1]"})
	}
	return errs
}

func (c *Config) validateStorage() []ValidationError {
	switch strings.ToLower(c.Storage.Driver) {
	case "memory", "sqlite", "postgres":
		return nil
	}
	return []ValidationError{{Field: "storage.driver", Value: c.Storage.Driver, Message: "must be memory, sqlite or postgres"}}
}

func (c *Config) validateArchive() []ValidationError {
	switch strings.ToLower(c.Archive.Driver) {
	case "fs", "memory":
		return nil
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return []ValidationError{{Field: "archive.s3.bucket", Value: "", Message: "required when archive.driver is s3"}}
		}
		return nil
	}
	return []ValidationError{{Field: "archive.driver", Value: c.Archive.Driver, Message: "must be fs, memory or s3"}}
}

func (c *Config) validateMetrics() []ValidationError {
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Namespace) == "" {
		return []ValidationError{{Field: "metrics.namespace", Value: c.Metrics.Namespace, Message: "required when metrics are enabled"}}
	}
	return nil
}
