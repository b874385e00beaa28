package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// MaxPolicyFileSize bounds the policy file read from disk.
const MaxPolicyFileSize = 1024 * 1024

// Policy carries the business heuristics that are tuned rather than coded.
type Policy struct {
	Identity IdentityPolicy `yaml:"identity"`
	Load     LoadPolicy     `yaml:"load"`
}

// IdentityPolicy controls how entities are matched across snapshots.
type IdentityPolicy struct {
	DeliverableTitleFallback bool   `yaml:"deliverable_title_fallback"`
	DisciplineTitleFallback  bool   `yaml:"discipline_title_fallback"`
	UnannouncedMarker        string `yaml:"unannounced_marker"`
}

// LoadPolicy parameterises the workload metric.
type LoadPolicy struct {
	HoursPerTask   float64 `yaml:"hours_per_task"`
	FocusFactor    float64 `yaml:"focus_factor"`
	HoursPerDay    float64 `yaml:"hours_per_day"`
	PartTimeWeight float64 `yaml:"part_time_weight"`
}

// DefaultPolicy is used when no policy file exists.
func DefaultPolicy() Policy {
	return Policy{
		Identity: IdentityPolicy{
			DeliverableTitleFallback: true,
			DisciplineTitleFallback:  false,
			UnannouncedMarker:        "Unannounced",
		},
		Load: LoadPolicy{
			HoursPerTask:   80,
			FocusFactor:    0.6,
			HoursPerDay:    8,
			PartTimeWeight: 0.5,
		},
	}
}

// LoadPolicyFile reads a YAML policy file. Keys absent from the file keep their
// defaults; an empty path or a missing file yields DefaultPolicy.
func LoadPolicyFile(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return policy, nil
	}
	if err != nil {
		return Policy{}, fmt.Errorf("stat policy file: %w", err)
	}
	if info.Size() > MaxPolicyFileSize {
		return Policy{}, fmt.Errorf("policy file too large: %d bytes (max %d)", info.Size(), MaxPolicyFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// Validate rejects load parameters that would divide by zero or go negative.
func (p Policy) Validate() error {
	l := p.Load
	if l.HoursPerTask <= 0 || l.FocusFactor <= 0 || l.HoursPerDay <= 0 {
		return fmt.Errorf("policy: hours_per_task, focus_factor and hours_per_day must be positive")
	}
	if l.PartTimeWeight < 0 || l.PartTimeWeight > 1 {
		return fmt.Errorf("policy: part_time_weight must be within [0, 1]")
	}
	return nil
}
