// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package duplicate decides whether an incoming email is a copy of an
// earlier one. The matcher is a pure decision function: it never touches
// storage, and callers persist whatever links they choose to keep.
//
// Detection is parameterized by a Strategy. The general and aggressive
// variants differ only in their candidate window, candidate cap, check
// order and thresholds.
package duplicate

import (
	"fmt"
	"time"
)

// Check is one step of the detection chain.
type Check string

const (
	CheckExact     Check = "exact"
	CheckSignature Check = "signature"
	CheckSubject   Check = "subject"
	CheckFuzzy     Check = "fuzzy"
)

// Strategy configures candidate selection and the detection chain.
type Strategy struct {
	Name string

	// Window bounds candidate selection around the target's received time.
	// A symmetric window also admits candidates received after the target.
	Window    time.Duration
	Symmetric bool

	// MaxCandidates caps the candidate pool. OrderByProximity sorts by
	// distance from the target's received time instead of recency.
	MaxCandidates    int
	OrderByProximity bool

	// Checks run in order; the first that fires wins.
	Checks []Check

	// NearExact and Similar are the fuzzy ratio thresholds. A ratio at or
	// above Similar but below NearExact is tagged similar_content.
	NearExact float64
	Similar   float64

	// FuzzyMinLength skips the fuzzy check when either normalized body is
	// shorter. FuzzyMaxLength bounds the compared prefix.
	FuzzyMinLength int
	FuzzyMaxLength int

	// LengthRatio is the minimum body length ratio for the subject check.
	LengthRatio float64

	// AssignThreshold is the minimum score a link needs to be persisted.
	AssignThreshold float64
}

// General matches copies delivered up to a week apart.
func General() Strategy {
	return Strategy{
		Name:            "general",
		Window:          7 * 24 * time.Hour,
		MaxCandidates:   100,
		Checks:          []Check{CheckExact, CheckSignature, CheckSubject, CheckFuzzy},
		NearExact:       0.95,
		Similar:         0.85,
		FuzzyMaxLength:  2000,
		LengthRatio:     0.85,
		AssignThreshold: 0.85,
	}
}

// Aggressive targets near-simultaneous multi-recipient sends and only
// accepts near-exact fuzzy matches on bodies of meaningful length.
func Aggressive() Strategy {
	return Strategy{
		Name:             "aggressive",
		Window:           300 * time.Second,
		Symmetric:        true,
		MaxCandidates:    20,
		OrderByProximity: true,
		Checks:           []Check{CheckExact, CheckSignature, CheckSubject, CheckFuzzy},
		NearExact:        0.95,
		Similar:          0.95,
		FuzzyMinLength:   100,
		FuzzyMaxLength:   2000,
		LengthRatio:      0.85,
		AssignThreshold:  0.85,
	}
}

// ByName returns the preset with the given name.
func ByName(name string) (Strategy, error) {
	switch name {
	case "", "general":
		return General(), nil
	case "aggressive":
		return Aggressive(), nil
	default:
		return Strategy{}, fmt.Errorf("unknown duplicate strategy %q", name)
	}
}

// Validate reports configuration that would make the chain meaningless.
func (s Strategy) Validate() error {
	if s.Window <= 0 {
		return fmt.Errorf("strategy %s: window must be positive", s.Name)
	}
	if s.MaxCandidates <= 0 {
		return fmt.Errorf("strategy %s: max candidates must be positive", s.Name)
	}
	for _, v := range []float64{s.NearExact, s.Similar, s.LengthRatio, s.AssignThreshold} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("strategy %s: thresholds must be in (0,1], got %v", s.Name, v)
		}
	}
	if s.Similar > s.NearExact {
		return fmt.Errorf("strategy %s: similar threshold %v above near-exact %v", s.Name, s.Similar, s.NearExact)
	}
	return nil
}

// Range returns the received-time bounds for candidates of an email
// received at t.
func (s Strategy) Range(t time.Time) (from, to time.Time) {
	if s.Symmetric {
		return t.Add(-s.Window), t.Add(s.Window)
	}
	return t.Add(-s.Window), t
}
