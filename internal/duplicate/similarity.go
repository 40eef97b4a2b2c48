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

package duplicate

import (
	"github.com/pmezard/go-difflib/difflib"
)

// Ratio returns the character-level sequence similarity of a and b in
// [0,1], computed as 2*M/T where M is the number of matching characters
// and T the total length of both strings.
func Ratio(a, b string) float64 {
	return newMatcher(a, b).Ratio()
}

// ratioAtLeast computes Ratio only when the cheap upper bounds allow it to
// reach min.
func ratioAtLeast(a, b string, min float64) (float64, bool) {
	m := newMatcher(a, b)
	if m.RealQuickRatio() < min || m.QuickRatio() < min {
		return 0, false
	}
	r := m.Ratio()
	return r, r >= min
}

func newMatcher(a, b string) *difflib.SequenceMatcher {
	return difflib.NewMatcherWithJunk(runes(a), runes(b), false, nil)
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
