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

package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/shopspring/decimal"

	"github.com/bcem/mailrouter/internal/models"
)

var (
	separatorRe = regexp.MustCompile(`[,\s]`)
	currencyRe  = regexp.MustCompile(`^[$€£]`)
)

// Convert turns a raw capture into the target type. On failure it returns
// the trimmed raw string together with the error, so callers can keep the
// value and log the problem.
func Convert(raw string, t models.DataType) (any, error) {
	trimmed := strings.TrimSpace(raw)

	switch t {
	case models.TypeInteger:
		n, err := strconv.ParseInt(clean(trimmed), 10, 64)
		if err != nil {
			return trimmed, fmt.Errorf("convert %q to integer: %w", trimmed, err)
		}
		return n, nil

	case models.TypeDecimal:
		d, err := decimal.NewFromString(clean(trimmed))
		if err != nil {
			return trimmed, fmt.Errorf("convert %q to decimal: %w", trimmed, err)
		}
		return d, nil

	case models.TypeDate:
		ts, err := dateparse.ParseAny(trimmed)
		if err != nil {
			return trimmed, fmt.Errorf("convert %q to date: %w", trimmed, err)
		}
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), nil

	case models.TypeDateTime:
		ts, err := dateparse.ParseAny(trimmed)
		if err != nil {
			return trimmed, fmt.Errorf("convert %q to datetime: %w", trimmed, err)
		}
		return ts, nil

	default:
		return trimmed, nil
	}
}

// clean strips a leading currency symbol and thousands separators.
func clean(s string) string {
	return separatorRe.ReplaceAllString(currencyRe.ReplaceAllString(s, ""), "")
}
