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

package storage

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/bcem/mailrouter/internal/mapping"
)

// ErrIncompatibleValue is returned when a resolved value cannot be stored
// in its destination column.
var ErrIncompatibleValue = errors.New("incompatible column value")

// Coerce converts a resolved value to the Go type its column kind stores:
// int64 for email references, time.Time for timestamps, decimal.Decimal for
// amounts, and string for every text-like kind.
func Coerce(v any, kind ColumnKind) (any, error) {
	var (
		out any
		err error
	)
	switch kind {
	case KindEmailRef:
		out, err = toInt64(v)
	case KindTimestamp:
		out, err = toTime(v)
	case KindDecimal:
		out, err = toDecimal(v)
	default:
		out = mapping.String(v)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s column from %T %q: %v", ErrIncompatibleValue, kind, v, mapping.String(v), err)
	}
	return out, nil
}

// bind returns the parameter pgx encodes for a coerced value.
func bind(v any) any {
	if d, ok := v.(decimal.Decimal); ok {
		return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
	}
	return v
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) || x < math.MinInt64 || x >= math.MaxInt64 {
			return 0, errors.New("not an integer")
		}
		return int64(x), nil
	case decimal.Decimal:
		if !x.IsInteger() {
			return 0, errors.New("not an integer")
		}
		return x.IntPart(), nil
	default:
		return strconv.ParseInt(strings.TrimSpace(mapping.String(v)), 10, 64)
	}
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case int64:
		return time.Unix(x, 0).UTC(), nil
	case int:
		return time.Unix(int64(x), 0).UTC(), nil
	case float64:
		sec, frac := math.Modf(x)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	default:
		return dateparse.ParseIn(strings.TrimSpace(mapping.String(v)), time.UTC)
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case int64:
		return decimal.NewFromInt(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Decimal{}, errors.New("not a finite number")
		}
		return decimal.NewFromFloat(x), nil
	default:
		s := strings.TrimSpace(mapping.String(v))
		s = strings.TrimLeft(s, "$€£")
		return decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	}
}
