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

package mapping

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/mailrouter/internal/models"
)

func testEnv() Env {
	return Env{
		Email: &models.Email{
			ID:         42,
			MessageID:  "<abc@mail>",
			Sender:     "noreply@turo.com",
			Recipient:  "host@example.com",
			Subject:    "Payout sent",
			ReceivedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		},
		Fields: map[string]any{
			"amount": decimal.RequireFromString("45.50"),
			"guest":  "  Alice ",
		},
		ProcessedAt: time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC),
	}
}

func TestLookup(t *testing.T) {
	env := testEnv()

	tests := []struct {
		name string
		src  models.Source
		want any
	}{
		{"extracted", models.Source{Kind: models.SourceExtracted, Value: "guest"}, "  Alice "},
		{"missing extracted", models.Source{Kind: models.SourceExtracted, Value: "nope"}, nil},
		{"static", models.Source{Kind: models.SourceStatic, Value: "turo"}, "turo"},
		{"email id", models.Source{Kind: models.SourceMetadata, Value: KeyEmailID}, int64(42)},
		{"message id", models.Source{Kind: models.SourceMetadata, Value: KeyMessageID}, "<abc@mail>"},
		{"received", models.Source{Kind: models.SourceMetadata, Value: KeyReceivedAt}, env.Email.ReceivedAt},
		{"processed", models.Source{Kind: models.SourceMetadata, Value: KeyProcessedAt}, env.ProcessedAt},
		{"timestamp", models.Source{Kind: models.SourceMetadata, Value: KeyTimestamp}, env.ProcessedAt.Unix()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Lookup(tt.src, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Lookup(models.Source{Kind: models.SourceMetadata, Value: "cc"}, env)
	assert.True(t, errors.Is(err, ErrUnknownSource))
	_, err = Lookup(models.Source{Kind: "header", Value: "x"}, env)
	assert.True(t, errors.Is(err, ErrUnknownSource))
}

func TestTransform(t *testing.T) {
	tests := []struct {
		spec string
		in   any
		want any
	}{
		{"upper", "abc", "ABC"},
		{"lower", "AbC", "abc"},
		{"strip", "  x  ", "x"},
		{"trim", "\tx\n", "x"},
		{"int", "12.9", int64(12)},
		{"int", "9007199254740993", int64(9007199254740993)},
		{"int", int64(-9007199254740993), int64(-9007199254740993)},
		{"int", decimal.RequireFromString("45.50"), int64(45)},
		{"float", "3.25", 3.25},
		{"url_encode", "a b&c", "a%20b%26c"},
		{"json_encode", "hi", `"hi"`},
		{"json_encode", map[string]int{"a": 1}, `{"a":1}`},
		{"substring:0:3", "abcdef", "abc"},
		{"substring:2", "abcdef", "cdef"},
		{"substring:-3:", "abcdef", "def"},
		{"substring::-2", "abcdef", "abcd"},
		{"substring:4:2", "abcdef", ""},
		{"replace:-:/", "2026-03-01", "2026/03/01"},
		{"replace:a:b:c", "a", "b:c"},
		{`regex:(\d+)-(\d+):\2-\1`, "12-34", "34-12"},
		{"format:Order {0} processed", 17, "Order 17 processed"},
		{"format:id={}", "x", "id=x"},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := Transform(tt.in, tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransform_Malformed(t *testing.T) {
	for _, spec := range []string{"reverse", "int", "replace:only", "regex:([bad:x", "substring:a:b"} {
		t.Run(spec, func(t *testing.T) {
			_, err := Transform("not-a-number", spec)
			assert.True(t, errors.Is(err, ErrBadTransformation))
		})
	}
}

func TestTransform_IntOutOfRange(t *testing.T) {
	for _, in := range []string{"1e30", "-1e30", "NaN", "9223372036854775808"} {
		_, err := Transform(in, "int")
		assert.ErrorIs(t, err, ErrBadTransformation, in)
	}
}

func TestResolve(t *testing.T) {
	env := testEnv()

	v, ok := Resolve(models.Source{Kind: models.SourceExtracted, Value: "guest"}, "strip", env)
	require.True(t, ok)
	assert.Equal(t, "Alice", v)

	// A failing transformation keeps the original value.
	v, ok = Resolve(models.Source{Kind: models.SourceStatic, Value: "abc"}, "int", env)
	require.True(t, ok)
	assert.Equal(t, "abc", v)

	_, ok = Resolve(models.Source{Kind: models.SourceExtracted, Value: "absent"}, "upper", env)
	assert.False(t, ok)

	_, ok = Resolve(models.Source{Kind: "bogus"}, "", env)
	assert.False(t, ok)
}

func TestString(t *testing.T) {
	assert.Equal(t, "2026-03-01T09:00:00Z", String(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, "45.5", String(decimal.RequireFromString("45.50")))
	assert.Equal(t, "7", String(int64(7)))
	assert.Equal(t, "", String(nil))
}
