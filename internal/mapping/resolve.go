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

// Package mapping resolves the values that the storage and HTTP sinks send:
// a source (extracted field, email metadata key or static literal) followed
// by an optional transformation.
package mapping

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bcem/mailrouter/internal/models"
)

var (
	// ErrUnknownSource is returned for unsupported source kinds and
	// metadata keys.
	ErrUnknownSource = errors.New("unknown mapping source")

	// ErrBadTransformation is returned for malformed or unknown
	// transformation specs, and for values a transformation cannot handle.
	ErrBadTransformation = errors.New("bad transformation")
)

// Metadata keys an email_metadata source may reference.
const (
	KeyEmailID     = "email_id"
	KeySender      = "sender"
	KeyRecipient   = "recipient"
	KeySubject     = "subject"
	KeyMessageID   = "message_id"
	KeyReceivedAt  = "received_at"
	KeyProcessedAt = "processed_at"
	KeyTimestamp   = "timestamp"
)

// Env is everything a source can be resolved against.
type Env struct {
	Email       *models.Email
	Fields      map[string]any
	ProcessedAt time.Time
}

// Lookup returns the raw value of src. A missing extracted field returns
// (nil, nil).
func Lookup(src models.Source, env Env) (any, error) {
	switch src.Kind {
	case models.SourceExtracted:
		v, ok := env.Fields[src.Value]
		if !ok {
			return nil, nil
		}
		return v, nil
	case models.SourceStatic:
		return src.Value, nil
	case models.SourceMetadata:
		return metadata(src.Value, env)
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownSource, src.Kind)
	}
}

func metadata(key string, env Env) (any, error) {
	e := env.Email
	if e == nil {
		return nil, nil
	}
	switch key {
	case KeyEmailID:
		return e.ID, nil
	case KeySender:
		return e.Sender, nil
	case KeyRecipient:
		return e.Recipient, nil
	case KeySubject:
		return e.Subject, nil
	case KeyMessageID:
		return e.MessageID, nil
	case KeyReceivedAt:
		return e.ReceivedAt, nil
	case KeyProcessedAt:
		return env.ProcessedAt, nil
	case KeyTimestamp:
		return env.ProcessedAt.Unix(), nil
	default:
		return nil, fmt.Errorf("%w: metadata key %q", ErrUnknownSource, key)
	}
}

// Resolve looks up src and applies transformation. It reports false when
// the value resolves to nothing, in which case the caller omits it. A
// failing transformation is logged and the untransformed value is kept.
func Resolve(src models.Source, transformation string, env Env) (any, bool) {
	v, err := Lookup(src, env)
	if err != nil {
		slog.Warn("unresolvable mapping source",
			"source_type", src.Kind,
			"source_value", src.Value,
			"error", err,
		)
		return nil, false
	}
	if v == nil {
		return nil, false
	}
	if transformation == "" {
		return v, true
	}

	out, err := Transform(v, transformation)
	if err != nil {
		slog.Warn("transformation failed, keeping original value",
			"transformation", transformation,
			"error", err,
		)
		return v, true
	}
	return out, true
}
