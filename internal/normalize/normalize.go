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

// Package normalize strips recipient- and time-specific substrings from email
// text so that copies of the same notification compare equal. Its output
// feeds both the duplicate matcher and the content fingerprint.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"mime"
	"regexp"
	"strings"
)

// Role selects the role-specific part of normalization.
type Role int

const (
	RoleBody Role = iota
	RoleSubject
	RoleSender
)

const (
	// DefaultBodyPrefix bounds the body text that enters the fingerprint.
	DefaultBodyPrefix = 1000

	// DefaultSignatureLength bounds the fallback signature.
	DefaultSignatureLength = 200

	// DefaultDeepLink matches any absolute http(s) link.
	DefaultDeepLink = `https?://\S+`
)

// Placeholder tokens substituted for volatile substrings.
const (
	TokenLink   = "[LINK]"
	TokenEmail  = "[EMAIL]"
	TokenPhone  = "[PHONE]"
	TokenAmount = "[AMOUNT]"
	TokenDate   = "[DATE]"
	TokenTime   = "[TIME]"
)

var (
	emailRe  = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phoneRe  = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
	amountRe = regexp.MustCompile(`\$\d[\d,]*(?:\.\d{2})?`)
	dateRe   = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`)
	timeRe   = regexp.MustCompile(`\b\d{1,2}:\d{2}(?:\s*(?:AM|PM|am|pm))?\b`)
	spaceRe  = regexp.MustCompile(`\s+`)

	// vendorPrefixRe removes leading "(Acme Inc.) - " style tags that some
	// senders put in front of otherwise identical subjects.
	vendorPrefixRe = regexp.MustCompile(`^\(.*?(?:Inc\.?|LLC|Corp\.?).*?\)\s*-\s*`)

	// signatureRe captures the human-written part of a platform relay
	// message between the templated intro and the "Reply" footer.
	signatureRe = regexp.MustCompile(`(?is)has sent you a message about your.*?\.\s*\n\s*\n\s*(.*?)\s*\n\s*Reply`)
)

// Options configures a Normalizer. Zero values take the package defaults.
type Options struct {
	DeepLinkPatterns []string
	BodyPrefix       int
	SignatureLength  int
}

// Normalizer produces canonical text. It is safe for concurrent use.
type Normalizer struct {
	deepLinks  []*regexp.Regexp
	bodyPrefix int
	sigLength  int
	words      *mime.WordDecoder
}

// New builds a Normalizer. Deep-link patterns that fail to compile are
// logged and skipped.
func New(opts Options) *Normalizer {
	n := &Normalizer{
		bodyPrefix: opts.BodyPrefix,
		sigLength:  opts.SignatureLength,
		words:      new(mime.WordDecoder),
	}
	if n.bodyPrefix <= 0 {
		n.bodyPrefix = DefaultBodyPrefix
	}
	if n.sigLength <= 0 {
		n.sigLength = DefaultSignatureLength
	}

	patterns := opts.DeepLinkPatterns
	if len(patterns) == 0 {
		patterns = []string{DefaultDeepLink}
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			slog.Warn("skipping invalid deep-link pattern", "pattern", p, "error", err)
			continue
		}
		n.deepLinks = append(n.deepLinks, re)
	}
	return n
}

// Normalize returns the canonical form of text for the given role.
func (n *Normalizer) Normalize(text string, role Role) string {
	switch role {
	case RoleSubject:
		return n.subject(text)
	case RoleSender:
		return strings.ToLower(strings.TrimSpace(text))
	default:
		return collapse(n.placeholders(text))
	}
}

// placeholders replaces volatile substrings in a fixed order. Links go
// first so that addresses and numbers inside URLs are not tokenized twice.
func (n *Normalizer) placeholders(text string) string {
	for _, re := range n.deepLinks {
		text = re.ReplaceAllString(text, TokenLink)
	}
	text = emailRe.ReplaceAllString(text, TokenEmail)
	text = phoneRe.ReplaceAllString(text, TokenPhone)
	text = amountRe.ReplaceAllString(text, TokenAmount)
	text = dateRe.ReplaceAllString(text, TokenDate)
	text = timeRe.ReplaceAllString(text, TokenTime)
	return text
}

func (n *Normalizer) subject(text string) string {
	if decoded, err := n.words.DecodeHeader(text); err == nil {
		text = decoded
	}
	text = strings.TrimSpace(text)
	text = vendorPrefixRe.ReplaceAllString(text, "")
	return collapse(text)
}

// Content is the string the fingerprint is computed over: the lower-cased
// sender, a separator and the normalized body prefix. The subject is left
// out because duplicate deliveries differ in subject encoding.
func (n *Normalizer) Content(sender, body string) string {
	return n.Normalize(sender, RoleSender) + "|" + truncate(n.Normalize(body, RoleBody), n.bodyPrefix)
}

// Fingerprint returns the hex SHA-256 digest of Content.
func (n *Normalizer) Fingerprint(sender, body string) string {
	sum := sha256.Sum256([]byte(n.Content(sender, body)))
	return hex.EncodeToString(sum[:])
}

// ComparableBody returns the whitespace-collapsed, lower-cased body used for
// length and sequence comparisons.
func (n *Normalizer) ComparableBody(body string) string {
	return collapse(body)
}

// Signature isolates the human-written payload of a relayed message. When
// the boilerplate delimiter is found it returns the normalized inner text
// with delimited=true. Otherwise it strips volatile substrings from the
// whole body and returns a bounded prefix.
func (n *Normalizer) Signature(subject, body string) (sig string, delimited bool) {
	for _, text := range []string{body, subject + "\n" + body} {
		if m := signatureRe.FindStringSubmatch(text); m != nil {
			if inner := collapse(m[1]); inner != "" {
				return inner, true
			}
		}
	}

	text := body
	for _, re := range n.deepLinks {
		text = re.ReplaceAllString(text, "")
	}
	text = emailRe.ReplaceAllString(text, "")
	text = amountRe.ReplaceAllString(text, "")
	text = phoneRe.ReplaceAllString(text, "")
	return truncate(collapse(text), n.sigLength), false
}

func collapse(s string) string {
	return strings.ToLower(strings.TrimSpace(spaceRe.ReplaceAllString(s, " ")))
}

// truncate cuts s to at most max runes.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
