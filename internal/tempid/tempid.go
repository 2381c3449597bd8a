// Package tempid synthesizes deterministic temporary company identifiers for
// counterparties that no authoritative source can resolve. The generator is a
// pure function of the normalized name and a deployment-wide secret salt, so
// identical input yields identical identifiers across processes and machines.
package tempid

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/idresolve/internal/normalize"
)

// Prefix is the two-letter marker prepended to every synthetic identifier.
// It is disjoint from the real-identifier namespace, which is numeric.
const Prefix = "TP"

// digestBytes is the HMAC truncation length. 10 bytes encode to exactly 16
// base32 characters with no padding, giving a fixed 18-character identifier.
const digestBytes = 10

// IDLength is the total length of every generated identifier.
const IDLength = len(Prefix) + digestBytes*8/5

// placeholders are meaningless names that must never receive a fabricated
// identifier. Compared against the lowercased hash-stable form.
var placeholders = map[string]struct{}{
	"无":    {},
	"未知":   {},
	"不详":   {},
	"个人":   {},
	"空白":   {},
	"待定":   {},
	"-":    {},
	"--":   {},
	"n/a":  {},
	"na":   {},
	"null": {},
	"none": {},
}

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Generator derives synthetic identifiers with a fixed salt. The salt is
// set once per deployment and never rotated: changing it invalidates every
// previously generated identifier.
type Generator struct {
	salt []byte
}

// New creates a Generator. An empty salt is a configuration error and is
// rejected before any row is processed.
func New(salt string) (*Generator, error) {
	if strings.TrimSpace(salt) == "" {
		return nil, eris.New("tempid: salt must not be empty")
	}
	return &Generator{salt: []byte(salt)}, nil
}

// Generate returns the synthetic identifier for a name, or ok=false when the
// name is blank after normalization or matches the placeholder blacklist.
// It never touches the cache.
func (g *Generator) Generate(name string) (string, bool) {
	key := normalize.ForTempID(name)
	if key == "" {
		return "", false
	}
	if _, banned := placeholders[key]; banned {
		return "", false
	}

	mac := hmac.New(sha1.New, g.salt)
	mac.Write([]byte(key))
	sum := mac.Sum(nil)[:digestBytes]

	return Prefix + strings.ToUpper(encoding.EncodeToString(sum)), true
}

// IsTemporary reports whether an identifier carries the synthetic prefix.
func IsTemporary(id string) bool {
	return len(id) == IDLength && strings.HasPrefix(id, Prefix)
}
