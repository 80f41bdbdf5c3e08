// Package orderid produces order identifiers of the form YYYYMMDD followed by
// ten lowercase hex characters.
package orderid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

const (
	dateLayout  = "20060102"
	randomBytes = 5
	// Length of every generated id.
	Length = len(dateLayout) + randomBytes*2
)

type Generator struct {
	clock  func() time.Time
	random io.Reader
}

type Option func(*Generator)

func WithClock(clock func() time.Time) Option {
	return func(g *Generator) {
		g.clock = clock
	}
}

func WithRandom(r io.Reader) Option {
	return func(g *Generator) {
		g.random = r
	}
}

func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		clock:  time.Now,
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns a new id stamped with the current UTC date.
func (g *Generator) Generate() (string, error) {
	buf := make([]byte, randomBytes)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return "", fmt.Errorf("orderid: failed to read random bytes: %w", err)
	}
	return g.clock().UTC().Format(dateLayout) + hex.EncodeToString(buf), nil
}

// Valid reports whether id has the generated shape and a real calendar date.
func Valid(id string) bool {
	if len(id) != Length {
		return false
	}
	if _, err := time.Parse(dateLayout, id[:len(dateLayout)]); err != nil {
		return false
	}
	for _, c := range id[len(dateLayout):] {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
