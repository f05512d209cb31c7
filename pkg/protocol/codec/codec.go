// Package codec turns typed messages into channel payloads and back.
package codec

import (
	"fmt"
	"sort"
	"strings"
)

// Codec marshals typed messages. Implementations must be deterministic so
// both ends of a channel agree on the bytes.
type Codec interface {
	Name() string
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Default is the codec used when none is configured.
const Default = "cbor"

// Registry maps codec names and content types to codecs.
type Registry struct {
	byName map[string]Codec
	byType map[string]Codec
}

// NewRegistry returns a registry holding the built-in codecs: cbor, json and
// proto.
func NewRegistry() (*Registry, error) {
	r := &Registry{byName: make(map[string]Codec), byType: make(map[string]Codec)}
	c, err := CBOR()
	if err != nil {
		return nil, fmt.Errorf("codec: cbor: %w", err)
	}
	r.Register(c)
	r.Register(JSON())
	r.Register(Proto())
	return r, nil
}

func (r *Registry) Register(c Codec) {
	r.byName[c.Name()] = c
	r.byType[c.ContentType()] = c
}

// ByName looks a codec up case-insensitively. An empty name selects Default.
func (r *Registry) ByName(name string) (Codec, error) {
	if name == "" {
		name = Default
	}
	c, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("codec: unknown codec %q (have %s)", name, strings.Join(r.Names(), ", "))
	}
	return c, nil
}

// Get returns a codec by content type, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ByName resolves name against the built-in codecs.
func ByName(name string) (Codec, error) {
	r, err := NewRegistry()
	if err != nil {
		return nil, err
	}
	return r.ByName(name)
}
