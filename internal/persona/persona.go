package persona

import (
	"sort"
	"strings"

	"cryptolaw-rag/internal/config"
)

// Persona is the displayed name and tone descriptor inserted into the answer prompt.
type Persona struct {
	Key        string
	Name       string
	Descriptor string
}

var (
	Default = Persona{Key: "veri", Name: "Veri", Descriptor: "Robot named Count Veri"}
	Dandy   = Persona{Key: "dandy", Name: "Dandy", Descriptor: "Guide Dog named Dandy"}
)

// Registry maps lower-cased keys to personas and falls back to a default.
type Registry struct {
	fallback Persona
	byKey    map[string]Persona
}

// NewRegistry returns the built-in personas plus any configured ones.
// A configured persona with an existing key replaces the built-in.
func NewRegistry(extra []config.PersonaConfig) *Registry {
	r := &Registry{
		fallback: Default,
		byKey: map[string]Persona{
			Default.Key: Default,
			Dandy.Key:   Dandy,
		},
	}
	for _, pc := range extra {
		key := strings.ToLower(strings.TrimSpace(pc.Key))
		if key == "" || pc.Name == "" {
			continue
		}
		p := Persona{Key: key, Name: pc.Name, Descriptor: pc.Descriptor}
		r.byKey[key] = p
		if key == Default.Key {
			r.fallback = p
		}
	}
	return r
}

// Select matches name against persona keys case-insensitively.
func (r *Registry) Select(name string) Persona {
	if p, ok := r.byKey[strings.ToLower(name)]; ok {
		return p
	}
	return r.fallback
}

// List returns the default persona first, then the others ordered by key.
func (r *Registry) List() []Persona {
	out := []Persona{r.fallback}
	var rest []Persona
	for key, p := range r.byKey {
		if key != r.fallback.Key {
			rest = append(rest, p)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].Key < rest[j].Key })
	return append(out, rest...)
}
