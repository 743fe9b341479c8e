package scheduler

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/msageha/observatory/internal/astro"
)

// Field is a named sky target. It is immutable after construction.
type Field struct {
	name     string
	coord    astro.Equatorial
	priority float64
}

func NewField(name string, coord astro.Equatorial, priority float64) (*Field, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: field name is empty", ErrInvalidObservation)
	}
	if !(priority > 0) {
		return nil, fmt.Errorf("%w: field %q priority must be > 0, got %v", ErrInvalidObservation, name, priority)
	}
	return &Field{name: name, coord: coord, priority: priority}, nil
}

func (f *Field) Name() string            { return f.name }
func (f *Field) Coord() astro.Equatorial { return f.coord }
func (f *Field) Priority() float64       { return f.priority }
func (f *Field) String() string          { return fmt.Sprintf("%s (%s)", f.name, f.coord) }

// FieldName is a filesystem-safe form of the name: title-cased with spaces
// and hyphens removed ("wasp 33-b" → "Wasp33B").
func (f *Field) FieldName() string {
	return fieldName(f.name)
}

func fieldName(name string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range name {
		if r == ' ' || r == '-' {
			prevLetter = false
			continue
		}
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		prevLetter = false
		b.WriteRune(r)
	}
	return b.String()
}
