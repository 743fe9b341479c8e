package scheduler

import (
	"fmt"
	"os"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/observatory/internal/astro"
	atomicyaml "github.com/msageha/observatory/internal/yaml"
)

// FieldsFileType is the file_type header of a fields file.
const FieldsFileType = "fields"

// FieldConfig is one target record as found in the fields file or sent over
// the admin socket. Omitted numeric values take the package defaults.
type FieldConfig struct {
	Name       string   `yaml:"name" json:"name"`
	Position   string   `yaml:"position" json:"position"`
	Priority   *float64 `yaml:"priority,omitempty" json:"priority,omitempty"`
	ExpTimeSec *float64 `yaml:"exptime,omitempty" json:"exptime,omitempty"`
	MinNexp    *int     `yaml:"min_nexp,omitempty" json:"min_nexp,omitempty"`
	MaxNexp    *int     `yaml:"max_nexp,omitempty" json:"max_nexp,omitempty"`
	ExpSetSize *int     `yaml:"exp_set_size,omitempty" json:"exp_set_size,omitempty"`
	Filter     string   `yaml:"filter,omitempty" json:"filter,omitempty"`
}

// Build validates the record and constructs its Observation.
func (c FieldConfig) Build() (*Observation, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("%w: field name is empty", ErrInvalidObservation)
	}
	coord, err := astro.ParseEquatorial(c.Position)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidObservation, c.Name, err)
	}

	priority := DefaultPriority
	if c.Priority != nil {
		priority = *c.Priority
	}
	field, err := NewField(c.Name, coord, priority)
	if err != nil {
		return nil, err
	}

	p := ObservationParams{
		ExposureTime: DefaultExposureTime,
		MinExposures: DefaultMinExposures,
		SetSize:      DefaultSetSize,
		Priority:     priority,
		Filter:       c.Filter,
	}
	if c.ExpTimeSec != nil {
		p.ExposureTime = time.Duration(*c.ExpTimeSec * float64(time.Second))
	}
	if c.MinNexp != nil {
		p.MinExposures = *c.MinNexp
	}
	if c.MaxNexp != nil {
		p.MaxExposures = *c.MaxNexp
	}
	if c.ExpSetSize != nil {
		p.SetSize = *c.ExpSetSize
	}
	return NewObservation(field, p)
}

type fieldsFile struct {
	SchemaVersion int           `yaml:"schema_version"`
	FileType      string        `yaml:"file_type"`
	Fields        []FieldConfig `yaml:"fields"`
}

// LoadFields reads a fields file. Records are returned unvalidated.
func LoadFields(path string) ([]FieldConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fields file: %w", err)
	}
	return ParseFields(data)
}

func ParseFields(data []byte) ([]FieldConfig, error) {
	if err := atomicyaml.ValidateSchemaHeaderFromBytes(data, FieldsFileType); err != nil {
		return nil, fmt.Errorf("fields file header: %w", err)
	}
	var f fieldsFile
	if err := yamlv3.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fields file: %w", err)
	}
	seen := make(map[string]bool, len(f.Fields))
	for _, fc := range f.Fields {
		if seen[fc.Name] {
			return nil, fmt.Errorf("fields file: duplicate name %q", fc.Name)
		}
		seen[fc.Name] = true
	}
	return f.Fields, nil
}

// WriteFields writes cfgs as a fields file atomically.
func WriteFields(path string, cfgs []FieldConfig) error {
	return atomicyaml.AtomicWrite(path, fieldsFile{
		SchemaVersion: atomicyaml.CurrentSchemaVersion,
		FileType:      FieldsFileType,
		Fields:        cfgs,
	})
}
