package scenario

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"firespread-sim/internal/fire"
)

// File is a scenario as written on disk. Parameters missing from the file
// keep the editor defaults.
type File struct {
	Name           string                    `yaml:"name,omitempty"`
	Description    string                    `yaml:"description,omitempty"`
	Parameters     fire.SimulationParameters `yaml:"parameters"`
	IgnitionPoints []Point                   `yaml:"ignition_points"`
}

// Point is an ignition point in normalized canvas space.
type Point struct {
	Lat float64 `yaml:"lat"`
	Lng float64 `yaml:"lng"`
}

// Load reads a YAML scenario definition from disk.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a YAML scenario definition.
func Parse(b []byte) (*File, error) {
	f := File{Parameters: fire.DefaultParameters()}
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the parameters and every ignition point.
func (f *File) Validate() error {
	if err := f.Parameters.Validate(); err != nil {
		return err
	}
	for i, p := range f.IgnitionPoints {
		if err := (fire.IgnitionPoint{Lat: p.Lat, Lng: p.Lng}).Validate(); err != nil {
			return fmt.Errorf("ignition point %d: %w", i, err)
		}
	}
	return nil
}

// Scenario converts the file into a scenario record with fresh point ids.
func (f *File) Scenario(now time.Time) (fire.Scenario, error) {
	points := make([]fire.IgnitionPoint, 0, len(f.IgnitionPoints))
	for _, p := range f.IgnitionPoints {
		ip, err := fire.NewIgnitionPoint(p.Lat, p.Lng, now)
		if err != nil {
			return fire.Scenario{}, err
		}
		points = append(points, ip)
	}
	return fire.Scenario{
		Name:           f.Name,
		Description:    f.Description,
		Parameters:     f.Parameters,
		IgnitionPoints: points,
	}, nil
}

// FromScenario converts a scenario record into its file form. Point ids and
// timestamps are dropped.
func FromScenario(sc fire.Scenario) *File {
	f := &File{
		Name:        sc.Name,
		Description: sc.Description,
		Parameters:  sc.Parameters,
	}
	for _, p := range sc.IgnitionPoints {
		f.IgnitionPoints = append(f.IgnitionPoints, Point{Lat: p.Lat, Lng: p.Lng})
	}
	return f
}

// Marshal encodes the file as YAML.
func (f *File) Marshal() ([]byte, error) {
	return yaml.Marshal(f)
}

// Save writes the file to path.
func (f *File) Save(path string) error {
	b, err := f.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Resolve returns the built-in preset named ref, or loads ref as a file path.
func Resolve(ref string) (*File, error) {
	if f, ok := BuiltIn()[ref]; ok {
		return &f, nil
	}
	return Load(ref)
}
