package policy

import (
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/contracts"
)

// MinSupportedProfile is the oldest governance profile version this engine
// accepts. Profiles carry a semver version so a node never silently runs
// under a stale policy document.
const MinSupportedProfile = "1.0.0"

// Profile is a named governance policy document. It can override threshold
// rows, attach payload schemas, and declare sensitivity-review rules.
type Profile struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`

	// Actions overrides policy rows, keyed by action type.
	Actions map[string]ActionOverride `yaml:"actions,omitempty" json:"actions,omitempty"`

	// Schemas holds inline JSON Schemas validating request payloads, keyed by
	// action type.
	Schemas map[string]string `yaml:"schemas,omitempty" json:"schemas,omitempty"`

	// Sensitivity declares CEL rules deciding which communications require a
	// cultural-sensitivity review before approval.
	Sensitivity []SensitivityRule `yaml:"sensitivity,omitempty" json:"sensitivity,omitempty"`
}

// ActionOverride is one profile-supplied policy row.
type ActionOverride struct {
	Threshold ThresholdKind `yaml:"threshold" json:"threshold"`
	TTLHours  int           `yaml:"ttl_hours" json:"ttl_hours"`
}

// SensitivityRule is a CEL expression over request metadata.
type SensitivityRule struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Expr        string `yaml:"expr" json:"expr"`
}

// LoadProfile reads and validates a governance profile YAML.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}

	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("profile %q: %w", path, err)
	}
	return &profile, nil
}

// Validate checks version ordering and every override row.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("missing name: %w", ErrInvalidPolicy)
	}

	v, err := semver.NewVersion(p.Version)
	if err != nil {
		return fmt.Errorf("version %q: %v: %w", p.Version, err, ErrInvalidPolicy)
	}
	floor := semver.MustParse(MinSupportedProfile)
	if v.LessThan(floor) {
		return fmt.Errorf("version %s predates supported floor %s: %w", v, floor, ErrInvalidPolicy)
	}

	for action, ov := range p.Actions {
		if !contracts.ActionType(action).Valid() {
			return fmt.Errorf("override for unknown action type %q: %w", action, ErrInvalidPolicy)
		}
		switch ov.Threshold {
		case ThresholdMajority, ThresholdUnanimous:
		default:
			return fmt.Errorf("action %s: unknown threshold %q: %w", action, ov.Threshold, ErrInvalidPolicy)
		}
		if ov.TTLHours <= 0 {
			return fmt.Errorf("action %s: ttl_hours must be positive: %w", action, ErrInvalidPolicy)
		}
	}

	for _, rule := range p.Sensitivity {
		if rule.ID == "" || rule.Expr == "" {
			return fmt.Errorf("sensitivity rule needs id and expr: %w", ErrInvalidPolicy)
		}
	}
	return nil
}

// Apply layers the profile's overrides on top of a base table and returns the
// merged table. The base is never mutated.
func (p *Profile) Apply(base Table) Table {
	merged := base.Clone()
	for action, ov := range p.Actions {
		merged[contracts.ActionType(action)] = ActionPolicy{
			Threshold: ov.Threshold,
			TTL:       time.Duration(ov.TTLHours) * time.Hour,
		}
	}
	return merged
}

// SchemaSetFrom compiles the profile's inline payload schemas.
func (p *Profile) SchemaSetFrom() (*SchemaSet, error) {
	set := NewSchemaSet()
	for action, schemaJSON := range p.Schemas {
		at := contracts.ActionType(action)
		if !at.Valid() {
			return nil, fmt.Errorf("schema for unknown action type %q: %w", action, ErrInvalidPolicy)
		}
		if err := set.Register(at, schemaJSON); err != nil {
			return nil, err
		}
	}
	return set, nil
}
