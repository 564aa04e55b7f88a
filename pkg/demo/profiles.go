package demo

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is the fixed intake pre-seeded by a demo submission.
type Profile struct {
	Age       int    `yaml:"age" json:"age"`
	Sex       string `yaml:"sex" json:"sex"`
	MocaTotal int    `yaml:"moca_total" json:"moca_total"`
}

type Profiles struct {
	Healthy   Profile `yaml:"healthy" json:"healthy"`
	Pathology Profile `yaml:"pathology" json:"pathology"`
}

// DefaultProfiles mirrors the fixtures shipped with the analysis backend.
func DefaultProfiles() Profiles {
	return Profiles{
		Healthy:   Profile{Age: 72, Sex: "M", MocaTotal: 24},
		Pathology: Profile{Age: 78, Sex: "F", MocaTotal: 19},
	}
}

// LoadProfiles reads demo profiles from a YAML file, filling gaps from the
// defaults.
func LoadProfiles(path string) (Profiles, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Profiles{}, fmt.Errorf("failed to read demo profiles: %w", err)
	}

	profiles := DefaultProfiles()
	if err := yaml.Unmarshal(content, &profiles); err != nil {
		return Profiles{}, fmt.Errorf("failed to parse demo profiles: %w", err)
	}

	if err := profiles.validate(); err != nil {
		return Profiles{}, err
	}
	return profiles, nil
}

func (p Profiles) validate() error {
	for name, profile := range map[string]Profile{"healthy": p.Healthy, "pathology": p.Pathology} {
		if profile.Age <= 0 {
			return fmt.Errorf("demo profile %s: age must be positive", name)
		}
		if profile.MocaTotal < 0 || profile.MocaTotal > 30 {
			return fmt.Errorf("demo profile %s: moca_total must be within 0-30", name)
		}
	}
	return nil
}
