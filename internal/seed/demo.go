package seed

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed demo.yaml
var demoFixture []byte

// Demo returns the built-in demo fixture used by `tally init --demo`.
func Demo() (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(demoFixture, &f); err != nil {
		return nil, fmt.Errorf("parsing demo fixture: %w", err)
	}
	return &f, nil
}
