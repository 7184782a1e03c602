package board

import (
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"github.com/KevinKickass/HostEmu/internal/mcu"
	"github.com/KevinKickass/HostEmu/internal/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/board-profile-v1.json
var boardProfileSchemaJSON string

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("board-profile-v1.json",
		strings.NewReader(boardProfileSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("board-profile-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateProfile checks a profile in its JSON form against the schema.
func (v *Validator) ValidateProfile(data []byte) error {
	var profile interface{}
	if err := json.Unmarshal(data, &profile); err != nil {
		return fmt.Errorf("invalid JSON: %w: %v", types.StatusInvalidArgument, err)
	}

	if err := v.schema.Validate(profile); err != nil {
		return fmt.Errorf("schema validation failed: %w: %v", types.StatusInvalidArgument, err)
	}

	return nil
}

// ValidateProfileDefinition runs the schema check and the checks the
// schema cannot express: names are unique per peripheral kind.
func (v *Validator) ValidateProfileDefinition(profile *types.BoardProfileDefinition) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w: %v", types.StatusInvalidArgument, err)
	}
	if err := v.ValidateProfile(data); err != nil {
		return err
	}

	pins := make(map[string]bool)
	for _, p := range profile.Pins {
		if pins[p.Name] {
			return fmt.Errorf("duplicate pin %q: %w", p.Name, types.StatusInvalidArgument)
		}
		pins[p.Name] = true
		if _, err := mcu.ParsePinDirection(p.Direction); err != nil {
			return fmt.Errorf("pin %q: %w", p.Name, err)
		}
	}

	uarts := make(map[string]bool)
	for _, u := range profile.Uarts {
		if uarts[u.Name] {
			return fmt.Errorf("duplicate uart %q: %w", u.Name, types.StatusInvalidArgument)
		}
		uarts[u.Name] = true
	}

	buses := make(map[string]bool)
	for _, b := range profile.I2C {
		if buses[b.Name] {
			return fmt.Errorf("duplicate i2c bus %q: %w", b.Name, types.StatusInvalidArgument)
		}
		buses[b.Name] = true
	}

	return nil
}
