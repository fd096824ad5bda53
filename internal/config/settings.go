package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Settings is the deployment-specific part of the configuration, kept in a
// JSON file so operators can edit it without touching the environment. The
// key names match the original deployment files.
type Settings struct {
	WorkspaceChatID int64    `json:"ADMIN_CHAT_ID"`
	DeveloperChatID int64    `json:"DEVELOPER_CHAT_ID"`
	AdminList       []string `json:"ADMIN_LIST"`
	PromptModes     []string `json:"PROMPT"`
}

const settingsSchema = `{
	"type": "object",
	"properties": {
		"ADMIN_CHAT_ID": {"type": "integer"},
		"DEVELOPER_CHAT_ID": {"type": "integer"},
		"ADMIN_LIST": {"type": "array", "items": {"type": "string"}},
		"PROMPT": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["ADMIN_CHAT_ID", "DEVELOPER_CHAT_ID", "ADMIN_LIST", "PROMPT"]
}`

// LoadSettings reads and validates the settings file.
func LoadSettings(path string) (Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings file: %w", err)
	}
	return ParseSettings(raw)
}

// ParseSettings validates raw JSON against the settings schema and decodes
// it. Validation runs first so a typo in a key shows up as a schema error
// rather than a silent zero value.
func ParseSettings(raw []byte) (Settings, error) {
	schema, err := compileSettingsSchema()
	if err != nil {
		return Settings{}, err
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Settings{}, fmt.Errorf("parse settings json: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return Settings{}, fmt.Errorf("validate settings: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

func compileSettingsSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(settingsSchema))
	if err != nil {
		return nil, fmt.Errorf("parse settings schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("settings.schema.json", doc); err != nil {
		return nil, fmt.Errorf("register settings schema: %w", err)
	}
	schema, err := compiler.Compile("settings.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile settings schema: %w", err)
	}
	return schema, nil
}
