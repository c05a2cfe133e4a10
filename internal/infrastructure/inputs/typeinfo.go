package inputs

// ConfigField describes one configuration field for an input type.
type ConfigField struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "string", "number", "bool", "duration"
	Required    bool   `json:"required"`
	Description string `json:"description"`
	Example     string `json:"example,omitempty"`
}

// InputTypeInfo describes an input type and the configuration it expects.
// Returned by Factory.ConfigSpec() and exposed via GET /inputs/info and GET /inputs/types/:type.
type InputTypeInfo struct {
	Type        string        `json:"type"`
	Description string        `json:"description"`
	Fields      []ConfigField `json:"fields"`
}

// Field returns the field named name. ok is false if the type has no such field.
func (i InputTypeInfo) Field(name string) (ConfigField, bool) {
	for _, f := range i.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return ConfigField{}, false
}

// Missing returns the names of the required fields absent from cfg.
func (i InputTypeInfo) Missing(cfg Config) []string {
	var missing []string
	for _, f := range i.Fields {
		if !f.Required {
			continue
		}
		if v, ok := cfg[f.Name]; !ok || v == nil || v == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}
