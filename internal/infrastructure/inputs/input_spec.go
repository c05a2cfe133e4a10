package inputs

// InputSpec describes an input instance to be created from configuration
// rather than through the management API.
type InputSpec struct {
	Type        string
	Title       string
	Description string
	Config      Config
}

// Resolved returns a copy of Config with description and tag filled from the
// spec. An explicit tag in Config wins over the title.
func (s InputSpec) Resolved() Config {
	cfg := make(Config, len(s.Config)+2)
	for k, v := range s.Config {
		cfg[k] = v
	}
	if s.Description != "" {
		cfg["description"] = s.Description
	}
	if cfg.String("tag") == "" && s.Title != "" {
		cfg["tag"] = s.Title
	}
	return cfg
}
