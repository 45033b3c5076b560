package config

import "sort"

const DefaultModelName = "gemini-2.0-flash"

// ModelConfig describes a chat model clients may request.
type ModelConfig struct {
	Name        string
	Engine      string
	Description string
	MaxTokens   int
}

// Models lists the chat models the server accepts.
var Models = map[string]ModelConfig{
	"gemini-2.0-flash": {
		Name:        "gemini-2.0-flash",
		Engine:      "gemini",
		Description: "Google Gemini 2.0 Flash model.",
		MaxTokens:   8192,
	},
	"gemini-1.5-flash-latest": {
		Name:        "gemini-1.5-flash-latest",
		Engine:      "gemini",
		Description: "Google Gemini 1.5 Flash model.",
		MaxTokens:   8192,
	},
}

func LookupModel(name string) (ModelConfig, bool) {
	m, ok := Models[name]
	return m, ok
}

// ModelNames returns the accepted model names, sorted.
func ModelNames() []string {
	names := make([]string, 0, len(Models))
	for name := range Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
