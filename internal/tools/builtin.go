package tools

func init() {
	MustRegister(Capability{
		Name:        "web_search",
		Description: "Search the web for up-to-date information",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{"type": "string"},
			},
			"required": []string{"query"},
		},
	})
	MustRegister(Capability{
		Name:        "current_time",
		Description: "Return the current date and time",
		Parameters:  map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
	})
	MustRegister(Capability{
		Name:        "image_generation",
		Description: "Generate an image from a text prompt",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"prompt": map[string]interface{}{"type": "string"},
			},
			"required": []string{"prompt"},
		},
	})
}
