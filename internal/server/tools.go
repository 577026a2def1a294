package server

import "github.com/ironsheep/image-pipeline-mcp/internal/smartcrop"

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// sourceProperties are shared by every transformation tool.
func sourceProperties() map[string]interface{} {
	return map[string]interface{}{
		"path": map[string]interface{}{
			"type":        "string",
			"description": "Absolute path to the source image. Either path or data_base64 is required.",
		},
		"data_base64": map[string]interface{}{
			"type":        "string",
			"description": "Base64-encoded source image bytes",
		},
		"media_type": map[string]interface{}{
			"type":        "string",
			"description": "Declared MIME type of data_base64 (e.g. image/tiff). Optional.",
		},
		"name": map[string]interface{}{
			"type":        "string",
			"description": "Logical file name of data_base64. Used for format hints and placeholder labels.",
		},
		"format": map[string]interface{}{
			"type":        "string",
			"enum":        []string{"original", "png", "jpeg", "webp"},
			"description": "Output encoding. Default from server configuration.",
		},
		"quality": map[string]interface{}{
			"type":        "integer",
			"description": "Lossy quality 1-100. 100 selects lossless WebP. Default from server configuration.",
		},
		"strict": map[string]interface{}{
			"type":        "boolean",
			"description": "Fail instead of returning a placeholder image. Default false.",
		},
		"output_path": map[string]interface{}{
			"type":        "string",
			"description": "Write the encoded output here instead of returning it inline",
		},
	}
}

func withProperties(extra map[string]interface{}) map[string]interface{} {
	props := sourceProperties()
	for k, v := range extra {
		props[k] = v
	}
	return props
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Transformations
		{
			Name:        "image_resize",
			Description: "Resize an image so its longer side equals dimension, preserving aspect ratio. Upscaling uses the accelerated model for the planned scale when available and a classical resampler otherwise. Undecodable sources yield a labeled placeholder.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": withProperties(map[string]interface{}{
					"dimension": map[string]interface{}{
						"type":        "integer",
						"description": "Target length of the longer side in pixels",
					},
				}),
				"required": []string{"dimension"},
			},
		},
		{
			Name:        "image_crop",
			Description: "Scale an image to cover width×height and cut that window at a named anchor. Anchor auto behaves like image_smart_crop.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": withProperties(map[string]interface{}{
					"width": map[string]interface{}{
						"type":        "integer",
						"description": "Output width in pixels",
					},
					"height": map[string]interface{}{
						"type":        "integer",
						"description": "Output height in pixels",
					},
					"anchor": map[string]interface{}{
						"type":        "string",
						"enum":        append(smartcrop.Anchors(), smartcrop.AnchorAuto),
						"description": "Where the window sits. Default center.",
					},
				}),
				"required": []string{"width", "height"},
			},
		},
		{
			Name:        "image_smart_crop",
			Description: "Scale an image to cover width×height and cut the window around the most prominent detected subject, or around the edge-density focal point when nothing is detected.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": withProperties(map[string]interface{}{
					"width": map[string]interface{}{
						"type":        "integer",
						"description": "Output width in pixels",
					},
					"height": map[string]interface{}{
						"type":        "integer",
						"description": "Output height in pixels",
					},
				}),
				"required": []string{"width", "height"},
			},
		},

		// Operations
		{
			Name:        "pipeline_status",
			Description: "Report model handles (state, reference count, idle time, footprint), the failure counter, breaker state and request admission counts.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "pipeline_reset",
			Description: "Close the model breaker and clear the failure counter so accelerated upscaling is retried.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
