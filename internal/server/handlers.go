package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ironsheep/image-pipeline-mcp/internal/imaging"
	"github.com/ironsheep/image-pipeline-mcp/internal/pipeline"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "image_resize", "image_crop").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// errInvalidArguments marks argument errors so they map to -32602.
var errInvalidArguments = errors.New("invalid arguments")

// imageResult is a transformation outcome. Output bytes travel as an image
// content block unless they were written to OutputPath.
type imageResult struct {
	pipeline.Result
	OutputPath string `json:"output_path,omitempty"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}, {"type": "image", ...}],
//	  "isError": false
//	}
//
// Argument errors return -32602; other tool errors return -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.log.Warn().Str("tool", params.Name).Err(err).Msg("tool failed")
		if errors.Is(err, errInvalidArguments) {
			return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
		}
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	content := []map[string]interface{}{
		{
			"type": "text",
			"text": mustMarshalJSON(result),
		},
	}
	isError := false
	if img, ok := result.(*imageResult); ok {
		isError = !img.Succeeded
		if len(img.Data) > 0 && img.OutputPath == "" {
			content = append(content, map[string]interface{}{
				"type":     "image",
				"data":     base64.StdEncoding.EncodeToString(img.Data),
				"mimeType": img.MediaType,
			})
		}
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": content,
			"isError": isError,
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Transformations
	case "image_resize":
		return s.handleImageResize(ctx, args)
	case "image_crop":
		return s.handleImageCrop(ctx, args)
	case "image_smart_crop":
		return s.handleImageSmartCrop(ctx, args)

	// Operations
	case "pipeline_status":
		return s.pipeline.Status(), nil
	case "pipeline_reset":
		s.pipeline.Reset()
		s.log.Info().Str("event", "breaker_reset").Msg("model breaker reset")
		return s.pipeline.Status(), nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// sourceArgs are the arguments shared by every transformation tool.
type sourceArgs struct {
	Path       string `json:"path"`
	DataBase64 string `json:"data_base64"`
	MediaType  string `json:"media_type"`
	Name       string `json:"name"`
	Format     string `json:"format"`
	Quality    int    `json:"quality"`
	Strict     bool   `json:"strict"`
	OutputPath string `json:"output_path"`
}

// source resolves the input image from a path or inline base64 data.
func (a sourceArgs) source() (imaging.SourceImage, error) {
	switch {
	case a.Path != "" && a.DataBase64 != "":
		return imaging.SourceImage{}, fmt.Errorf("%w: give either path or data_base64, not both", errInvalidArguments)
	case a.Path != "":
		src, err := imaging.LoadSource(a.Path)
		if err != nil {
			return imaging.SourceImage{}, err
		}
		if a.MediaType != "" {
			src.MediaType = a.MediaType
		}
		return src, nil
	case a.DataBase64 != "":
		data, err := base64.StdEncoding.DecodeString(a.DataBase64)
		if err != nil {
			return imaging.SourceImage{}, fmt.Errorf("%w: data_base64: %v", errInvalidArguments, err)
		}
		name := a.Name
		if name == "" {
			name = "inline"
		}
		return imaging.NewSource(data, a.MediaType, name), nil
	default:
		return imaging.SourceImage{}, fmt.Errorf("%w: path or data_base64 is required", errInvalidArguments)
	}
}

func (a sourceArgs) options() pipeline.Options {
	return pipeline.Options{Quality: a.Quality, Format: a.Format, Strict: a.Strict}
}

func decodeArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing arguments", errInvalidArguments)
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidArguments, err)
	}
	return nil
}

// deliver writes the output to OutputPath when requested.
func deliver(res pipeline.Result, outputPath string) (*imageResult, error) {
	out := &imageResult{Result: res}
	if outputPath == "" || len(res.Data) == 0 {
		return out, nil
	}
	if err := os.WriteFile(outputPath, res.Data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write output: %w", err)
	}
	out.OutputPath = outputPath
	return out, nil
}

// === Transformation Handlers ===

func (s *Server) handleImageResize(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a struct {
		sourceArgs
		Dimension int `json:"dimension"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	src, err := a.source()
	if err != nil {
		return nil, err
	}
	return deliver(s.pipeline.Resize(ctx, src, a.Dimension, a.options()), a.OutputPath)
}

func (s *Server) handleImageCrop(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a struct {
		sourceArgs
		Width  int    `json:"width"`
		Height int    `json:"height"`
		Anchor string `json:"anchor"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	src, err := a.source()
	if err != nil {
		return nil, err
	}
	return deliver(s.pipeline.Crop(ctx, src, a.Width, a.Height, a.Anchor, a.options()), a.OutputPath)
}

func (s *Server) handleImageSmartCrop(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a struct {
		sourceArgs
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	src, err := a.source()
	if err != nil {
		return nil, err
	}
	return deliver(s.pipeline.SmartCrop(ctx, src, a.Width, a.Height, a.options()), a.OutputPath)
}
