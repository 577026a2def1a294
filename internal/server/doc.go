// Package server implements the MCP (Model Context Protocol) server for the
// image pipeline.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Transformations:
//   - image_resize: Scale so the longer side equals a dimension
//   - image_crop: Cover a width×height box and cut at a named anchor
//   - image_smart_crop: Cover a width×height box and cut around the subject
//
// Operations:
//   - pipeline_status: Model handles, breaker state and admission counts
//   - pipeline_reset: Close the model breaker and clear its failure counter
//
// Every transformation takes its source either as a file path or as base64
// data with an optional media type and name. The encoded output is returned
// as an MCP image content block, or written to output_path when one is
// given. A textual JSON block always describes the result: dimensions,
// format, placeholder flag, error detail, scale plan and crop window.
//
// # Error Handling
//
// A source that cannot be decoded is not an error: the result is a labeled
// placeholder with is_placeholder set. JSON-RPC errors are reserved for
// unusable arguments (code -32602) and tool failures such as an unreadable
// path (code -32000). A result with succeeded=false is returned with the
// MCP isError flag set.
//
// # Usage
//
//	srv := server.New(p, logger, version)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
