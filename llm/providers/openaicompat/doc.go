// Package openaicompat provides a vision provider for OpenAI-compatible
// Chat Completions endpoints.
//
// Screenshots are sent as base64 data URLs in image_url content parts, followed
// by the instruction text. Any gateway that speaks the OpenAI wire format can be
// targeted by setting BaseURL; custom auth schemes plug in via BuildHeaders.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    APIKey:       cfg.APIKey,
//	    BaseURL:      "https://api.openai.com",
//	    DefaultModel: "gpt-4o",
//	}, logger)
package openaicompat
