// Package gateway types - the message contract between adapters and the router.
//
// DESIGN: Adapters (content script, popup, CLI) speak one JSON shape. The kind
// discriminator selects a handler; every other field is optional and only read
// by the handler that needs it. Replies always carry an explicit success flag.
//
// Types are defined here to keep router.go and the HTTP layer independent.
package gateway

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/searchx/searchx/internal/settings"
)

// =============================================================================
// REQUEST KINDS
// =============================================================================

// Kind is the request discriminator.
type Kind string

const (
	KindSetMode             Kind = "setMode"
	KindSetLength           Kind = "setLength"
	KindSetLanguage         Kind = "setLanguage"
	KindSetEnabled          Kind = "setEnabled"
	KindSetUserRole         Kind = "setUserRole"
	KindSetContext          Kind = "setContext"
	KindStoreAPIKey         Kind = "storeApiKey"
	KindCheckAPIKey         Kind = "checkApiKey"
	KindSimplify            Kind = "simplify"
	KindGetSettings         Kind = "getSettings"
	KindGetSimplification   Kind = "getSimplification"
	KindClearSimplification Kind = "clearSimplification"
	KindGetStatus           Kind = "getStatus"
)

// kindAliases maps the names older extension builds send.
var kindAliases = map[string]Kind{
	"simplifyText":  KindSimplify,
	"storeAPIKey":   KindStoreAPIKey,
	"checkAPIKey":   KindCheckAPIKey,
	"updateEnabled": KindSetEnabled,
	"contextData":   KindSetContext,
}

// CanonicalKind resolves aliases. Unknown names pass through unchanged so the
// router can reject them by name.
func CanonicalKind(name string) Kind {
	name = strings.TrimSpace(name)
	if k, ok := kindAliases[name]; ok {
		return k
	}
	return Kind(name)
}

// =============================================================================
// ERROR KINDS
// =============================================================================

// ErrorKind classifies a failed reply.
type ErrorKind string

const (
	ErrMissingAPIKey      ErrorKind = "MissingApiKey"
	ErrInvalidAPIKey      ErrorKind = "InvalidApiKey"
	ErrCompletionFailed   ErrorKind = "CompletionFailed"
	ErrCompletionTimeout  ErrorKind = "CompletionTimeout"
	ErrDisabled           ErrorKind = "Disabled"
	ErrUnknownRequestKind ErrorKind = "UnknownRequestKind"
	ErrValidation         ErrorKind = "ValidationError"
	ErrStorage            ErrorKind = "StorageError"
	ErrInternal           ErrorKind = "InternalError"
)

// MsgInvalidAPIKey is shown for both a missing and a malformed key.
const MsgInvalidAPIKey = "Invalid or missing API key"

// =============================================================================
// REQUEST / RESPONSE
// =============================================================================

// Request is one adapter message. Only Kind is required.
type Request struct {
	Kind       Kind     `json:"kind"`
	Mode       string   `json:"mode,omitempty"`
	Length     string   `json:"length,omitempty"`
	Language   string   `json:"language,omitempty"`
	Enabled    *bool    `json:"enabled,omitempty"`
	Role       string   `json:"role,omitempty"`
	Title      string   `json:"title,omitempty"`
	Paragraphs []string `json:"paragraphs,omitempty"`
	Key        string   `json:"key,omitempty"`
	Text       string   `json:"text,omitempty"`
}

// Response is the router's reply. Success is always present.
type Response struct {
	Success    bool                           `json:"success"`
	Disabled   bool                           `json:"disabled,omitempty"`
	Error      string                         `json:"error,omitempty"`
	ErrorKind  ErrorKind                      `json:"errorKind,omitempty"`
	Simplified string                         `json:"simplified,omitempty"`
	IsValid    *bool                          `json:"isValid,omitempty"`
	Message    string                         `json:"message,omitempty"`
	Settings   *settings.Settings             `json:"settings,omitempty"`
	Result     *settings.SimplificationResult `json:"result,omitempty"`
	Status     string                         `json:"status,omitempty"`
}

func ok() Response { return Response{Success: true} }

func fail(kind ErrorKind, msg string) Response {
	return Response{Success: false, ErrorKind: kind, Error: msg}
}

// DecodeRequest parses an adapter message. The discriminator is read from
// "kind", then "action", then "type", so messages from every extension
// context are accepted as-is.
func DecodeRequest(body []byte) (Request, error) {
	if !gjson.ValidBytes(body) {
		return Request{}, fmt.Errorf("request body is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Request{}, fmt.Errorf("request body must be a JSON object")
	}

	discriminator := firstString(root, "kind", "action", "type")
	if discriminator == "" {
		return Request{}, fmt.Errorf("request has no kind")
	}

	req := Request{
		Kind:     CanonicalKind(discriminator),
		Mode:     root.Get("mode").String(),
		Length:   root.Get("length").String(),
		Language: root.Get("language").String(),
		Role:     firstString(root, "role", "userName"),
		Title:    firstString(root, "title", "context.title"),
		Key:      firstString(root, "key", "apiKey"),
		Text:     firstString(root, "text", "selectedText"),
	}

	for _, path := range []string{"enabled", "isEnabled"} {
		if v := root.Get(path); v.IsBool() {
			b := v.Bool()
			req.Enabled = &b
			break
		}
	}

	paragraphs := root.Get("paragraphs")
	if !paragraphs.Exists() {
		paragraphs = root.Get("context.paragraphs")
	}
	for _, p := range paragraphs.Array() {
		req.Paragraphs = append(req.Paragraphs, p.String())
	}
	return req, nil
}

func firstString(root gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := root.Get(p); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}
