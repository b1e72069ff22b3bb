package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

const fileMarker = "_file_"

var codeFields = []Field{
	{Name: "id", Aliases: []string{"contest", "contest_id"}, Prompt: "contest_id", Type: FieldString, Required: true, In: InPath},
	{Name: "problem_id", Aliases: []string{"problem"}, Prompt: "problem_id", Type: FieldString, Required: true},
	{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldString, Required: true},
	{Name: "code", Prompt: "code", Type: FieldString, Required: true},
	{Name: "code_file", Aliases: []string{"file"}, Prompt: "code_file", Type: FieldFile, FileFor: "code"},
}

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "contest",
			Action:       "list",
			Method:       "GET",
			PathTemplate: "/api/v1/contests",
			RequiresAuth: true,
		},
		{
			Service:      "contest",
			Action:       "mine",
			Method:       "GET",
			PathTemplate: "/api/v1/admin/contests",
			RequiresAuth: true,
		},
		{
			Service:      "contest",
			Action:       "create",
			Method:       "POST",
			PathTemplate: "/api/v1/contests",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "title", Prompt: "title", Type: FieldString, Required: true},
				{Name: "description", Aliases: []string{"desc"}, Prompt: "description", Type: FieldString},
				{Name: "start_time", Aliases: []string{"start"}, Prompt: "start_time (RFC3339 or +duration)", Type: FieldTime, Required: true},
				{Name: "end_time", Aliases: []string{"end"}, Prompt: "end_time (RFC3339 or +duration)", Type: FieldTime, Required: true},
				{Name: "problem_ids", Aliases: []string{"problems"}, Prompt: "problem_ids (comma-separated)", Type: FieldStringList, Required: true},
			},
		},
		{
			Service:      "contest",
			Action:       "join",
			Method:       "POST",
			PathTemplate: "/api/v1/contests/join",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "room_code", Aliases: []string{"code", "room"}, Prompt: "room_code", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "contest",
			Action:       "show",
			Method:       "GET",
			PathTemplate: "/api/v1/contests/:id",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Aliases: []string{"contest", "contest_id"}, Prompt: "contest_id", Type: FieldString, Required: true, In: InPath},
			},
		},
		{
			Service:      "contest",
			Action:       "run",
			Method:       "POST",
			PathTemplate: "/api/v1/contests/:id/run",
			RequiresAuth: true,
			Fields:       codeFields,
		},
		{
			Service:      "contest",
			Action:       "submit",
			Method:       "POST",
			PathTemplate: "/api/v1/contests/:id/submit",
			RequiresAuth: true,
			Fields: append(append([]Field(nil), codeFields...),
				Field{Name: "idempotency_key", Aliases: []string{"key"}, Prompt: "idempotency_key", Type: FieldString, In: InHeader, Header: "Idempotency-Key"},
			),
		},
		{
			Service:      "contest",
			Action:       "submissions",
			Method:       "GET",
			PathTemplate: "/api/v1/contests/:id/submissions",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Aliases: []string{"contest", "contest_id"}, Prompt: "contest_id", Type: FieldString, Required: true, In: InPath},
				{Name: "user_id", Aliases: []string{"user"}, Prompt: "user_id", Type: FieldString, In: InQuery},
			},
		},
		{
			Service:      "contest",
			Action:       "rankings",
			Method:       "GET",
			PathTemplate: "/api/v1/contests/:id/rankings",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Aliases: []string{"contest", "contest_id"}, Prompt: "contest_id", Type: FieldString, Required: true, In: InPath},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// Keys returns the registry keys in order.
func Keys(commands map[string]Command) []string {
	keys := make([]string, 0, len(commands))
	for key := range commands {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ApplyFileShortcuts marks fields filled from a file so they are not prompted for.
func ApplyFileShortcuts(cmd Command, params Params) {
	for _, field := range cmd.Fields {
		if field.Type != FieldFile || field.FileFor == "" {
			continue
		}
		if params.Get(field.Name) != "" && params.Get(field.FileFor) == "" {
			params.Set(field.FileFor, fileMarker)
		}
	}
}

// NeedsPrompt reports whether a required field still has no value.
func NeedsPrompt(field Field, params Params) bool {
	if !field.Required {
		return false
	}
	value := params.Get(field.Name)
	return value == ""
}

// BuildRequest turns a command and its params into an HTTP request.
func BuildRequest(cmd Command, params Params, now time.Time) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	if err := resolveFiles(cmd, params); err != nil {
		return RequestSpec{}, err
	}

	path := cmd.PathTemplate
	query := url.Values{}
	headers := map[string]string{}
	payload := map[string]interface{}{}

	for _, field := range cmd.Fields {
		if field.Type == FieldFile {
			continue
		}
		value := params.Get(field.Name)
		if value == "" {
			if field.Required {
				return RequestSpec{}, fmt.Errorf("%s is required", field.Name)
			}
			continue
		}
		switch field.In {
		case InPath:
			path = strings.ReplaceAll(path, ":"+field.Name, url.PathEscape(value))
		case InQuery:
			query.Set(field.Name, value)
		case InHeader:
			headers[field.Header] = value
		default:
			v, err := convert(field, value, now)
			if err != nil {
				return RequestSpec{}, err
			}
			payload[field.Name] = v
		}
	}
	if strings.Contains(path, "/:") {
		return RequestSpec{}, fmt.Errorf("missing path parameter in %s", path)
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: headers,
		Body:    body,
	}, nil
}

func resolveFiles(cmd Command, params Params) error {
	for _, field := range cmd.Fields {
		if field.Type != FieldFile || field.FileFor == "" {
			continue
		}
		target := params.Get(field.FileFor)
		if params.Get(field.Name) == "" || (target != "" && target != fileMarker) {
			continue
		}
		data, err := ReadFile(params.Get(field.Name))
		if err != nil {
			return err
		}
		params.Set(field.FileFor, data)
	}
	for key, value := range params {
		if value == fileMarker {
			return fmt.Errorf("%s is required", key)
		}
	}
	return nil
}

func convert(field Field, value string, now time.Time) (interface{}, error) {
	switch field.Type {
	case FieldStringList:
		return ParseStringList(value), nil
	case FieldTime:
		t, err := ParseTime(value, now)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", field.Name, err)
		}
		return t, nil
	default:
		return value, nil
	}
}
