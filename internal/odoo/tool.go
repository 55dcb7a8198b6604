package odoo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clerk-agent/clerk/internal/tools"
)

// NewRecordsTool builds the native tool the model uses to query and
// mutate the record system. Actions mirror the ORM surface: list,
// count, schema, create, update, delete.
func NewRecordsTool(client *Client) *tools.Tool {
	return &tools.Tool{
		Name:        "records",
		Description: "Query and modify business records (contacts, invoices, products, ...). Use action=schema first when unsure which fields a model has.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{
					"type":        "string",
					"description": "Action to perform: list, count, schema, create, update, delete",
				},
				"model": map[string]any{
					"type":        "string",
					"description": "Record model name (e.g., res.partner, account.move)",
				},
				"domain": map[string]any{
					"type":        "array",
					"description": "Domain filter triples, e.g. [[\"is_company\", \"=\", true]]",
				},
				"fields": map[string]any{
					"type":        "array",
					"description": "Fields to fetch for list (all fields when omitted)",
					"items":       map[string]any{"type": "string"},
				},
				"values": map[string]any{
					"type":        "object",
					"description": "Field values for create/update",
				},
				"ids": map[string]any{
					"type":        "array",
					"description": "Record IDs for update/delete",
					"items":       map[string]any{"type": "integer"},
				},
			},
			"required": []string{"action", "model"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return executeRecords(ctx, client, args)
		},
	}
}

// executeRecords dispatches one records call. An unknown action is
// reported as a payload the model can read and correct, not as an
// execution failure.
func executeRecords(ctx context.Context, client *Client, args map[string]any) (string, error) {
	action, _ := args["action"].(string)
	model, _ := args["model"].(string)
	if action == "" || model == "" {
		return "", fmt.Errorf("action and model are required")
	}

	domain, _ := args["domain"].([]any)
	values, _ := args["values"].(map[string]any)
	fields := stringSlice(args["fields"])
	ids := intSlice(args["ids"])

	switch action {
	case "list":
		result, err := client.SearchRead(ctx, model, domain, fields)
		if err != nil {
			return "", err
		}
		return string(result), nil

	case "count":
		n, err := client.SearchCount(ctx, model, domain)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d", n), nil

	case "schema":
		result, err := client.FieldsGet(ctx, model)
		if err != nil {
			return "", err
		}
		return string(result), nil

	case "create":
		id, err := client.Create(ctx, model, values)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"id": %d}`, id), nil

	case "update":
		if len(ids) == 0 {
			return "", fmt.Errorf("update requires ids")
		}
		ok, err := client.Write(ctx, model, ids, values)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"updated": %t}`, ok), nil

	case "delete":
		if len(ids) == 0 {
			return "", fmt.Errorf("delete requires ids")
		}
		ok, err := client.Unlink(ctx, model, ids)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"deleted": %t}`, ok), nil

	default:
		payload, _ := json.Marshal(map[string]string{
			"error": fmt.Sprintf("Unknown action: %s", action),
		})
		return string(payload), nil
	}
}

// stringSlice coerces a JSON array argument into []string, skipping
// non-string elements.
func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// intSlice coerces a JSON array argument into []int. JSON numbers
// decode as float64.
func intSlice(v any) []int {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []int
	for _, item := range items {
		switch n := item.(type) {
		case float64:
			out = append(out, int(n))
		case int:
			out = append(out, n)
		}
	}
	return out
}
