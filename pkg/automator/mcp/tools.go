package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chaosslabs/personal-automator/pkg/automator/errs"
	"github.com/chaosslabs/personal-automator/pkg/automator/store"
)

func parseRFC3339(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errs.Validationf("invalid RFC3339 timestamp %q: %v", value, err)
	}
	return t, nil
}

func schema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func unmarshalArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errs.Validationf("invalid tool arguments: %v", err)
	}
	return nil
}

func (s *Server) registerTools() {
	s.registerTemplateTools()
	s.registerTaskTools()
	s.registerExecutionTools()
	s.registerCredentialTools()
	s.registerSystemTools()
}

// --- templates.* -------------------------------------------------------------

func (s *Server) registerTemplateTools() {
	s.register("templates.list", "List templates, optionally filtered by category.",
		schema(map[string]any{"category": map[string]any{"type": "string"}}),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				Category string `json:"category"`
			}
			if err := unmarshalArgs(raw, &args); err != nil {
				return nil, err
			}
			return s.svc.ListTemplates(args.Category)
		})

	s.register("templates.get", "Get a template by id.",
		schema(map[string]any{"id": map[string]any{"type": "string"}}, "id"),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				ID string `json:"id"`
			}
			if err := unmarshalArgs(raw, &args); err != nil {
				return nil, err
			}
			return s.svc.GetTemplate(args.ID)
		})

	s.register("templates.create", "Create a new template.",
		schema(map[string]any{
			"id":       map[string]any{"type": "string"},
			"name":     map[string]any{"type": "string"},
			"category": map[string]any{"type": "string"},
			"code":     map[string]any{"type": "string"},
		}, "id", "name"),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var t store.Template
			if err := unmarshalArgs(raw, &t); err != nil {
				return nil, err
			}
			return s.svc.CreateTemplate(t)
		})

	s.register("templates.update", "Update an existing template.",
		schema(map[string]any{
			"id":       map[string]any{"type": "string"},
			"name":     map[string]any{"type": "string"},
			"category": map[string]any{"type": "string"},
			"code":     map[string]any{"type": "string"},
		}, "id"),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var t store.Template
			if err := unmarshalArgs(raw, &t); err != nil {
				return nil, err
			}
			return s.svc.UpdateTemplate(t.ID, t)
		})

	s.register("templates.delete", "Delete a template by id.",
		schema(map[string]any{"id": map[string]any{"type": "string"}}, "id"),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				ID string `json:"id"`
			}
			if err := unmarshalArgs(raw, &args); err != nil {
				return nil, err
			}
			return nil, s.svc.DeleteTemplate(args.ID)
		})
}

// --- tasks.* -------------------------------------------------------------

func (s *Server) registerTaskTools() {
	s.register("tasks.list", "List tasks, optionally filtered.",
		schema(map[string]any{
			"enabled":    map[string]any{"type": "boolean"},
			"templateId": map[string]any{"type": "string"},
			"hasErrors":  map[string]any{"type": "boolean"},
		}),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				Enabled    *bool  `json:"enabled"`
				TemplateID string `json:"templateId"`
				HasErrors  bool   `json:"hasErrors"`
			}
			if err := unmarshalArgs(raw, &args); err != nil {
				return nil, err
			}
			return s.svc.ListTasks(store.TaskFilter{Enabled: args.Enabled, TemplateID: args.TemplateID, HasErrors: args.HasErrors})
		})

	s.register("tasks.get", "Get a task by id.",
		schema(map[string]any{"id": map[string]any{"type": "integer"}}, "id"),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				ID int64 `json:"id"`
			}
			if err := unmarshalArgs(raw, &args); err != nil {
				return nil, err
			}
			return s.svc.GetTask(args.ID)
		})

	s.register("tasks.create", "Create a new scheduled task.",
		schema(map[string]any{
			"templateId":   map[string]any{"type": "string"},
			"name":         map[string]any{"type": "string"},
			"scheduleType": map[string]any{"type": "string"},
			"scheduleValue": map[string]any{"type": "string"},
			"enabled":      map[string]any{"type": "boolean"},
			"params":       map[string]any{"type": "object"},
		}, "templateId", "name", "scheduleType", "scheduleValue"),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var t store.Task
			if err := unmarshalArgs(raw, &t); err != nil {
				return nil, err
			}
			return s.svc.CreateTask(t)
		})

	s.register("tasks.update", "Update an existing task.",
		schema(map[string]any{
			"id":            map[string]any{"type": "integer"},
			"name":          map[string]any{"type": "string"},
			"scheduleType":  map[string]any{"type": "string"},
			"scheduleValue": map[string]any{"type": "string"},
			"params":        map[string]any{"type": "object"},
		}, "id"),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var t store.Task
			if err := unmarshalArgs(raw, &t); err != nil {
				return nil, err
			}
			return s.svc.UpdateTask(t.ID, t)
		})

	s.register("tasks.delete", "Delete a task by id.",
		schema(map[string]any{"id": map[string]any{"type": "integer"}}, "id"),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				ID int64 `json:"id"`
			}
			if err := unmarshalArgs(raw, &args); err != nil {
				return nil, err
			}
			return nil, s.svc.DeleteTask(args.ID)
		})

	s.register("tasks.toggle", "Enable or disable a task.",
		schema(map[string]any{
			"id":      map[string]any{"type": "integer"},
			"enabled": map[string]any{"type": "boolean"},
		}, "id", "enabled"),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				ID      int64 `json:"id"`
				Enabled bool  `json:"enabled"`
			}
			if err := unmarshalArgs(raw, &args); err != nil {
				return nil, err
			}
			return s.svc.ToggleTask(args.ID, args.Enabled)
		})

	s.register("tasks.execute", "Run a task immediately, outside its schedule.",
		schema(map[string]any{
			"id":        map[string]any{"type": "integer"},
			"timeoutMs": map[string]any{"type": "integer"},
		}, "id"),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				ID        int64 `json:"id"`
				TimeoutMs int   `json:"timeoutMs"`
			}
			if err := unmarshalArgs(raw, &args); err != nil {
				return nil, err
			}
			return s.svc.ExecuteTask(ctx, args.ID, args.TimeoutMs)
		})
}

// --- executions.* -------------------------------------------------------------

func (s *Server) registerExecutionTools() {
	s.register("executions.list", "List executions, optionally filtered.",
		schema(map[string]any{
			"taskId":    map[string]any{"type": "integer"},
			"status":    map[string]any{"type": "string"},
			"startDate": map[string]any{"type": "string"},
			"endDate":   map[string]any{"type": "string"},
			"limit":     map[string]any{"type": "integer"},
			"offset":    map[string]any{"type": "integer"},
		}),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				TaskID    int64   `json:"taskId"`
				Status    string  `json:"status"`
				StartDate *string `json:"startDate"`
				EndDate   *string `json:"endDate"`
				Limit     int     `json:"limit"`
				Offset    int     `json:"offset"`
			}
			if err := unmarshalArgs(raw, &args); err != nil {
				return nil, err
			}
			filter := store.ExecutionFilter{TaskID: args.TaskID, Status: store.ExecutionStatus(args.Status), Limit: args.Limit, Offset: args.Offset}
			if args.StartDate != nil {
				t, err := parseRFC3339(*args.StartDate)
				if err != nil {
					return nil, err
				}
				filter.StartDate = &t
			}
			if args.EndDate != nil {
				t, err := parseRFC3339(*args.EndDate)
				if err != nil {
					return nil, err
				}
				filter.EndDate = &t
			}
			return s.svc.ListExecutions(filter)
		})

	s.register("executions.get", "Get an execution by id.",
		schema(map[string]any{"id": map[string]any{"type": "integer"}}, "id"),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				ID int64 `json:"id"`
			}
			if err := unmarshalArgs(raw, &args); err != nil {
				return nil, err
			}
			return s.svc.GetExecution(args.ID)
		})
}

// --- credentials.* -------------------------------------------------------------

func (s *Server) registerCredentialTools() {
	s.register("credentials.list", "List credential metadata; values are never returned.",
		schema(map[string]any{}),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			return s.svc.ListCredentials()
		})

	s.register("credentials.get", "Get credential metadata by id.",
		schema(map[string]any{"id": map[string]any{"type": "integer"}}, "id"),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				ID int64 `json:"id"`
			}
			if err := unmarshalArgs(raw, &args); err != nil {
				return nil, err
			}
			return s.svc.GetCredential(args.ID)
		})

	s.register("credentials.createMetadata", "Declare a credential without setting a value yet.",
		schema(map[string]any{
			"name":        map[string]any{"type": "string"},
			"type":        map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
		}, "name", "type"),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var c store.Credential
			if err := unmarshalArgs(raw, &c); err != nil {
				return nil, err
			}
			return s.svc.CreateCredentialMetadata(c)
		})

	s.register("credentials.createWithValue", "Declare a credential and seal its value.",
		schema(map[string]any{
			"name":        map[string]any{"type": "string"},
			"type":        map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
			"value":       map[string]any{"type": "string"},
		}, "name", "type", "value"),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				store.Credential
				Value string `json:"value"`
			}
			if err := unmarshalArgs(raw, &args); err != nil {
				return nil, err
			}
			return s.svc.CreateCredentialWithValue(args.Credential, args.Value)
		})

	s.register("credentials.updateValue", "Replace a credential's sealed value.",
		schema(map[string]any{
			"id":    map[string]any{"type": "integer"},
			"value": map[string]any{"type": "string"},
		}, "id", "value"),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				ID    int64  `json:"id"`
				Value string `json:"value"`
			}
			if err := unmarshalArgs(raw, &args); err != nil {
				return nil, err
			}
			return nil, s.svc.UpdateCredentialValue(args.ID, args.Value)
		})

	s.register("credentials.clearValue", "Clear a credential's value, keeping its metadata.",
		schema(map[string]any{"id": map[string]any{"type": "integer"}}, "id"),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				ID int64 `json:"id"`
			}
			if err := unmarshalArgs(raw, &args); err != nil {
				return nil, err
			}
			return nil, s.svc.ClearCredentialValue(args.ID)
		})

	s.register("credentials.delete", "Delete a credential by id.",
		schema(map[string]any{"id": map[string]any{"type": "integer"}}, "id"),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				ID int64 `json:"id"`
			}
			if err := unmarshalArgs(raw, &args); err != nil {
				return nil, err
			}
			return nil, s.svc.DeleteCredential(args.ID)
		})
}

// --- system.* -------------------------------------------------------------

func (s *Server) registerSystemTools() {
	s.register("system.status", "Report daemon health, job counts, and recent activity.",
		schema(map[string]any{}),
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			return s.svc.Status()
		})
}
