package tools

import (
	"context"
	"net/http"
	"net/url"
)

// Todo actions.
const (
	TodoCreate = "create"
	TodoList   = "list"
	TodoGet    = "get"
	TodoUpdate = "update"
	TodoDelete = "delete"
)

// TodoParams are the parameters of one todo action. UnionID is the task
// owner and is required by every action.
type TodoParams struct {
	UnionID     string   `json:"unionId,omitempty"`
	TaskID      string   `json:"taskId,omitempty"`
	Subject     string   `json:"subject,omitempty"`
	Description string   `json:"description,omitempty"`
	DueTime     int64    `json:"dueTime,omitempty"`
	ExecutorIDs []string `json:"executorIds,omitempty"`
	Done        *bool    `json:"done,omitempty"`
	NextToken   string   `json:"nextToken,omitempty"`
}

// Todo manages workspace todo tasks.
func (c *Client) Todo(ctx context.Context, action string, p TodoParams) Result {
	if p.UnionID == "" {
		return failure("unionId is required for todo actions")
	}
	base := "/v1.0/todo/users/" + url.PathEscape(p.UnionID) + "/tasks"

	switch action {
	case TodoCreate:
		if p.Subject == "" {
			return failure("subject is required for %s", action)
		}
		body := map[string]any{
			"subject": p.Subject,
		}
		if p.Description != "" {
			body["description"] = p.Description
		}
		if p.DueTime > 0 {
			body["dueTime"] = p.DueTime
		}
		if len(p.ExecutorIDs) > 0 {
			body["executorIds"] = p.ExecutorIDs
		}
		return c.call(ctx, http.MethodPost, base, nil, body)

	case TodoList:
		body := map[string]any{}
		if p.NextToken != "" {
			body["nextToken"] = p.NextToken
		}
		if p.Done != nil {
			body["isDone"] = *p.Done
		}
		return c.call(ctx, http.MethodPost, base+"/query", nil, body)

	case TodoGet:
		if p.TaskID == "" {
			return failure("taskId is required for %s", action)
		}
		return c.call(ctx, http.MethodGet, base+"/"+url.PathEscape(p.TaskID), nil, nil)

	case TodoUpdate:
		if p.TaskID == "" {
			return failure("taskId is required for %s", action)
		}
		body := map[string]any{}
		if p.Subject != "" {
			body["subject"] = p.Subject
		}
		if p.Description != "" {
			body["description"] = p.Description
		}
		if p.DueTime > 0 {
			body["dueTime"] = p.DueTime
		}
		if p.Done != nil {
			body["done"] = *p.Done
		}
		if len(body) == 0 {
			return failure("nothing to update")
		}
		return c.call(ctx, http.MethodPut, base+"/"+url.PathEscape(p.TaskID), nil, body)

	case TodoDelete:
		if p.TaskID == "" {
			return failure("taskId is required for %s", action)
		}
		return c.call(ctx, http.MethodDelete, base+"/"+url.PathEscape(p.TaskID), nil, nil)

	default:
		return failure("unknown todo action %q", action)
	}
}
