package tools

import (
	"context"
	"net/http"
	"net/url"
)

// Contact actions.
const (
	ContactSearchUser       = "search_user"
	ContactSearchDepartment = "search_department"
	ContactGetUser          = "get_user"
)

const contactDefaultPageSize = 10

// ContactParams are the parameters of one contact action. Only the fields
// the chosen action needs are read.
type ContactParams struct {
	QueryWord      string `json:"queryWord,omitempty"`
	Offset         int    `json:"offset,omitempty"`
	Size           int    `json:"size,omitempty"`
	FullMatchField int    `json:"fullMatchField,omitempty"`
	UnionID        string `json:"unionId,omitempty"`
}

// Contact resolves names to user ids and looks up user details.
func (c *Client) Contact(ctx context.Context, action string, p ContactParams) Result {
	switch action {
	case ContactSearchUser:
		if p.QueryWord == "" {
			return failure("queryWord is required for %s", action)
		}
		size := p.Size
		if size <= 0 {
			size = contactDefaultPageSize
		}
		body := map[string]any{
			"queryWord": p.QueryWord,
			"offset":    p.Offset,
			"size":      size,
		}
		if p.FullMatchField > 0 {
			body["fullMatchField"] = p.FullMatchField
		}
		return c.call(ctx, http.MethodPost, "/v1.0/contact/users/search", nil, body)

	case ContactSearchDepartment:
		if p.QueryWord == "" {
			return failure("queryWord is required for %s", action)
		}
		size := p.Size
		if size <= 0 {
			size = contactDefaultPageSize
		}
		return c.call(ctx, http.MethodPost, "/v1.0/contact/departments/search", nil, map[string]any{
			"queryWord": p.QueryWord,
			"offset":    p.Offset,
			"size":      size,
		})

	case ContactGetUser:
		if p.UnionID == "" {
			return failure("unionId is required for %s", action)
		}
		return c.call(ctx, http.MethodGet, "/v1.0/contact/users/"+url.PathEscape(p.UnionID), nil, nil)

	default:
		return failure("unknown contact action %q", action)
	}
}
