package tools

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// Doc actions.
const (
	DocCreateDentry    = "create_dentry"
	DocListDirectories = "list_directories"
	DocQueryDentry     = "query_dentry"
)

const docDefaultPageSize = 20

// DocParams are the parameters of one doc action. SpaceID and OperatorID
// are required by every action.
type DocParams struct {
	SpaceID        string `json:"spaceId,omitempty"`
	OperatorID     string `json:"operatorId,omitempty"`
	Name           string `json:"name,omitempty"`
	DentryType     string `json:"dentryType,omitempty"`
	ParentDentryID string `json:"parentDentryId,omitempty"`
	DentryID       string `json:"dentryId,omitempty"`
	MaxResults     int    `json:"maxResults,omitempty"`
	NextToken      string `json:"nextToken,omitempty"`
}

// Doc manages workspace documents and folders.
func (c *Client) Doc(ctx context.Context, action string, p DocParams) Result {
	if p.SpaceID == "" {
		return failure("spaceId is required for doc actions")
	}
	if p.OperatorID == "" {
		return failure("operatorId is required for doc actions")
	}
	base := "/v2.0/doc/spaces/" + url.PathEscape(p.SpaceID)
	operator := url.Values{"operatorId": {p.OperatorID}}

	switch action {
	case DocCreateDentry:
		if p.Name == "" || p.DentryType == "" {
			return failure("name and dentryType are required for %s", action)
		}
		if p.DentryType != "file" && p.DentryType != "folder" {
			return failure("dentryType must be file or folder")
		}
		body := map[string]any{
			"name":       p.Name,
			"dentryType": p.DentryType,
		}
		if p.ParentDentryID != "" {
			body["parentDentryId"] = p.ParentDentryID
		}
		return c.call(ctx, http.MethodPost, base+"/dentries", operator, body)

	case DocListDirectories:
		query := url.Values{"operatorId": {p.OperatorID}}
		if p.DentryID != "" {
			query.Set("dentryId", p.DentryID)
		}
		maxResults := p.MaxResults
		if maxResults <= 0 {
			maxResults = docDefaultPageSize
		}
		query.Set("maxResults", strconv.Itoa(maxResults))
		if p.NextToken != "" {
			query.Set("nextToken", p.NextToken)
		}
		return c.call(ctx, http.MethodGet, base+"/directories", query, nil)

	case DocQueryDentry:
		if p.DentryID == "" {
			return failure("dentryId is required for %s", action)
		}
		return c.call(ctx, http.MethodPost, base+"/dentries/"+url.PathEscape(p.DentryID)+"/query", operator, nil)

	default:
		return failure("unknown doc action %q", action)
	}
}
