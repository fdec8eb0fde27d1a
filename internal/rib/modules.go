package rib

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/BardiaPzK/ribooster/internal/model"
)

const (
	projectPath     = "project/publicapi/project/3.0"
	estHeaderPath   = "estimate/publicapi/estimate/header/2.0"
	lineItemPath    = "estimate/publicapi/estimate/lineitem/3.0"
	estResourcePath = "estimate/publicapi/estimate/resource/1.0"
	activityPath    = "scheduling/publicapi/activity/2.0"
)

// ListProjects returns every project visible to the configured company,
// ordered by name.
func (c *Client) ListProjects(ctx context.Context) ([]model.Project, error) {
	var out []model.Project
	for skip := 0; ; skip += c.cfg.PageSize {
		q := pageQuery("", skip, c.cfg.PageSize)
		q.Set("$select", "Id,ProjectName")
		q.Set("$orderBy", "ProjectName")

		body, err := c.get(ctx, projectPath, q)
		if err != nil {
			return nil, fmt.Errorf("list projects: %w", err)
		}
		recs, err := decodeRecords(body)
		if err != nil {
			return nil, fmt.Errorf("list projects: %w", err)
		}
		for _, raw := range recs {
			var p struct {
				ID          json.Number `json:"Id"`
				ProjectName string      `json:"ProjectName"`
			}
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("decode project: %w", err)
			}
			out = append(out, model.Project{ID: p.ID.String(), Name: p.ProjectName})
		}
		if len(recs) < c.cfg.PageSize {
			return out, nil
		}
	}
}

// FetchModule returns one page of module records for a project. An empty
// pageToken requests the first page; an empty NextToken in the result means
// the module is exhausted.
func (c *Client) FetchModule(ctx context.Context, projectID string, module model.Module, pageToken string) (*model.Page, error) {
	if _, err := strconv.ParseInt(projectID, 10, 64); err != nil {
		return nil, fmt.Errorf("fetch %s: project id %q is not numeric", module, projectID)
	}

	switch module {
	case model.ModuleEstimates:
		return c.fetchFlat(ctx, estHeaderPath, "PrjProjectFk eq "+projectID, pageToken)
	case model.ModuleActivities:
		return c.fetchFlat(ctx, activityPath, "ProjectId eq "+projectID, pageToken)
	case model.ModuleLineItems:
		return c.fetchPerHeader(ctx, lineItemPath, projectID, pageToken)
	case model.ModuleResources:
		return c.fetchPerHeader(ctx, estResourcePath, projectID, pageToken)
	default:
		return nil, fmt.Errorf("fetch module: unknown module %q", module)
	}
}

// fetchFlat pages a single filtered collection. The token is the $skip offset.
func (c *Client) fetchFlat(ctx context.Context, path, filter, pageToken string) (*model.Page, error) {
	skip := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid page token %q", pageToken)
		}
		skip = n
	}

	recs, err := c.fetchPage(ctx, path, filter, skip)
	if err != nil {
		return nil, err
	}
	page := &model.Page{Records: recs}
	if len(recs) == c.cfg.PageSize {
		page.NextToken = strconv.Itoa(skip + c.cfg.PageSize)
	}
	return page, nil
}

// fetchPerHeader pages a collection filtered by estimate header, walking the
// project's headers in order. The headers are listed once, on the first page;
// later tokens carry the unvisited ids as "<skip>:<id>,<id>,..." with the
// current header first.
func (c *Client) fetchPerHeader(ctx context.Context, path, projectID, pageToken string) (*model.Page, error) {
	skip, headers, err := parseHeaderToken(pageToken)
	if err != nil {
		return nil, err
	}
	if pageToken == "" {
		if headers, err = c.estimateHeaderIDs(ctx, projectID); err != nil {
			return nil, err
		}
	}
	if len(headers) == 0 {
		return &model.Page{}, nil
	}

	recs, err := c.fetchPage(ctx, path, "EstHeaderId eq "+headers[0], skip)
	if err != nil {
		return nil, err
	}
	page := &model.Page{Records: recs}
	switch {
	case len(recs) == c.cfg.PageSize:
		page.NextToken = headerToken(skip+c.cfg.PageSize, headers)
	case len(headers) > 1:
		page.NextToken = headerToken(0, headers[1:])
	}
	return page, nil
}

func (c *Client) fetchPage(ctx context.Context, path, filter string, skip int) ([]json.RawMessage, error) {
	body, err := c.get(ctx, path, pageQuery(filter, skip, c.cfg.PageSize))
	if err != nil {
		return nil, err
	}
	return decodeRecords(body)
}

// estimateHeaderIDs lists all estimate header ids of a project.
func (c *Client) estimateHeaderIDs(ctx context.Context, projectID string) ([]string, error) {
	var ids []string
	for skip := 0; ; skip += c.cfg.PageSize {
		q := pageQuery("PrjProjectFk eq "+projectID, skip, c.cfg.PageSize)
		q.Set("$select", "Id")
		body, err := c.get(ctx, estHeaderPath, q)
		if err != nil {
			return nil, fmt.Errorf("list estimate headers: %w", err)
		}
		recs, err := decodeRecords(body)
		if err != nil {
			return nil, fmt.Errorf("list estimate headers: %w", err)
		}
		for _, raw := range recs {
			var h struct {
				ID json.Number `json:"Id"`
			}
			if err := json.Unmarshal(raw, &h); err != nil {
				return nil, fmt.Errorf("decode estimate header: %w", err)
			}
			ids = append(ids, h.ID.String())
		}
		if len(recs) < c.cfg.PageSize {
			return ids, nil
		}
	}
}

func headerToken(skip int, headers []string) string {
	return strconv.Itoa(skip) + ":" + strings.Join(headers, ",")
}

func parseHeaderToken(token string) (int, []string, error) {
	if token == "" {
		return 0, nil, nil
	}
	a, b, ok := strings.Cut(token, ":")
	if !ok || b == "" {
		return 0, nil, fmt.Errorf("invalid page token %q", token)
	}
	skip, err := strconv.Atoi(a)
	if err != nil || skip < 0 {
		return 0, nil, fmt.Errorf("invalid page token %q", token)
	}
	headers := strings.Split(b, ",")
	for _, h := range headers {
		if _, err := strconv.ParseInt(h, 10, 64); err != nil {
			return 0, nil, fmt.Errorf("invalid page token %q", token)
		}
	}
	return skip, headers, nil
}
