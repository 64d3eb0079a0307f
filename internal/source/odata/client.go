// Package odata reads Project Online reporting data from the
// /_api/ProjectData OData feed of a PWA site.
package odata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JonMunkholm/poimport/internal/apperr"
	"github.com/JonMunkholm/poimport/internal/logging"
	"github.com/JonMunkholm/poimport/internal/retry"
	"github.com/JonMunkholm/poimport/internal/source"
)

// Client is a source.Reader over the ProjectData feed.
type Client struct {
	base     string
	token    string
	pageSize int
	http     *http.Client
	retry    *retry.Executor
}

// Options configures a Client.
type Options struct {
	SiteURL     string
	AccessToken string
	PageSize    int
	Timeout     time.Duration
	Retry       *retry.Executor
	Transport   http.RoundTripper
}

// New returns a client for the PWA site at opts.SiteURL.
func New(opts Options) (*Client, error) {
	if opts.SiteURL == "" {
		return nil, apperr.NewConfigurationError("PROJECT_ONLINE_URL", "required to read from Project Online")
	}
	if _, err := url.Parse(opts.SiteURL); err != nil {
		return nil, apperr.NewConfigurationError("PROJECT_ONLINE_URL", "invalid url: %v", err)
	}
	if opts.AccessToken == "" {
		return nil, apperr.NewConfigurationError("PROJECT_ONLINE_ACCESS_TOKEN", "required to read from Project Online")
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 500
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	rt := opts.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}

	return &Client{
		base:     strings.TrimRight(opts.SiteURL, "/") + "/_api/ProjectData",
		token:    opts.AccessToken,
		pageSize: opts.PageSize,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(rt),
		},
		retry: opts.Retry,
	}, nil
}

var _ source.Reader = (*Client)(nil)

// page accepts JSON light ("value" + "@odata.nextLink" / "odata.nextLink")
// and verbose ("d.results" + "d.__next") collection payloads.
type page[T any] struct {
	Value      []T    `json:"value"`
	NextLink   string `json:"@odata.nextLink"`
	NextLinkV3 string `json:"odata.nextLink"`
	D          *struct {
		Results []T    `json:"results"`
		Next    string `json:"__next"`
	} `json:"d"`
}

func (p *page[T]) items() []T {
	if p.D != nil {
		return p.D.Results
	}
	return p.Value
}

func (p *page[T]) next() string {
	switch {
	case p.D != nil && p.D.Next != "":
		return p.D.Next
	case p.NextLink != "":
		return p.NextLink
	}
	return p.NextLinkV3
}

// entity accepts a bare object or a verbose {"d": {...}} wrapper.
type entity[T any] struct {
	D *T `json:"d"`
}

// list follows next links until the collection is exhausted.
func list[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("$top", fmt.Sprint(c.pageSize))
	next := c.base + "/" + path + "?" + query.Encode()

	var out []T
	pages := 0
	for next != "" {
		body, err := c.get(ctx, next)
		if err != nil {
			return nil, err
		}
		var p page[T]
		if err := sonic.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode %s page %d: %w", path, pages+1, err)
		}
		out = append(out, p.items()...)
		pages++
		next = c.resolve(p.next())
	}

	logging.FromContext(ctx).Debug("odata collection read",
		zap.String("path", path), zap.Int("pages", pages), zap.Int("items", len(out)))
	return out, nil
}

func one[T any](ctx context.Context, c *Client, path string) (*T, error) {
	body, err := c.get(ctx, c.base+"/"+path)
	if err != nil {
		return nil, err
	}

	var wrapped entity[T]
	if err := sonic.Unmarshal(body, &wrapped); err == nil && wrapped.D != nil {
		return wrapped.D, nil
	}
	var v T
	if err := sonic.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &v, nil
}

// resolve turns a relative next link into an absolute URL.
func (c *Client) resolve(link string) string {
	if link == "" || strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	return c.base + "/" + strings.TrimLeft(link, "/")
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	if c.retry == nil {
		return c.do(ctx, endpoint)
	}
	return retry.Run(ctx, c.retry, "odata GET", func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, endpoint)
	})
}

func (c *Client) do(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json;odata=nometadata")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return nil, apperr.FromStatus(resp.StatusCode, 0, &apperr.HTTPError{Status: resp.StatusCode, Body: msg})
	}
	return body, nil
}

func projectPath(id string) string {
	return fmt.Sprintf("Projects(guid'%s')", id)
}

func (c *Client) ListProjects(ctx context.Context) ([]source.Project, error) {
	rows, err := list[projectRow](ctx, c, "Projects", url.Values{"$orderby": {"ProjectName"}})
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	out := make([]source.Project, len(rows))
	for i, r := range rows {
		out[i] = r.toSource()
	}
	return out, nil
}

func (c *Client) GetProject(ctx context.Context, id string) (*source.Project, error) {
	row, err := one[projectRow](ctx, c, projectPath(id))
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, &apperr.NotFoundError{Resource: "source project", ID: id, Err: err}
		}
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	p := row.toSource()
	return &p, nil
}

func (c *Client) ListTasks(ctx context.Context, projectID string) ([]source.Task, error) {
	rows, err := list[taskRow](ctx, c, projectPath(projectID)+"/Tasks", url.Values{"$orderby": {"TaskIndex"}})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]source.Task, len(rows))
	for i, r := range rows {
		out[i] = r.toSource()
	}
	return out, nil
}

func (c *Client) ListTaskLinks(ctx context.Context, projectID string) ([]source.TaskLink, error) {
	rows, err := list[linkRow](ctx, c, projectPath(projectID)+"/TaskLinks", nil)
	if err != nil {
		return nil, fmt.Errorf("list task links: %w", err)
	}
	out := make([]source.TaskLink, len(rows))
	for i, r := range rows {
		out[i] = r.toSource()
	}
	return out, nil
}

// ListResources returns the enterprise resources assigned in the project.
func (c *Client) ListResources(ctx context.Context, projectID string) ([]source.Resource, error) {
	assignments, err := c.ListAssignments(ctx, projectID)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(assignments))
	for _, a := range assignments {
		wanted[strings.ToLower(a.ResourceID)] = true
	}

	rows, err := list[resourceRow](ctx, c, "Resources", url.Values{"$orderby": {"ResourceName"}})
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	out := make([]source.Resource, 0, len(wanted))
	for _, r := range rows {
		if wanted[strings.ToLower(r.ResourceID)] {
			out = append(out, r.toSource())
		}
	}
	return out, nil
}

func (c *Client) ListAssignments(ctx context.Context, projectID string) ([]source.Assignment, error) {
	rows, err := list[assignmentRow](ctx, c, projectPath(projectID)+"/Assignments", nil)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	out := make([]source.Assignment, len(rows))
	for i, r := range rows {
		out[i] = r.toSource()
	}
	return out, nil
}
