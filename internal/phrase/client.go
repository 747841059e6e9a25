// Package phrase is the HTTP client for the Phrase TMS API.
package phrase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tinloof/sanity-plugin-phrase/internal/globaltime"
)

type Region string

const (
	RegionEU Region = "eu"
	RegionUS Region = "us"
)

const (
	defaultTimeout  = 60 * time.Second
	jobsPageSize    = 50
	tokenSafetySkew = time.Minute
)

// BaseURL returns the API root of a data center. Unknown regions use eu.
func BaseURL(region Region) string {
	if Region(strings.ToLower(strings.TrimSpace(string(region)))) == RegionUS {
		return "https://us.cloud.memsource.com/web"
	}
	return "https://cloud.memsource.com/web"
}

type Credentials struct {
	UserName string
	Password string
	Region   Region
}

// Client talks to one vendor account. The login token is opaque and lives
// only as long as the client.
type Client struct {
	baseURL     string
	region      Region
	credentials Credentials
	client      *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

type Option func(*Client)

// WithBaseURL points the client at another API root, such as a test server.
func WithBaseURL(raw string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(strings.TrimSpace(raw), "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

func NewClient(creds Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL:     BaseURL(creds.Region),
		region:      creds.Region,
		credentials: creds,
		client:      &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Region() Region { return c.region }

type loginRequest struct {
	UserName string `json:"userName"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token   string `json:"token"`
	Expires string `json:"expires"`
}

func (c *Client) authToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && (c.tokenExpiry.IsZero() || globaltime.Now().Before(c.tokenExpiry.Add(-tokenSafetySkew))) {
		return c.token, nil
	}
	if strings.TrimSpace(c.credentials.UserName) == "" || c.credentials.Password == "" {
		return "", &Error{Kind: ErrorInvalidCredentials, Op: "login", Body: "missing user name or password"}
	}

	body, err := json.Marshal(loginRequest{UserName: c.credentials.UserName, Password: c.credentials.Password})
	if err != nil {
		return "", fmt.Errorf("marshal login request: %w", err)
	}
	respBody, err := c.send(ctx, "login", http.MethodPost, "/api2/v1/auth/login", bytes.NewReader(body), map[string]string{"Content-Type": "application/json"}, "")
	if err != nil {
		return "", err
	}
	var parsed loginResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.Token == "" {
		return "", &Error{Kind: ErrorMalformedResponse, Op: "login", Body: truncate(respBody)}
	}
	c.token = parsed.Token
	c.tokenExpiry = time.Time{}
	if expiry, err := time.Parse(time.RFC3339, parsed.Expires); err == nil {
		c.tokenExpiry = expiry
	}
	return c.token, nil
}

func (c *Client) dropToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// call sends an authenticated request. A 401 drops the cached token and
// retries once with a fresh login.
func (c *Client) call(ctx context.Context, op, method, path string, body []byte, headers map[string]string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.authToken(ctx)
		if err != nil {
			return nil, err
		}
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		respBody, err := c.send(ctx, op, method, path, reader, headers, token)
		var apiErr *Error
		if attempt == 0 && asError(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			c.dropToken()
			continue
		}
		return respBody, err
	}
}

func (c *Client) send(ctx context.Context, op, method, path string, body io.Reader, headers map[string]string, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if token != "" {
		req.Header.Set("Authorization", "ApiToken "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send %s request: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := ErrorUnknownClient
		if op == "login" && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			kind = ErrorInvalidCredentials
		}
		return nil, &Error{Kind: kind, Op: op, StatusCode: resp.StatusCode, Body: truncate(respBody)}
	}
	return respBody, nil
}

func (c *Client) callJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body []byte
	headers := map[string]string{"Accept": "application/json"}
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		headers["Content-Type"] = "application/json"
	}
	respBody, err := c.call(ctx, op, method, path, body, headers)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{Kind: ErrorMalformedResponse, Op: op, Body: truncate(respBody)}
	}
	return nil
}

type ProjectInput struct {
	Name        string   `json:"name"`
	SourceLang  string   `json:"sourceLang"`
	TargetLangs []string `json:"targetLangs"`
	DateDue     string   `json:"dateDue,omitempty"`
}

// CreateProject creates a project from a template.
func (c *Client) CreateProject(ctx context.Context, templateUID string, in ProjectInput) (Project, error) {
	var project Project
	err := c.callJSON(ctx, "create project", http.MethodPost, "/api2/v2/projects/applyTemplate/"+url.PathEscape(templateUID), in, &project)
	if err == nil && project.UID == "" {
		err = &Error{Kind: ErrorMalformedResponse, Op: "create project", Body: "missing project uid"}
	}
	return project, err
}

func (c *Client) GetProject(ctx context.Context, projectUID string) (Project, error) {
	var project Project
	err := c.callJSON(ctx, "get project", http.MethodGet, "/api2/v1/projects/"+url.PathEscape(projectUID), nil, &project)
	return project, err
}

func (c *Client) DeleteProject(ctx context.Context, projectUID string) error {
	return c.callJSON(ctx, "delete project", http.MethodDelete, "/api2/v1/projects/"+url.PathEscape(projectUID)+"?purge=true", nil, nil)
}

type memsourceHeader struct {
	TargetLangs []string `json:"targetLangs"`
}

// CreateJobs uploads one JSON file and creates a job per target language.
func (c *Client) CreateJobs(ctx context.Context, projectUID, filename string, targetLangs []string, content []byte) ([]JobPart, error) {
	meta, err := json.Marshal(memsourceHeader{TargetLangs: targetLangs})
	if err != nil {
		return nil, fmt.Errorf("marshal job metadata: %w", err)
	}
	headers := map[string]string{
		"Accept":              "application/json",
		"Content-Type":        "application/octet-stream",
		"Memsource":           string(meta),
		"Content-Disposition": "filename*=UTF-8''" + url.PathEscape(filename),
	}
	respBody, err := c.call(ctx, "create jobs", http.MethodPost, "/api2/v1/projects/"+url.PathEscape(projectUID)+"/jobs", content, headers)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Jobs []JobPart `json:"jobs"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &Error{Kind: ErrorMalformedResponse, Op: "create jobs", Body: truncate(respBody)}
	}
	return parsed.Jobs, nil
}

// ListJobParts returns every job of a project, following pagination.
func (c *Client) ListJobParts(ctx context.Context, projectUID string) ([]JobPart, error) {
	var out []JobPart
	for page := 0; ; page++ {
		var parsed struct {
			Content    []JobPart `json:"content"`
			TotalPages int       `json:"totalPages"`
		}
		path := fmt.Sprintf("/api2/v2/projects/%s/jobs?pageSize=%d&pageNumber=%d", url.PathEscape(projectUID), jobsPageSize, page)
		if err := c.callJSON(ctx, "list jobs", http.MethodGet, path, nil, &parsed); err != nil {
			return nil, err
		}
		out = append(out, parsed.Content...)
		if page+1 >= parsed.TotalPages {
			return out, nil
		}
	}
}

// DownloadTargetFile returns the translated file of a job.
func (c *Client) DownloadTargetFile(ctx context.Context, projectUID, jobUID string) ([]byte, error) {
	path := "/api2/v1/projects/" + url.PathEscape(projectUID) + "/jobs/" + url.PathEscape(jobUID) + "/targetFile"
	return c.call(ctx, "download target file", http.MethodGet, path, nil, map[string]string{"Accept": "application/octet-stream"})
}

func truncate(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
