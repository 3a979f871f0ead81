package khatmasdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal khatma HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task is one part of a board.
type Task struct {
	Status     int    `json:"status"`
	HolderID   string `json:"holderId"`
	HolderName string `json:"holderName"`
}

const (
	StatusAvailable = 0
	StatusReserved  = 1
	StatusDone      = 2
)

// Tasks is keyed by part number.
type Tasks map[string]Task

// Get returns part id.
func (t Tasks) Get(id int) Task {
	return t[strconv.Itoa(id)]
}

// Board is a group's counter and tasks.
type Board struct {
	Group        string `json:"group"`
	MissionCount int    `json:"missionCount"`
	Tasks        Tasks  `json:"tasks"`
}

type Registration struct {
	Success bool   `json:"success"`
	UID     string `json:"uid"`
	Name    string `json:"name"`
	Created bool   `json:"created"`
}

type AdvanceResult struct {
	Success           bool   `json:"success"`
	TaskID            int    `json:"taskId"`
	Status            int    `json:"status"`
	MissionCount      int    `json:"missionCount"`
	Tasks             Tasks  `json:"tasks"`
	CompletionMessage string `json:"completionMessage"`
}

type Mission struct {
	Group        string `json:"group"`
	UID          string `json:"uid"`
	Name         string `json:"name"`
	MyTasksCount int    `json:"myTasksCount"`
	MissionCount int    `json:"missionCount"`
	Tasks        Tasks  `json:"tasks"`
}

type User struct {
	UID     string           `json:"uid"`
	Name    string           `json:"name"`
	History map[string][]int `json:"history"`
}

// APIError wraps non-2xx responses. Code, Message and Details come from the
// error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Body       string
	Code       string
	Message    string
	Details    map[string]any
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Redirect returns the login location attached to a not_registered error.
func (e *APIError) Redirect() string {
	s, _ := e.Details["redirect"].(string)
	return s
}

// Register creates or renames a user and joins group.
func (c *Client) Register(ctx context.Context, group, id, name string) (Registration, error) {
	body := map[string]any{
		"group": group,
		"id":    id,
		"name":  name,
	}
	var resp Registration
	err := c.do(ctx, http.MethodPost, "auth", body, &resp)
	return resp, err
}

// Advance moves task one step for uid.
func (c *Client) Advance(ctx context.Context, group, uid string, task int) (AdvanceResult, error) {
	body := map[string]any{
		"group_name": group,
		"uid":        uid,
		"task_id":    task,
	}
	var resp AdvanceResult
	err := c.do(ctx, http.MethodPost, "update_task", body, &resp)
	return resp, err
}

// Board fetches a group board, creating the group server-side when absent.
func (c *Client) Board(ctx context.Context, group string) (Board, error) {
	var resp Board
	err := c.do(ctx, http.MethodGet, withQuery("get_status", map[string]string{"group": group}), nil, &resp)
	return resp, err
}

// Groups lists group names in creation order.
func (c *Client) Groups(ctx context.Context) ([]string, error) {
	var resp struct {
		Groups []string `json:"groups"`
	}
	err := c.do(ctx, http.MethodGet, "groups", nil, &resp)
	return resp.Groups, err
}

// Mission fetches the board as seen by uid.
func (c *Client) Mission(ctx context.Context, group, uid string) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodGet, withQuery("mission", map[string]string{"group": group, "uid": uid}), nil, &resp)
	return resp, err
}

// User fetches a user record.
func (c *Client) User(ctx context.Context, uid string) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "users/"+url.PathEscape(uid), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.Details = envelope.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func withQuery(endpoint string, params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
