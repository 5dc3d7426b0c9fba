// Package directory is the HTTP client for the external document store that
// holds the registered-user roster and each user's task collection.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kalenko/taskpilot/internal/assistant"
	"github.com/kalenko/taskpilot/internal/task"
)

const defaultTimeout = 30 * time.Second

// Client talks to the document store. It implements both the user lookup
// and the task persistence sides of the assistant boundary.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Client for the given base URL and bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type userResponse struct {
	Email          string `json:"email"`
	Name           string `json:"name"`
	TaskDatabaseID string `json:"task_database_id"`
}

// LookupUser resolves a sender address to a registered user. A 404 from the
// store maps to assistant.ErrUserNotFound.
func (c *Client) LookupUser(ctx context.Context, email string) (assistant.User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/users?email="+url.QueryEscape(email), nil)
	if err != nil {
		return assistant.User{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return assistant.User{}, assistant.ErrUserNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return assistant.User{}, fmt.Errorf("user lookup: unexpected status %d", resp.StatusCode)
	}

	var u userResponse
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return assistant.User{}, fmt.Errorf("decoding user: %w", err)
	}
	if u.TaskDatabaseID == "" {
		return assistant.User{}, assistant.ErrUserNotFound
	}

	return assistant.User{
		Email:      u.Email,
		Name:       u.Name,
		DatabaseID: u.TaskDatabaseID,
	}, nil
}

// Persist files one task record into a user's collection.
func (c *Client) Persist(ctx context.Context, collectionID string, t task.Record) error {
	path := fmt.Sprintf("/databases/%s/tasks", url.PathEscape(collectionID))
	resp, err := c.do(ctx, http.MethodPost, path, t)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("persisting task: unexpected status %d", resp.StatusCode)
	}
	return nil
}

type taskListResponse struct {
	Tasks []task.Record `json:"tasks"`
}

// FetchTasks returns every task currently in a user's collection.
func (c *Client) FetchTasks(ctx context.Context, collectionID string) ([]task.Record, error) {
	path := fmt.Sprintf("/databases/%s/tasks", url.PathEscape(collectionID))
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching tasks: unexpected status %d", resp.StatusCode)
	}

	var list taskListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding tasks: %w", err)
	}
	return list.Tasks, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("document store not reachable: %w", err)
	}
	return resp, nil
}
