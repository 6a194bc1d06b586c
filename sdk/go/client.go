package inspectlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Inspectline interview API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "v0",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Context describes the job an interview is run for.
type Context struct {
	JobType    string `json:"job_type"`
	Region     string `json:"region,omitempty"`
	AccessTier string `json:"access_tier"`
}

// Option is one selectable answer of a question.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Question represents the API question model (partial).
type Question struct {
	ID       string   `json:"id"`
	Tier     int      `json:"tier"`
	Category string   `json:"category"`
	Prompt   string   `json:"prompt"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Options  []Option `json:"options,omitempty"`
}

// Answer is a recorded answer.
type Answer struct {
	QuestionID string `json:"question_id"`
	Value      any    `json:"value"`
	Confidence int    `json:"confidence"`
	AnsweredAt string `json:"answered_at"`
}

// Session represents the API session model (partial).
type Session struct {
	ID             string   `json:"session_id"`
	UserID         string   `json:"user_id"`
	FormTemplateID string   `json:"form_template_id"`
	LibraryVersion string   `json:"library_version"`
	Context        Context  `json:"context"`
	Status         string   `json:"status"`
	Pointer        int      `json:"current_pointer"`
	Answers        []Answer `json:"answers"`
	Triggers       []string `json:"triggers"`
}

// Interview is a session together with the question under its pointer.
type Interview struct {
	Session         Session   `json:"session"`
	CurrentQuestion *Question `json:"current_question,omitempty"`
}

// Completion lists required questions still unanswered.
type Completion struct {
	Complete bool     `json:"complete"`
	Missing  []string `json:"missing"`
}

// Quality summarizes how well an interview populated its form.
type Quality struct {
	FormTemplateID    string   `json:"form_template_id"`
	TotalFields       int      `json:"total_fields"`
	PopulatedFields   int      `json:"populated_fields"`
	Completeness      float64  `json:"completeness"`
	AverageConfidence float64  `json:"average_confidence"`
	MissingFields     []string `json:"missing_fields"`
}

// Receipt acknowledges a form submission.
type Receipt struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	SubmittedAt string `json:"submitted_at"`
}

// Event represents an audit log entry.
type Event struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	ActorID   string         `json:"actor_id"`
	Payload   map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StartInterview opens a new interview for a form template.
func (c *Client) StartInterview(ctx context.Context, formTemplateID string, jobCtx Context) (Interview, error) {
	body := map[string]any{
		"form_template_id": formTemplateID,
		"context":          jobCtx,
	}
	var resp Interview
	err := c.do(ctx, http.MethodPost, "interviews", body, &resp)
	return resp, err
}

// Interview restores an interview by id.
func (c *Client) Interview(ctx context.Context, id string) (Interview, error) {
	var resp Interview
	err := c.do(ctx, http.MethodGet, c.interviewPath(id, ""), nil, &resp)
	return resp, err
}

// Answer records an answer to the current question.
func (c *Client) Answer(ctx context.Context, id, questionID string, value any) (Interview, error) {
	body := map[string]any{
		"question_id": questionID,
		"value":       value,
	}
	var resp Interview
	err := c.do(ctx, http.MethodPost, c.interviewPath(id, "answers"), body, &resp)
	return resp, err
}

// Previous moves back to the previous answered question.
func (c *Client) Previous(ctx context.Context, id string) (Interview, error) {
	var resp Interview
	err := c.do(ctx, http.MethodPost, c.interviewPath(id, "previous"), nil, &resp)
	return resp, err
}

// Jump moves to an earlier question on the active path.
func (c *Client) Jump(ctx context.Context, id, questionID string) (Interview, error) {
	var resp Interview
	err := c.do(ctx, http.MethodPost, c.interviewPath(id, "jump"), map[string]any{"question_id": questionID}, &resp)
	return resp, err
}

// Abandon ends an interview without completing it.
func (c *Client) Abandon(ctx context.Context, id string) (Interview, error) {
	var resp Interview
	err := c.do(ctx, http.MethodPost, c.interviewPath(id, "abandon"), nil, &resp)
	return resp, err
}

func (c *Client) Completion(ctx context.Context, id string) (Completion, error) {
	var resp Completion
	err := c.do(ctx, http.MethodGet, c.interviewPath(id, "completion"), nil, &resp)
	return resp, err
}

func (c *Client) Quality(ctx context.Context, id string) (Quality, error) {
	var resp Quality
	err := c.do(ctx, http.MethodGet, c.interviewPath(id, "quality"), nil, &resp)
	return resp, err
}

// Export returns the raw export payload.
func (c *Client) Export(ctx context.Context, id string) (map[string]any, error) {
	var resp map[string]any
	err := c.do(ctx, http.MethodGet, c.interviewPath(id, "export"), nil, &resp)
	return resp, err
}

// Submit hands a completed interview's form to the configured submitter.
func (c *Client) Submit(ctx context.Context, id string) (Receipt, error) {
	var resp Receipt
	err := c.do(ctx, http.MethodPost, c.interviewPath(id, "submit"), nil, &resp)
	return resp, err
}

// Events returns the latest audit events of an interview, oldest first.
func (c *Client) Events(ctx context.Context, id string, limit int) ([]Event, error) {
	endpoint := c.interviewPath(id, "events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) interviewPath(id, p string) string {
	endpoint := "interviews/" + url.PathEscape(id)
	if p != "" {
		endpoint += "/" + p
	}
	return endpoint
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if bp := strings.Trim(c.BasePath, "/"); bp != "" {
		base += "/" + bp
	}
	return base
}
