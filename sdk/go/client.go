package caselinesdk

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

// Client is a minimal Caseline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://127.0.0.1:8080/v1.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

type Actor struct {
	ID           string   `json:"id"`
	Wallet       string   `json:"wallet"`
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	Phone        string   `json:"phone"`
	Role         string   `json:"role"`
	Status       string   `json:"status"`
	DocumentRefs []string `json:"document_refs"`
	CreatedAt    string   `json:"created_at"`
	VerifiedAt   string   `json:"verified_at"`
	Version      int64    `json:"version"`
}

type Caseworker struct {
	ID         string `json:"id"`
	ActorID    string `json:"actor_id"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Badge      string `json:"badge"`
	Department string `json:"department"`
}

type CaseworkerDetails struct {
	Caseworker  Caseworker `json:"caseworker"`
	Actor       Actor      `json:"actor"`
	ActiveCases int        `json:"active_cases"`
	ClosedCases int        `json:"closed_cases"`
}

type Case struct {
	ID                   string   `json:"id"`
	Number               string   `json:"number"`
	SubmitterID          string   `json:"submitter_id"`
	Category             string   `json:"category"`
	IncidentAt           string   `json:"incident_at"`
	Location             string   `json:"location"`
	Description          string   `json:"description"`
	EvidenceRefs         []string `json:"evidence_refs"`
	Status               string   `json:"status"`
	AssignedCaseworkerID string   `json:"assigned_caseworker_id"`
	TxID                 string   `json:"tx_id"`
	ClosingComments      string   `json:"closing_comments"`
	CreatedAt            string   `json:"created_at"`
	UpdatedAt            string   `json:"updated_at"`
	ClosedAt             string   `json:"closed_at"`
}

type CaseUpdate struct {
	ID             string `json:"id"`
	Seq            int64  `json:"seq"`
	CaseID         string `json:"case_id"`
	CaseVersion    int64  `json:"case_version"`
	ActorID        string `json:"actor_id"`
	PreviousStatus string `json:"previous_status"`
	NewStatus      string `json:"new_status"`
	Comment        string `json:"comment"`
	TxID           string `json:"tx_id"`
	CreatedAt      string `json:"created_at"`
}

type CaseDetails struct {
	Case       Case               `json:"case"`
	Submitter  Actor              `json:"submitter"`
	Caseworker *CaseworkerDetails `json:"caseworker"`
	Updates    []CaseUpdate       `json:"updates"`
}

// Confirmation reports whether a mutation reached the ledger.
type Confirmation struct {
	State  string `json:"state"`
	TxID   string `json:"tx_id"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// EventsPage is one page of the event log; pass NextAfter to fetch the next.
type EventsPage struct {
	Items     []Event `json:"items"`
	NextAfter int64   `json:"next_after"`
}

type Document struct {
	ContentID string `json:"content_id"`
	URL       string `json:"url"`
	Filename  string `json:"filename"`
	Size      int    `json:"size"`
}

type Stats struct {
	TotalCases           int            `json:"total_cases"`
	PendingVerifications int            `json:"pending_verifications"`
	Caseworkers          int            `json:"caseworkers"`
	ClosedCases          int            `json:"closed_cases"`
	CasesByStatus        map[string]int `json:"cases_by_status"`
}

// RegisterRequest registers a wallet. Message and Signature are a signed
// login message proving ownership of the wallet.
type RegisterRequest struct {
	Wallet       string   `json:"wallet"`
	Name         string   `json:"name,omitempty"`
	Email        string   `json:"email,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	DocumentRefs []string `json:"document_refs,omitempty"`
	Message      string   `json:"message,omitempty"`
	Signature    string   `json:"signature,omitempty"`
}

type CaseworkerRequest struct {
	ActorID    string `json:"actor_id,omitempty"`
	Wallet     string `json:"wallet,omitempty"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Badge      string `json:"badge"`
	Department string `json:"department"`
}

type FileCaseRequest struct {
	Category     string   `json:"category"`
	IncidentAt   string   `json:"incident_at"`
	Location     string   `json:"location"`
	Description  string   `json:"description"`
	EvidenceRefs []string `json:"evidence_refs,omitempty"`
}

// APIError wraps non-2xx responses. Code is the error envelope code when the
// server sent one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges a signed login message for a bearer token and keeps it on
// the client.
func (c *Client) Login(ctx context.Context, wallet, message, signature string) (string, error) {
	body := map[string]any{"wallet": wallet, "message": message, "signature": signature}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/login", body, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

// DevLogin issues a token for an actor id without a signature. Only servers
// started in dev mode accept it.
func (c *Client) DevLogin(ctx context.Context, actorID string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", map[string]any{"actor_id": actorID}, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (Actor, Confirmation, error) {
	var resp struct {
		Actor        Actor        `json:"actor"`
		Confirmation Confirmation `json:"confirmation"`
	}
	err := c.do(ctx, http.MethodPost, "actors", req, &resp)
	return resp.Actor, resp.Confirmation, err
}

func (c *Client) PendingActors(ctx context.Context) ([]Actor, error) {
	var resp []Actor
	err := c.do(ctx, http.MethodGet, "actors/pending", nil, &resp)
	return resp, err
}

// SetVerification verifies or rejects an actor; status is verified or rejected.
func (c *Client) SetVerification(ctx context.Context, actorID, status string) (Actor, Confirmation, error) {
	var resp struct {
		Actor        Actor        `json:"actor"`
		Confirmation Confirmation `json:"confirmation"`
	}
	endpoint := fmt.Sprintf("actors/%s/verification", url.PathEscape(actorID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp.Actor, resp.Confirmation, err
}

func (c *Client) CreateCaseworker(ctx context.Context, req CaseworkerRequest) (CaseworkerDetails, Confirmation, error) {
	var resp struct {
		Caseworker   CaseworkerDetails `json:"caseworker"`
		Confirmation Confirmation      `json:"confirmation"`
	}
	err := c.do(ctx, http.MethodPost, "caseworkers", req, &resp)
	return resp.Caseworker, resp.Confirmation, err
}

func (c *Client) Caseworkers(ctx context.Context) ([]CaseworkerDetails, error) {
	var resp []CaseworkerDetails
	err := c.do(ctx, http.MethodGet, "caseworkers", nil, &resp)
	return resp, err
}

func (c *Client) FileCase(ctx context.Context, req FileCaseRequest) (Case, Confirmation, error) {
	var resp struct {
		Case         Case         `json:"case"`
		Confirmation Confirmation `json:"confirmation"`
	}
	err := c.do(ctx, http.MethodPost, "cases", req, &resp)
	return resp.Case, resp.Confirmation, err
}

// Cases lists cases; empty scope and status use server defaults.
func (c *Client) Cases(ctx context.Context, scope, status string) ([]CaseDetails, error) {
	q := url.Values{}
	if scope != "" {
		q.Set("scope", scope)
	}
	if status != "" {
		q.Set("status", status)
	}
	endpoint := "cases"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []CaseDetails
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Case(ctx context.Context, caseID string) (CaseDetails, error) {
	var resp CaseDetails
	err := c.do(ctx, http.MethodGet, "cases/"+url.PathEscape(caseID), nil, &resp)
	return resp, err
}

func (c *Client) Assign(ctx context.Context, caseID, caseworkerID string) (Case, Confirmation, error) {
	var resp struct {
		Case         Case         `json:"case"`
		Confirmation Confirmation `json:"confirmation"`
	}
	endpoint := fmt.Sprintf("cases/%s/assignment", url.PathEscape(caseID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"caseworker_id": caseworkerID}, &resp)
	return resp.Case, resp.Confirmation, err
}

func (c *Client) UpdateStatus(ctx context.Context, caseID, status, comment string) (Case, Confirmation, error) {
	var resp struct {
		Case         Case         `json:"case"`
		Confirmation Confirmation `json:"confirmation"`
	}
	endpoint := fmt.Sprintf("cases/%s/status", url.PathEscape(caseID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status, "comment": comment}, &resp)
	return resp.Case, resp.Confirmation, err
}

// UploadDocument stores data and returns its content id.
func (c *Client) UploadDocument(ctx context.Context, filename string, data []byte) (Document, error) {
	endpoint := "documents?filename=" + url.QueryEscape(filename)
	var resp Document
	err := c.send(ctx, http.MethodPost, endpoint, "application/octet-stream", bytes.NewReader(data), &resp)
	return resp, err
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var resp Stats
	err := c.do(ctx, http.MethodGet, "stats", nil, &resp)
	return resp, err
}

// Events returns events with an id greater than after.
func (c *Client) Events(ctx context.Context, after int64, limit int) (EventsPage, error) {
	endpoint := fmt.Sprintf("events?after=%d", after)
	if limit > 0 {
		endpoint = fmt.Sprintf("%s&limit=%d", endpoint, limit)
	}
	var resp EventsPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	return c.send(ctx, method, endpoint, "application/json", &buf, out)
}

func (c *Client) send(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
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
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
