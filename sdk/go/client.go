package stakelinesdk

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

// Client is a minimal Stakeline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Commitment represents the API commitment model (partial).
type Commitment struct {
	ID                    string `json:"id"`
	UserID                string `json:"user_id"`
	RefereeID             string `json:"referee_id,omitempty"`
	Title                 string `json:"title"`
	Category              string `json:"category"`
	StartDate             string `json:"start_date"`
	EndDate               string `json:"end_date"`
	CheckInFrequency      string `json:"check_in_frequency"`
	StakesAmount          int    `json:"stakes_amount"`
	StakesCurrency        string `json:"stakes_currency"`
	Status                string `json:"status"`
	TotalCheckInsRequired int    `json:"total_check_ins_required"`
	SuccessfulCheckIns    int    `json:"successful_check_ins"`
	FailedCheckIns        int    `json:"failed_check_ins"`
	IsPublic              bool   `json:"is_public"`
	CreatedAt             string `json:"created_at"`
}

// CheckIn represents a self-reported check-in and its resolution.
type CheckIn struct {
	ID                 string `json:"id"`
	CommitmentID       string `json:"commitment_id"`
	UserID             string `json:"user_id"`
	CheckInDate        string `json:"check_in_date"`
	Note               string `json:"note,omitempty"`
	UserReportedStatus string `json:"user_reported_status"`
	RefereeStatus      string `json:"referee_status"`
	RefereeNote        string `json:"referee_note,omitempty"`
	FinalStatus        string `json:"final_status"`
	CreatedAt          string `json:"created_at"`
}

// PendingCheckIn pairs a referee-pending check-in with its commitment.
type PendingCheckIn struct {
	CheckIn    CheckIn    `json:"check_in"`
	Commitment Commitment `json:"commitment"`
}

// FeedItem is one activity record with its author.
type FeedItem struct {
	ID           int64          `json:"id"`
	UserID       string         `json:"user_id"`
	ActivityType string         `json:"activity_type"`
	ReferenceID  string         `json:"reference_id,omitempty"`
	IsPublic     bool           `json:"is_public"`
	CreatedAt    string         `json:"created_at"`
	User         map[string]any `json:"user"`
}

// Dashboard is the aggregated home view.
type Dashboard struct {
	Profile struct {
		Username    string `json:"username,omitempty"`
		DisplayName string `json:"display_name,omitempty"`
	} `json:"profile"`
	Stats struct {
		CurrentStreak   int `json:"current_streak"`
		LongestStreak   int `json:"longest_streak"`
		CommitmentsWon  int `json:"commitments_won"`
		CommitmentsLost int `json:"commitments_lost"`
	} `json:"stats"`
	ActiveCommitments []struct {
		Commitment
		CheckInDueToday bool `json:"check_in_due_today"`
		CompletedCount  int  `json:"completed_count"`
		ProgressPercent int  `json:"progress_percent"`
		DaysRemaining   int  `json:"days_remaining"`
	} `json:"active_commitments"`
	PendingActions struct {
		CheckInsDueToday           int `json:"check_ins_due_today"`
		RefereeVerificationsNeeded int `json:"referee_verifications_needed"`
		ChallengeInvites           int `json:"challenge_invites"`
	} `json:"pending_actions"`
}

// CreateCommitmentParams are the fields accepted by CreateCommitment.
type CreateCommitmentParams struct {
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	Category         string `json:"category,omitempty"`
	StartDate        string `json:"start_date"`
	EndDate          string `json:"end_date"`
	CheckInFrequency string `json:"check_in_frequency"`
	StakesAmount     int    `json:"stakes_amount,omitempty"`
	StakesCurrency   string `json:"stakes_currency,omitempty"`
	RefereeID        string `json:"referee_id,omitempty"`
	IsPublic         bool   `json:"is_public,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateCommitment declares a commitment.
func (c *Client) CreateCommitment(ctx context.Context, params CreateCommitmentParams) (Commitment, error) {
	var resp Commitment
	err := c.do(ctx, http.MethodPost, "v0/commitments", params, &resp)
	return resp, err
}

// Commitments lists commitments where the caller is owner or referee.
func (c *Client) Commitments(ctx context.Context) ([]Commitment, error) {
	var resp []Commitment
	err := c.do(ctx, http.MethodGet, "v0/commitments", nil, &resp)
	return resp, err
}

// Commitment fetches a single commitment.
func (c *Client) Commitment(ctx context.Context, id string) (Commitment, error) {
	var resp Commitment
	err := c.do(ctx, http.MethodGet, "v0/commitments/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// SubmitCheckIn submits a self-reported check-in for a date.
func (c *Client) SubmitCheckIn(ctx context.Context, commitmentID, date, status, note string) (CheckIn, error) {
	body := map[string]any{
		"check_in_date":        date,
		"user_reported_status": status,
	}
	if note != "" {
		body["note"] = note
	}
	var resp CheckIn
	endpoint := fmt.Sprintf("v0/commitments/%s/check-ins", url.PathEscape(commitmentID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CheckIns lists a commitment's check-ins in date order.
func (c *Client) CheckIns(ctx context.Context, commitmentID string) ([]CheckIn, error) {
	var resp []CheckIn
	endpoint := fmt.Sprintf("v0/commitments/%s/check-ins", url.PathEscape(commitmentID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// PendingCheckIns lists check-ins waiting on the caller as referee,
// oldest first.
func (c *Client) PendingCheckIns(ctx context.Context) ([]PendingCheckIn, error) {
	var resp []PendingCheckIn
	err := c.do(ctx, http.MethodGet, "v0/check-ins/pending", nil, &resp)
	return resp, err
}

// VerifyCheckIn confirms a pending check-in as reported.
func (c *Client) VerifyCheckIn(ctx context.Context, checkInID, note string) (CheckIn, error) {
	return c.resolveCheckIn(ctx, checkInID, "verify", note)
}

// DisputeCheckIn rejects a pending check-in; it is recorded as a failure.
func (c *Client) DisputeCheckIn(ctx context.Context, checkInID, note string) (CheckIn, error) {
	return c.resolveCheckIn(ctx, checkInID, "dispute", note)
}

func (c *Client) resolveCheckIn(ctx context.Context, checkInID, verb, note string) (CheckIn, error) {
	var body any
	if note != "" {
		body = map[string]any{"referee_note": note}
	}
	var resp CheckIn
	endpoint := fmt.Sprintf("v0/check-ins/%s/%s", url.PathEscape(checkInID), verb)
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AcceptReferee accepts a referee invitation, activating the commitment.
func (c *Client) AcceptReferee(ctx context.Context, commitmentID string) (Commitment, error) {
	return c.answerReferee(ctx, commitmentID, "accept")
}

// DeclineReferee declines a referee invitation, cancelling the commitment.
func (c *Client) DeclineReferee(ctx context.Context, commitmentID string) (Commitment, error) {
	return c.answerReferee(ctx, commitmentID, "decline")
}

func (c *Client) answerReferee(ctx context.Context, commitmentID, verb string) (Commitment, error) {
	var resp Commitment
	endpoint := fmt.Sprintf("v0/commitments/%s/referee/%s", url.PathEscape(commitmentID), verb)
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Dashboard returns the caller's aggregated dashboard.
func (c *Client) Dashboard(ctx context.Context) (Dashboard, error) {
	var resp Dashboard
	err := c.do(ctx, http.MethodGet, "v0/dashboard", nil, &resp)
	return resp, err
}

// Feed returns the caller's activity feed, newest first.
func (c *Client) Feed(ctx context.Context, limit int) ([]FeedItem, error) {
	return c.feed(ctx, "v0/feed", limit)
}

// PublicFeed returns public activity, newest first.
func (c *Client) PublicFeed(ctx context.Context, limit int) ([]FeedItem, error) {
	return c.feed(ctx, "v0/feed/public", limit)
}

func (c *Client) feed(ctx context.Context, endpoint string, limit int) ([]FeedItem, error) {
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []FeedItem
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
