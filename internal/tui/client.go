package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fentz26/nightshift/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 5 * time.Second

// Client wraps HTTP calls to the nightshift admin API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new admin API client with timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

func (c *Client) get(path string, out any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s", string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s", string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Status fetches the state machine snapshot.
func (c *Client) Status() (models.Snapshot, error) {
	var snap models.Snapshot
	err := c.get("/status", &snap)
	return snap, err
}

// Active fetches the guarantor's live tracking records.
func (c *Client) Active() ([]models.ActiveTransition, error) {
	var out []models.ActiveTransition
	err := c.get("/active", &out)
	return out, err
}

// Transitions fetches the machine's transition record ring.
func (c *Client) Transitions() ([]models.TransitionRecord, error) {
	var out []models.TransitionRecord
	err := c.get("/transitions", &out)
	return out, err
}

// Repairs fetches the resolver's repair log.
func (c *Client) Repairs() ([]models.RepairOperation, error) {
	var out []models.RepairOperation
	err := c.get("/repairs", &out)
	return out, err
}

// StatsView mirrors the watchdog stats payload.
type StatsView struct {
	Active          int           `json:"active"`
	Completed       int           `json:"completed"`
	Recovered       int           `json:"recovered"`
	Failed          int           `json:"failed"`
	DirectOverrides int           `json:"direct_overrides"`
	AvgCompletion   time.Duration `json:"avg_completion"`
}

// Stats fetches aggregate watchdog statistics.
func (c *Client) Stats() (StatsView, error) {
	var out StatsView
	err := c.get("/stats", &out)
	return out, err
}

// ForceRepairAll triggers the unconditional repair path for every tracked
// transition.
func (c *Client) ForceRepairAll() (int, error) {
	var out map[string]int
	if err := c.post("/repair/all", nil, &out); err != nil {
		return 0, err
	}
	return out["repaired"], nil
}

// CheckStuck runs the machine's stuck-transition self-heal pass.
func (c *Client) CheckStuck() (int, error) {
	var out map[string]int
	if err := c.post("/checks/stuck", nil, &out); err != nil {
		return 0, err
	}
	return out["repaired"], nil
}
