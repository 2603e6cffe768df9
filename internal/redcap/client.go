package redcap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client talks to a RedCap instance through its REST API.
type Client struct {
	apiURL string
	token  string
	http   *http.Client
	log    zerolog.Logger
}

func NewClient(apiURL, token string, log zerolog.Logger) *Client {
	return &Client{
		apiURL: apiURL,
		token:  token,
		http:   &http.Client{Timeout: 5 * time.Minute},
		log:    log,
	}
}

// ImportRecords pushes one CSV batch of records. With overwrite set, blank
// cells erase existing values instead of being ignored. The response is the
// API's count payload.
func (c *Client) ImportRecords(ctx context.Context, csvData string, overwrite bool) (string, error) {
	behavior := "normal"
	if overwrite {
		behavior = "overwrite"
	}
	form := url.Values{
		"token":             {c.token},
		"content":           {"record"},
		"format":            {"csv"},
		"type":              {"flat"},
		"overwriteBehavior": {behavior},
		"forceAutoNumber":   {"false"},
		"data":              {csvData},
		"dateFormat":        {"DMY"},
		"returnContent":     {"count"},
		"returnFormat":      {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build import request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("import records: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read import response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("import records: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	c.log.Info().Str("response", strings.TrimSpace(string(body))).Msg("records imported")
	return string(body), nil
}
