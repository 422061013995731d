package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// APIClient talks to a running voltmined over its HTTP API.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string) *APIClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:9090"
	}
	return &APIClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *APIClient) get(path string, out any) error {
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *APIClient) post(path string) error {
	resp, err := c.client.Post(c.baseURL+path, "application/json", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
		return fmt.Errorf("API error: status %d", resp.StatusCode)
	}
	return fmt.Errorf("API error: %s", e.Error)
}

// Status fetches all slot views, or one when name is set.
func (c *APIClient) Status(name string) (any, error) {
	path := "/status"
	if name != "" {
		path += "?name=" + url.QueryEscape(name)
	}
	var out any
	if err := c.get(path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Prices fetches the cached price per zone.
func (c *APIClient) Prices() (any, error) {
	var out any
	if err := c.get("/prices", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Pools fetches the built-in pool catalogue.
func (c *APIClient) Pools() (any, error) {
	var out any
	if err := c.get("/pools", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Start puts a slot in manual-on mode.
func (c *APIClient) Start(name string) error {
	return c.post("/start?name=" + url.QueryEscape(name))
}

// Stop puts a slot in manual-off mode.
func (c *APIClient) Stop(name string) error {
	return c.post("/stop?name=" + url.QueryEscape(name))
}

// SetMode changes a slot's mode.
func (c *APIClient) SetMode(name, mode string) error {
	return c.post("/mode?name=" + url.QueryEscape(name) + "&mode=" + url.QueryEscape(mode))
}
