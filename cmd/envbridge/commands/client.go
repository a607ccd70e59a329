package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var httpClient = &http.Client{Timeout: 5 * time.Second}

// apiURL returns the status API URL of the running daemon for path
func apiURL(path string) (string, error) {
	configMgr, err := loadConfig()
	if err != nil {
		return "", err
	}
	cfg := configMgr.Get()
	if !cfg.API.Enabled {
		return "", fmt.Errorf("status API is disabled (enable with: envbridge config set api.enabled true)")
	}
	return fmt.Sprintf("http://127.0.0.1:%d%s", cfg.API.Port, path), nil
}

// apiRequest performs a request against the daemon and returns the body of a 2xx response
func apiRequest(method, path string, query url.Values, body interface{}) ([]byte, error) {
	target, err := apiURL(path)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach envbridge (is 'envbridge serve' running?): %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(data)))
	}
	return data, nil
}
