package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"Tally/internal/api"
	"Tally/internal/program"
)

// maxSnapshotSize bounds a downloaded snapshot.
const maxSnapshotSize = 1 << 30

// RemoteError is a failure reported by the node.
// It unwraps to the matching program error when the node sent a code.
type RemoteError struct {
	Status  int    // Status is the HTTP status code
	Code    uint32 // Code is the program error code, zero for other failures
	Name    string // Name is the program error name
	Message string // Message is the node's error text
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Message)
	}

	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// Unwrap returns the program error for Code, if known.
func (e *RemoteError) Unwrap() error {
	if perr := program.ErrorFromCode(e.Code); perr != nil {
		return perr
	}

	return nil
}

// submitTx sends instruction bytes via POST /tx.
func (c *Client) submitTx(txBytes []byte) (*api.TxResponse, error) {
	resp, err := c.http.Post(c.baseURL+"/tx", "application/octet-stream", bytes.NewReader(txBytes))
	if err != nil {
		return nil, fmt.Errorf("post tx:\n%w", err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeRemoteError(resp)
	}

	var result api.TxResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode tx response:\n%w", err)
	}

	return &result, nil
}

// get performs a GET request and decodes the JSON response.
func (c *Client) get(path string, result any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("GET %s:\n%w", path, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decodeRemoteError(resp)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// getRaw performs a GET request and returns the body bytes.
func (c *Client) getRaw(path string) ([]byte, error) {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("GET %s:\n%w", path, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeRemoteError(resp)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxSnapshotSize))
}

// decodeRemoteError reads an api.ErrorView from a failed response.
func decodeRemoteError(resp *http.Response) error {
	var body api.ErrorView
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return &RemoteError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	return &RemoteError{
		Status:  resp.StatusCode,
		Code:    body.Code,
		Name:    body.Name,
		Message: body.Error,
	}
}
