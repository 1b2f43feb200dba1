package ipfs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client talks to a content-addressed store through an HTTP gateway for reads
// and a node API for writes. Content is looked up by CID, never by path.
type Client struct {
	gatewayURL string
	apiURL     string
	client     *http.Client
}

func NewClient(gatewayURL, apiURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		apiURL:     strings.TrimRight(apiURL, "/"),
		client:     &http.Client{Timeout: timeout},
	}
}

func NewClientFromEnv() *Client {
	gatewayURL := os.Getenv("IPFS_GATEWAY_URL")
	if gatewayURL == "" {
		gatewayURL = "https://gateway.pinata.cloud"
	}
	apiURL := os.Getenv("IPFS_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:5001"
	}
	timeout := 10 * time.Second
	if raw := os.Getenv("IPFS_HTTP_TIMEOUT_SEC"); raw != "" {
		if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && v > 0 {
			timeout = time.Duration(v) * time.Second
		}
	}
	return NewClient(gatewayURL, apiURL, timeout)
}

// Cat fetches the raw bytes behind a CID from the gateway. The client timeout
// bounds the whole request; there is no retry here.
func (c *Client) Cat(ctx context.Context, cid string) ([]byte, error) {
	if strings.TrimSpace(cid) == "" {
		return nil, fmt.Errorf("ipfs cat missing cid")
	}
	reqURL := fmt.Sprintf("%s/ipfs/%s", c.gatewayURL, url.PathEscape(cid))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if len(body) == 0 {
			return nil, fmt.Errorf("ipfs cat failed: %s", resp.Status)
		}
		return nil, fmt.Errorf("ipfs cat failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return io.ReadAll(resp.Body)
}

// AddBytes pins data under name and returns the resulting CID.
func (c *Client) AddBytes(ctx context.Context, name string, data []byte) (string, error) {
	return c.addStream(ctx, name, bytes.NewReader(data))
}

func (c *Client) addStream(ctx context.Context, name string, reader io.Reader) (string, error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		defer pw.Close()
		part, err := writer.CreateFormFile("file", name)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, reader); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = writer.Close()
	}()

	reqURL := fmt.Sprintf("%s/api/v0/add?pin=true&cid-version=1", c.apiURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if len(body) == 0 {
			return "", fmt.Errorf("ipfs add failed: %s", resp.Status)
		}
		return "", fmt.Errorf("ipfs add failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var lastHash string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var entry struct {
			Hash string `json:"Hash"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err == nil && entry.Hash != "" {
			lastHash = entry.Hash
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if lastHash == "" {
		return "", fmt.Errorf("ipfs add returned empty hash")
	}
	return lastHash, nil
}
