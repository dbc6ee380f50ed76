package posts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var _ Source = (*Client)(nil)

// Client talks to the blog API over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// FetchAll requests a single page of size limit. A random nonce is appended
// so intermediaries never serve a stale collection.
func (c *Client) FetchAll(ctx context.Context, limit int) (*PostsData, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("_", uuid.NewString())

	var data PostsData
	if err := c.get(ctx, c.baseURL+"/posts?"+q.Encode(), &data); err != nil {
		return nil, err
	}
	if data.Posts == nil {
		data.Posts = []Post{}
	}
	return &data, nil
}

func (c *Client) FetchBySlug(ctx context.Context, slug string) (*Post, error) {
	var resp PostResponse
	err := c.get(ctx, c.baseURL+"/posts/"+url.PathEscape(slug), &resp)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if resp.Post == nil {
		return nil, ErrNotFound
	}
	return resp.Post, nil
}

func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &StatusError{Code: res.StatusCode}
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
