// Package upstream talks to the remote gallery index over HTTP: the nozomi
// index files listing every gallery id, and the per-gallery galleryinfo
// payloads.
package upstream

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/sunpetal/galmirror"
)

// DefaultRoot is the production index host.
const DefaultRoot = "https://ltn.hitomi.la"

var debug = log.New(io.Discard, "", log.LstdFlags)

// Client fetches ids and galleryinfo records from the remote index. Transport
// retries (connection errors, 429, 5xx) are handled by the retryable client;
// a 404 is a domain answer, not a transport failure, and is never retried.
type Client struct {
	// Root is the base URL of the index host.
	Root *url.URL

	// Client is the underlying retrying HTTP client.
	Client *retryablehttp.Client

	indexFiles []string
}

// NewClient returns a Client for root covering the given index files.
func NewClient(root *url.URL, indexFiles []string) *Client {
	client := retryablehttp.NewClient()
	client.Logger = debug
	return &Client{
		Root:       root,
		Client:     client,
		indexFiles: append([]string(nil), indexFiles...),
	}
}

// IndexFiles returns the index files this client covers.
func (c *Client) IndexFiles() []string {
	return append([]string(nil), c.indexFiles...)
}

// AllIDs fetches every configured index file and returns the union of the ids
// they contain, in first-seen order. A nozomi file is a stream of big-endian
// 32-bit ids with no framing.
func (c *Client) AllIDs(ctx context.Context) ([]galmirror.ID, error) {
	seen := map[galmirror.ID]struct{}{}
	var ids []galmirror.ID
	for _, file := range c.indexFiles {
		fileIDs, err := c.indexIDs(ctx, file)
		if err != nil {
			return nil, fmt.Errorf("index file %s: %w", file, err)
		}
		for _, id := range fileIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (c *Client) indexIDs(ctx context.Context, file string) ([]galmirror.ID, error) {
	u := c.Root.ResolveReference(&url.URL{Path: "/" + file})
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	if len(body)%4 != 0 {
		return nil, fmt.Errorf("truncated index: %d bytes is not a multiple of 4", len(body))
	}
	ids := make([]galmirror.ID, 0, len(body)/4)
	for off := 0; off < len(body); off += 4 {
		ids = append(ids, galmirror.ID(binary.BigEndian.Uint32(body[off:])))
	}
	return ids, nil
}

// Galleryinfo fetches the record for id. The payload is a JavaScript
// assignment ("var galleryinfo = {...}"); everything up to the first "=" is
// discarded and the remainder parsed as JSON. A 404 maps to
// galmirror.ErrGalleryinfoNotFound.
//
// The returned record carries whatever id the upstream put in the payload,
// which is not always the id that was asked for. Callers that key anything by
// id must correct it themselves.
func (c *Client) Galleryinfo(ctx context.Context, id galmirror.ID) (*galmirror.Galleryinfo, error) {
	u := c.Root.ResolveReference(&url.URL{Path: fmt.Sprintf("/galleries/%d.js", id)})
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	i := bytes.IndexByte(body, '=')
	if i < 0 {
		return nil, fmt.Errorf("galleryinfo %d: no assignment in payload", id)
	}
	payload := bytes.TrimSpace(body[i+1:])
	payload = bytes.TrimSuffix(payload, []byte(";"))

	var g galmirror.Galleryinfo
	if err := json.Unmarshal(payload, &g); err != nil {
		return nil, fmt.Errorf("galleryinfo %d: decoding payload: %w", id, err)
	}
	return &g, nil
}

func (c *Client) get(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", u.Path, galmirror.ErrGalleryinfoNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &url.Error{
			Op:  "Get",
			URL: u.String(),
			Err: fmt.Errorf("%s: %s", resp.Status, string(b)),
		}
	}
	return io.ReadAll(resp.Body)
}
