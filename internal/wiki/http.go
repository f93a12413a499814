package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"wikirag/internal/domain"
)

// spaceListResp mirrors the upstream space-listing envelope.
type spaceListResp struct {
	Results []struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"results"`
	Links struct {
		Next string `json:"next"`
	} `json:"_links"`
}

// pageListResp mirrors the upstream content-listing envelope.
type pageListResp struct {
	Results []rawPageJSON `json:"results"`
	Links   struct {
		Next string `json:"next"`
	} `json:"_links"`
}

type rawPageJSON struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Space struct {
		Key string `json:"key"`
	} `json:"space"`
	Body struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Version struct {
		Number int64 `json:"number"`
	} `json:"version"`
	History struct {
		LastUpdated struct {
			When time.Time `json:"when"`
		} `json:"lastUpdated"`
	} `json:"history"`
	Links struct {
		WebUI string `json:"webui"`
	} `json:"_links"`
}

func (p rawPageJSON) toRaw(baseURL string) RawPage {
	return RawPage{
		PageID:    p.ID,
		SpaceKey:  p.Space.Key,
		Title:     p.Title,
		URL:       baseURL + p.Links.WebUI,
		BodyHTML:  p.Body.Storage.Value,
		Version:   p.Version.Number,
		UpdatedAt: p.History.LastUpdated.When,
	}
}

// fetchSpacesPage fetches a single page of the space listing, retrying
// transient failures internally.
func (c *HTTPClient) fetchSpacesPage(ctx context.Context, cursor string) ([]domain.Space, string, error) {
	var out spaceListResp
	path := "/rest/api/space?limit=" + strconv.Itoa(pageSizeMax) + "&status=current"
	if cursor != "" {
		path = cursor
	}
	err := c.doWithRetry(ctx, func(cctx context.Context) error {
		return c.getJSON(cctx, path, &out)
	})
	if err != nil {
		return nil, "", err
	}
	spaces := make([]domain.Space, 0, len(out.Results))
	for _, r := range out.Results {
		spaces = append(spaces, domain.Space{Key: r.Key, Name: r.Name})
	}
	return spaces, out.Links.Next, nil
}

// fetchPagesPrimary lists pages in a space via the primary content endpoint.
func (c *HTTPClient) fetchPagesPrimary(ctx context.Context, spaceKey string, since *time.Time, cursor string) ([]RawPage, string, error) {
	var out pageListResp
	path := cursor
	if path == "" {
		q := url.Values{}
		q.Set("spaceKey", spaceKey)
		q.Set("type", "page")
		q.Set("expand", "body.storage,version,history.lastUpdated,space")
		q.Set("limit", strconv.Itoa(pageSizeMax))
		path = "/rest/api/content?" + q.Encode()
	}
	err := c.doWithRetry(ctx, func(cctx context.Context) error {
		return c.getJSON(cctx, path, &out)
	})
	if err != nil {
		return nil, "", err
	}
	return c.filterAndConvert(out, since), out.Links.Next, nil
}

// fetchPagesCQL is the query-language fallback: `space = "K" AND type = "page"`,
// optionally `AND lastModified >= since`.
func (c *HTTPClient) fetchPagesCQL(ctx context.Context, spaceKey string, since *time.Time, cursor string) ([]RawPage, string, error) {
	var out pageListResp
	path := cursor
	if path == "" {
		cql := `type = "page"`
		if spaceKey != "" {
			cql = fmt.Sprintf(`space = "%s" AND type = "page"`, spaceKey)
		}
		if since != nil {
			cql += fmt.Sprintf(` AND lastModified >= "%s"`, since.Format("2006-01-02 15:04"))
		}
		q := url.Values{}
		q.Set("cql", cql)
		q.Set("expand", "body.storage,version,history.lastUpdated,space")
		q.Set("limit", strconv.Itoa(pageSizeMax))
		path = "/rest/api/content/search?" + q.Encode()
	}
	err := c.doWithRetry(ctx, func(cctx context.Context) error {
		return c.getJSON(cctx, path, &out)
	})
	if err != nil {
		return nil, "", err
	}
	return c.filterAndConvert(out, since), out.Links.Next, nil
}

func (c *HTTPClient) filterAndConvert(out pageListResp, since *time.Time) []RawPage {
	pages := make([]RawPage, 0, len(out.Results))
	for _, r := range out.Results {
		raw := r.toRaw(c.cfg.BaseURL)
		if since != nil && raw.UpdatedAt.Before(*since) {
			continue
		}
		pages = append(pages, raw)
	}
	return pages
}

func (c *HTTPClient) fetchPage(ctx context.Context, pageID string) (RawPage, error) {
	var out rawPageJSON
	path := fmt.Sprintf("/rest/api/content/%s?expand=body.storage,version,history.lastUpdated,space", url.PathEscape(pageID))
	err := c.getJSON(ctx, path, &out)
	if err != nil {
		return RawPage{}, err
	}
	return out.toRaw(c.cfg.BaseURL), nil
}

// getJSON issues a single GET request and decodes the JSON body,
// classifying the response into a retryableError where appropriate.
func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	full := path
	if len(path) == 0 || path[0] == '/' {
		full = c.cfg.BaseURL + path
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.cfg.Email, c.cfg.APIToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &retryableError{cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := 2 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := strconv.Atoi(ra); perr == nil {
				wait = time.Duration(secs) * time.Second
			}
		}
		io.Copy(io.Discard, resp.Body)
		return &retryableError{cause: fmt.Errorf("wiki: rate limited"), retryAfter: wait}
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrPageNotFound
	}
	if resp.StatusCode/100 == 5 {
		body, _ := io.ReadAll(resp.Body)
		return &retryableError{cause: fmt.Errorf("wiki: server error %s: %s", resp.Status, string(body))}
	}
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("wiki: request failed %s: %s", resp.Status, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
