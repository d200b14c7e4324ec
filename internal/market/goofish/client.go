// Package goofish implements the market.Adapter for the Goofish second-hand
// marketplace (mtop h5 API).
package goofish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fleamkt/watchdog/internal/market"
	"github.com/fleamkt/watchdog/internal/session"
)

const (
	SiteName = "goofish"
	apiName  = "mtop.taobao.idlemtopsearch.pc.search"
)

// Options configure the adapter.
type Options struct {
	BaseURL    string
	SearchPath string
	AppKey     string
	UserAgent  string
	Delay      time.Duration // pacing hint between requests
	MaxRows    int           // site-side page size cap
}

// Client is the Goofish adapter. It signs and sends search requests and
// classifies failures; it never refreshes the session token itself.
type Client struct {
	opts Options
	http *http.Client
	now  func() time.Time
}

func New(opts Options, httpClient *http.Client) *Client {
	if opts.MaxRows <= 0 {
		opts.MaxRows = 50
	}
	return &Client{opts: opts, http: httpClient, now: time.Now}
}

func (c *Client) Site() string { return SiteName }

func (c *Client) RequestDelay() time.Duration { return c.opts.Delay }

// searchRequest is the mtop search body.
type searchRequest struct {
	PageNumber     int    `json:"pageNumber"`
	Keyword        string `json:"keyword"`
	RowsPerPage    int    `json:"rowsPerPage"`
	SortValue      string `json:"sortValue"`
	SortField      string `json:"sortField"`
	FromFilter     bool   `json:"fromFilter"`
	CustomDistance string `json:"customDistance"`
	GPS            string `json:"gps"`
}

// Search fetches one result page. A well-formed page with zero items
// surfaces as a KindEmptyPage error so the loop can stop paginating.
func (c *Client) Search(ctx context.Context, query string, page, rows int, tok session.Token) ([]market.Item, error) {
	if query == "" {
		return nil, market.NewSearchError(market.KindOther, 0, "empty query", nil)
	}
	if rows > c.opts.MaxRows {
		rows = c.opts.MaxRows
	}

	body, err := json.Marshal(searchRequest{
		PageNumber:  page,
		Keyword:     query,
		RowsPerPage: rows,
		SortValue:   "desc",
		SortField:   "create",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	ts := c.now().UnixMilli()
	q := url.Values{
		"jsv":      {"2.7.2"},
		"appKey":   {c.opts.AppKey},
		"t":        {fmt.Sprintf("%d", ts)},
		"sign":     {Sign(tok.Seed, ts, c.opts.AppKey, string(body))},
		"v":        {"1.0"},
		"type":     {"originaljson"},
		"api":      {apiName},
		"dataType": {"json"},
	}

	form := url.Values{"data": {string(body)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.opts.BaseURL+c.opts.SearchPath+"?"+q.Encode(),
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Referer", "https://www.goofish.com/")
	req.Header.Set("Origin", "https://www.goofish.com")
	if cookies := tok.CookieHeader(); cookies != "" {
		req.Header.Set("Cookie", cookies)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, market.NewSearchError(market.KindTransient, 0, "http request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, market.NewSearchError(market.KindTransient, resp.StatusCode, "read body", err)
	}

	if kind := classifyStatus(resp.StatusCode); kind != market.KindOther {
		return nil, market.NewSearchError(kind, resp.StatusCode, http.StatusText(resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, market.NewSearchError(market.KindTransient, resp.StatusCode, "unexpected status", nil)
	}

	return c.parseResponse(raw, query)
}

// mtopEnvelope is the outer mtop response.
type mtopEnvelope struct {
	Ret  []string        `json:"ret"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) parseResponse(raw []byte, query string) ([]market.Item, error) {
	var env mtopEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, market.NewSearchError(market.KindTransient, 0, "malformed response", err)
	}

	ret := ""
	if len(env.Ret) > 0 {
		ret = env.Ret[0]
	}
	if !strings.HasPrefix(ret, "SUCCESS") {
		kind := classifyRet(ret, raw)
		return nil, market.NewSearchError(kind, 0, ret, nil)
	}

	items, err := parseItems(env.Data, query, c.now())
	if err != nil {
		return nil, market.NewSearchError(market.KindTransient, 0, "parse items", err)
	}
	if len(items) == 0 {
		return nil, market.NewSearchError(market.KindEmptyPage, 0, "no items", nil)
	}
	return items, nil
}
