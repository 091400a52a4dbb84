package ncbi

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/humangenomedb/hgd/internal/fetcher"
	"github.com/humangenomedb/hgd/pkg/clients"
	"github.com/humangenomedb/hgd/pkg/config"
	"github.com/humangenomedb/hgd/pkg/hgderrors"
)

// EntrezClient speaks the esearch/esummary half of the E-utilities with the
// history server enabled.
type EntrezClient struct {
	http    *clients.HTTPClient
	baseURL string
	email   string
	apiKey  string
	tool    string
}

var _ fetcher.Client = (*EntrezClient)(nil)

// NewEntrezClient creates an E-utilities client.
func NewEntrezClient(cfg config.NCBIConfig, http *clients.HTTPClient) *EntrezClient {
	return &EntrezClient{
		http:    http,
		baseURL: strings.TrimRight(cfg.EutilsURL, "/"),
		email:   cfg.Email,
		apiKey:  cfg.APIKey,
		tool:    cfg.Tool,
	}
}

type esearchResponse struct {
	Error  string `json:"error"`
	Result struct {
		Count    string `json:"count"`
		QueryKey string `json:"querykey"`
		WebEnv   string `json:"webenv"`
		Error    string `json:"ERROR"`
	} `json:"esearchresult"`
}

type esummaryResponse struct {
	Error  string                     `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

// Search submits term to esearch and returns the history handle.
func (c *EntrezClient) Search(ctx context.Context, db, term string) (fetcher.Handle, error) {
	q := c.params(db)
	q.Set("term", term)
	q.Set("usehistory", "y")
	q.Set("retmax", "0")

	var resp esearchResponse
	if err := c.get(ctx, "esearch.fcgi", q, &resp); err != nil {
		return fetcher.Handle{}, err
	}
	if msg := firstNonEmpty(resp.Error, resp.Result.Error); msg != "" {
		return fetcher.Handle{}, hgderrors.Newf(hgderrors.ErrorTypeRemote, "esearch failed: %s", msg).
			WithDetail("db", db)
	}

	count, err := strconv.Atoi(resp.Result.Count)
	if err != nil {
		return fetcher.Handle{}, hgderrors.Wrap(err, hgderrors.ErrorTypeRemote, "esearch returned an invalid count").
			WithDetail("count", resp.Result.Count)
	}
	if resp.Result.WebEnv == "" || resp.Result.QueryKey == "" {
		return fetcher.Handle{}, hgderrors.New(hgderrors.ErrorTypeRemote, "esearch returned no history handle").
			WithDetail("db", db)
	}

	return fetcher.Handle{
		DB:       db,
		WebEnv:   resp.Result.WebEnv,
		QueryKey: resp.Result.QueryKey,
		Count:    count,
	}, nil
}

// Summary fetches one page of document summaries from the history server.
func (c *EntrezClient) Summary(ctx context.Context, h fetcher.Handle, retstart, retmax int) ([]fetcher.Document, error) {
	q := c.params(h.DB)
	q.Set("WebEnv", h.WebEnv)
	q.Set("query_key", h.QueryKey)
	q.Set("retstart", strconv.Itoa(retstart))
	q.Set("retmax", strconv.Itoa(retmax))

	var resp esummaryResponse
	if err := c.get(ctx, "esummary.fcgi", q, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, hgderrors.Newf(hgderrors.ErrorTypeRemote, "esummary failed: %s", resp.Error).
			WithDetail("db", h.DB).
			WithDetail("retstart", retstart)
	}
	return decodeSummaries(resp.Result)
}

// decodeSummaries returns the documents listed in "uids", in that order.
func decodeSummaries(result map[string]json.RawMessage) ([]fetcher.Document, error) {
	if len(result) == 0 {
		return nil, nil
	}
	var uids []string
	if err := json.Unmarshal(result["uids"], &uids); err != nil {
		return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeRemote, "esummary returned malformed uids")
	}

	docs := make([]fetcher.Document, 0, len(uids))
	for _, uid := range uids {
		raw, ok := result[uid]
		if !ok {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeRemote, "esummary returned a malformed document").
				WithDetail("uid", uid)
		}
		delete(fields, "uid")
		docs = append(docs, fetcher.Document{UID: uid, Fields: fields})
	}
	return docs, nil
}

func (c *EntrezClient) params(db string) url.Values {
	q := url.Values{}
	q.Set("db", db)
	q.Set("retmode", "json")
	if c.tool != "" {
		q.Set("tool", c.tool)
	}
	if c.email != "" {
		q.Set("email", c.email)
	}
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}
	return q
}

func (c *EntrezClient) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	body, err := c.http.GetBytes(ctx, c.baseURL+"/"+endpoint, q)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return hgderrors.Wrap(err, hgderrors.ErrorTypeRemote, "malformed E-utilities response").
			WithDetail("endpoint", endpoint)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
