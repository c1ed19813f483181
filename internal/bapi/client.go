// Package bapi is a thin client for the three platform endpoints the resolver needs. Every response is the platform
// envelope {code, message, data}; a non-zero code becomes a *bili_archiver.APIError and an undecodable body wraps
// bili_archiver.ErrResponseParseFailed.
package bapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	bili "github.com/alanbriolat/bili-archiver"
)

const (
	EndpointNav     = "/x/web-interface/nav"
	EndpointView    = "/x/web-interface/view"
	EndpointPlayURL = "/x/player/wbi/playurl"

	// Returned by the nav endpoint for anonymous requests; the key URLs are still present.
	CodeNotLoggedIn = -101
)

type Client struct {
	client *resty.Client
	log    *zap.Logger
}

// New creates a client for cfg.APIBaseURL. cookieHeader may be empty, in which case requests are anonymous.
func New(cfg bili.Config, cookieHeader string, log *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(cfg.APIBaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Referer", cfg.Referer)
	if cookieHeader != "" {
		client.SetHeader("Cookie", cookieHeader)
	}
	return &Client{
		client: client,
		log:    log,
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type NavData struct {
	IsLogin bool `json:"isLogin"`
	WbiImg  struct {
		ImgURL string `json:"img_url"`
		SubURL string `json:"sub_url"`
	} `json:"wbi_img"`
}

// Nav fetches the account/session endpoint, which publishes the signing key URLs.
func (c *Client) Nav(ctx context.Context) (*NavData, error) {
	var data NavData
	if err := c.get(ctx, EndpointNav, nil, &data, CodeNotLoggedIn); err != nil {
		return nil, err
	}
	return &data, nil
}

// KeyURLs makes the Client usable as a wbi.KeySource.
func (c *Client) KeyURLs(ctx context.Context) (string, string, error) {
	nav, err := c.Nav(ctx)
	if err != nil {
		return "", "", err
	}
	return nav.WbiImg.ImgURL, nav.WbiImg.SubURL, nil
}

type ViewData struct {
	BVID     string `json:"bvid"`
	AID      int64  `json:"aid"`
	Title    string `json:"title"`
	CID      int64  `json:"cid"`
	Duration int64  `json:"duration"`
}

// View looks up a video by its identifier; "av"-prefixed ids are sent as aid, anything else as bvid.
func (c *Client) View(ctx context.Context, id bili.VideoID) (*ViewData, error) {
	query := url.Values{}
	if aid, ok := parseAID(string(id)); ok {
		query.Set("aid", aid)
	} else {
		query.Set("bvid", string(id))
	}
	var data ViewData
	if err := c.get(ctx, EndpointView, query, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

type DashStream struct {
	ID        int      `json:"id"`
	CodecID   int      `json:"codecid"`
	Codecs    string   `json:"codecs"`
	Bandwidth int64    `json:"bandwidth"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`
	BaseURL   string   `json:"baseUrl"`
	BackupURL []string `json:"backupUrl"`
}

type PlayURLData struct {
	Quality int `json:"quality"`
	Dash    *struct {
		Video []DashStream `json:"video"`
		Audio []DashStream `json:"audio"`
		Dolby *struct {
			Audio []DashStream `json:"audio"`
		} `json:"dolby"`
		Flac *struct {
			Audio *DashStream `json:"audio"`
		} `json:"flac"`
	} `json:"dash"`
}

// PlayURL fetches playable stream metadata. query must already be signed.
func (c *Client) PlayURL(ctx context.Context, query url.Values) (*PlayURLData, error) {
	var data PlayURLData
	if err := c.get(ctx, EndpointPlayURL, query, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, data interface{}, acceptCodes ...int) error {
	c.log.Debug("api request", zap.String("endpoint", endpoint))
	req := c.client.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	resp, err := req.Get(endpoint)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", endpoint, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s: %w", endpoint, &bili.APIError{Code: -resp.StatusCode(), Message: resp.Status()})
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("%s: %w: %v", endpoint, bili.ErrResponseParseFailed, err)
	}
	if env.Code != 0 && !containsCode(acceptCodes, env.Code) {
		return fmt.Errorf("%s: %w", endpoint, &bili.APIError{Code: env.Code, Message: env.Message})
	}
	if data == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, data); err != nil {
		return fmt.Errorf("%s: %w: %v", endpoint, bili.ErrResponseParseFailed, err)
	}
	return nil
}

func containsCode(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

func parseAID(id string) (string, bool) {
	if len(id) < 3 || (id[:2] != "av" && id[:2] != "AV") {
		return "", false
	}
	for _, r := range id[2:] {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return id[2:], true
}
