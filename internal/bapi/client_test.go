package bapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	bili "github.com/alanbriolat/bili-archiver"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, cookie string) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg := bili.DefaultConfig()
	cfg.APIBaseURL = server.URL
	return New(cfg, cookie, zap.NewNop())
}

func TestClient_Nav_NotLoggedIn(t *testing.T) {
	assert := assert_.New(t)
	var gotCookie, gotReferer string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotReferer = r.Header.Get("Referer")
		assert.Equal(EndpointNav, r.URL.Path)
		_, _ = w.Write([]byte(`{"code":-101,"message":"账号未登录","data":{"isLogin":false,"wbi_img":{"img_url":"https://i0.hdslb.com/bfs/wbi/a.png","sub_url":"https://i0.hdslb.com/bfs/wbi/b.png"}}}`))
	}, "SESSDATA=abc")

	img, sub, err := client.KeyURLs(context.Background())
	require.NoError(t, err)
	assert.Equal("https://i0.hdslb.com/bfs/wbi/a.png", img)
	assert.Equal("https://i0.hdslb.com/bfs/wbi/b.png", sub)
	assert.Equal("SESSDATA=abc", gotCookie)
	assert.Equal(bili.DefaultReferer, gotReferer)
}

func TestClient_View(t *testing.T) {
	assert := assert_.New(t)
	var query url.Values
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		_, _ = w.Write([]byte(`{"code":0,"message":"0","data":{"bvid":"BV1xx","aid":1,"title":"T","cid":555,"duration":30}}`))
	}, "")

	view, err := client.View(context.Background(), "BV1xx")
	require.NoError(t, err)
	assert.Equal("BV1xx", query.Get("bvid"))
	assert.Equal("T", view.Title)
	assert.Equal(int64(555), view.CID)

	_, err = client.View(context.Background(), "av170001")
	require.NoError(t, err)
	assert.Equal("170001", query.Get("aid"))
	assert.Empty(query.Get("bvid"))
}

func TestClient_APIError(t *testing.T) {
	assert := assert_.New(t)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":-404,"message":"啥都木有"}`))
	}, "")

	_, err := client.View(context.Background(), "BV1xx")
	apiErr, ok := bili.IsAPIError(err)
	require.True(t, ok, "expected APIError, got %v", err)
	assert.Equal(-404, apiErr.Code)
	assert.Equal("啥都木有", apiErr.Message)

	// -101 is only acceptable from the nav endpoint
	client = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":-101,"message":"not logged in"}`))
	}, "")
	_, err = client.PlayURL(context.Background(), url.Values{})
	apiErr, ok = bili.IsAPIError(err)
	require.True(t, ok)
	assert.Equal(CodeNotLoggedIn, apiErr.Code)
}

func TestClient_HTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	}, "")

	_, err := client.View(context.Background(), "BV1xx")
	apiErr, ok := bili.IsAPIError(err)
	require.True(t, ok)
	assert_.Equal(t, -http.StatusPreconditionFailed, apiErr.Code)
}

func TestClient_Malformed(t *testing.T) {
	assert := assert_.New(t)
	for _, body := range []string{`<html>`, `{"code":0,"data":{"cid":"not a number"}}`} {
		body := body
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}, "")
		_, err := client.View(context.Background(), "BV1xx")
		assert.ErrorIs(err, bili.ErrResponseParseFailed, body)
	}
}

func TestClient_PlayURL(t *testing.T) {
	assert := assert_.New(t)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(EndpointPlayURL, r.URL.Path)
		assert.Equal("abc", r.URL.Query().Get("w_rid"))
		_, _ = w.Write([]byte(`{"code":0,"data":{"quality":116,"dash":{
			"video":[{"id":116,"codecid":7,"codecs":"avc1","baseUrl":"https://cdn/v1","backupUrl":["https://cdn2/v1"]}],
			"audio":[{"id":30280,"baseUrl":"https://cdn/a1"}],
			"flac":{"audio":{"id":30251,"baseUrl":"https://cdn/flac"}},
			"dolby":null}}}`))
	}, "")

	data, err := client.PlayURL(context.Background(), url.Values{"w_rid": {"abc"}})
	require.NoError(t, err)
	require.NotNil(t, data.Dash)
	assert.Len(data.Dash.Video, 1)
	assert.Equal([]string{"https://cdn2/v1"}, data.Dash.Video[0].BackupURL)
	assert.Equal("https://cdn/a1", data.Dash.Audio[0].BaseURL)
	require.NotNil(t, data.Dash.Flac)
	assert.Equal(30251, data.Dash.Flac.Audio.ID)
	assert.Nil(data.Dash.Dolby)
}
