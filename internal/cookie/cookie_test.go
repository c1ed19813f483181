package cookie

import (
	"strings"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeader(t *testing.T) {
	assert := assert_.New(t)
	entries := []Entry{
		{Host: ".bilibili.com", Name: "SESSDATA", Value: "abc"},
		{Host: "example.com", Name: "other", Value: "x"},
		{Host: "api.bilibili.com", Name: "bili_jct", Value: "def"},
		{Host: "notbilibili.com", Name: "evil", Value: "y"},
		{Host: "bilibili.com", Name: "DedeUserID", Value: "42"},
	}
	assert.Equal("SESSDATA=abc; bili_jct=def; DedeUserID=42", Header(entries, "bilibili.com"))
	assert.Equal("SESSDATA=abc; bili_jct=def; DedeUserID=42", Header(entries, ".bilibili.com"))
	assert.Equal("other=x", Header(entries, "example.com"))
}

func TestHeader_Empty(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal("", Header(nil, "bilibili.com"))
	assert.Equal("", Header([]Entry{{Host: "example.com", Name: "a", Value: "b"}}, "bilibili.com"))
	assert.Equal("", Header([]Entry{{Host: "bilibili.com", Name: "a", Value: "b"}}, ""))
}

func TestParseNetscape(t *testing.T) {
	assert := assert_.New(t)
	input := strings.Join([]string{
		"# Netscape HTTP Cookie File",
		"",
		".bilibili.com\tTRUE\t/\tFALSE\t1735689600\tbuvid3\tXYZ",
		"#HttpOnly_.bilibili.com\tTRUE\t/\tTRUE\t1735689600\tSESSDATA\tabc%2C123",
		"www.example.com\tFALSE\t/\tFALSE\t0\tother\t1",
	}, "\n")
	entries, err := ParseNetscape(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal([]Entry{
		{Host: ".bilibili.com", Name: "buvid3", Value: "XYZ"},
		{Host: ".bilibili.com", Name: "SESSDATA", Value: "abc%2C123"},
		{Host: "www.example.com", Name: "other", Value: "1"},
	}, entries)
	assert.Equal("buvid3=XYZ; SESSDATA=abc%2C123", Header(entries, "bilibili.com"))
}

func TestParseNetscape_Malformed(t *testing.T) {
	_, err := ParseNetscape(strings.NewReader(".bilibili.com\tTRUE\t/\n"))
	assert_.ErrorContains(t, err, "line 1")
}
