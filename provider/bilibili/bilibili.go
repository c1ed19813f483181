package bilibili

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	bili "github.com/alanbriolat/bili-archiver"
	"github.com/alanbriolat/bili-archiver/generic"
)

const Name = "bilibili"

var (
	bvidPattern = regexp.MustCompile(`^BV[0-9A-Za-z]{10}$`)
	aidPattern  = regexp.MustCompile(`^(?i:av)([0-9]+)$`)
	hosts       = generic.NewSet("www.bilibili.com", "bilibili.com", "m.bilibili.com")
	protocols   = generic.NewSet("http", "https")
)

// Match accepts a bare identifier or a video page URL.
//
// Allowed formats:
//
//	BV1xx411c7mD
//	av170001
//	http(s?)://(www.|m.)?bilibili.com/video/{ID}[/][?...]
func Match(s string) (bili.VideoID, error) {
	s = strings.TrimSpace(s)
	if id, ok := matchID(s); ok {
		return id, nil
	}
	parsedURL, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	return extractVideoID(parsedURL)
}

func matchID(s string) (bili.VideoID, bool) {
	if bvidPattern.MatchString(s) {
		return bili.VideoID(s), true
	}
	if m := aidPattern.FindStringSubmatch(s); m != nil {
		return bili.VideoID("av" + m[1]), true
	}
	return "", false
}

func extractVideoID(u *url.URL) (bili.VideoID, error) {
	if !protocols.Contains(u.Scheme) {
		return "", fmt.Errorf("unknown URL scheme %q", u.Scheme)
	}
	if !hosts.Contains(strings.ToLower(u.Hostname())) {
		return "", fmt.Errorf("unrecognised hostname %q", u.Hostname())
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "video" {
		return "", fmt.Errorf("not a video page: %s", u.Path)
	}
	if id, ok := matchID(parts[1]); ok {
		return id, nil
	}
	return "", fmt.Errorf("could not extract video ID from %s", u.Path)
}

func New() bili.Provider {
	return bili.Provider{Name: Name, Match: Match}
}

func init() {
	bili.DefaultProviderRegistry.MustAdd(New())
}
