package util

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

var (
	ErrNoFilename = errors.New("cannot extract valid filename")
)

func FilenameFromURL(url *url.URL) (string, error) {
	if url == nil {
		return "", ErrNoFilename
	}
	p := strings.Trim(url.Path, "/")
	if p == "" {
		return "", ErrNoFilename
	}
	pathElements := strings.Split(p, "/")
	filename := pathElements[len(pathElements)-1]
	if filename == "" {
		return "", ErrNoFilename
	}
	// Don't allow "filenames" that are just ".", "..", etc.
	if strings.ReplaceAll(filename, ".", "") == "" {
		return "", ErrNoFilename
	}
	return filename, nil
}

func FilenameFromURLString(s string) (string, error) {
	if parsedURL, err := url.Parse(s); err != nil {
		return "", err
	} else {
		return FilenameFromURL(parsedURL)
	}
}

// StemFromURLString is FilenameFromURLString with the final extension removed, e.g. "https://x/a/7cd0.png" -> "7cd0".
func StemFromURLString(s string) (string, error) {
	filename, err := FilenameFromURLString(s)
	if err != nil {
		return "", err
	}
	stem := strings.TrimSuffix(filename, path.Ext(filename))
	if stem == "" {
		return "", ErrNoFilename
	}
	return stem, nil
}
