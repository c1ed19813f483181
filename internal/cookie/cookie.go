// Package cookie turns a set of extracted browser cookies into the Cookie header sent to the platform.
package cookie

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

type Entry struct {
	Host  string
	Name  string
	Value string
}

// Matches reports whether the cookie applies to domain, i.e. its host is the domain itself or a subdomain of it.
func (e Entry) Matches(domain string) bool {
	host := strings.ToLower(strings.TrimLeft(e.Host, "."))
	domain = strings.ToLower(strings.TrimLeft(domain, "."))
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// Header joins the entries matching domain as "name=value" pairs in input order. No matches gives "", which means
// unauthenticated access.
func Header(entries []Entry, domain string) string {
	var parts []string
	for _, e := range entries {
		if e.Matches(domain) {
			parts = append(parts, e.Name+"="+e.Value)
		}
	}
	return strings.Join(parts, "; ")
}

const httpOnlyPrefix = "#HttpOnly_"

// ParseNetscape reads a Netscape cookies.txt export: seven tab-separated fields per line, with comment lines starting
// with "#" except for the "#HttpOnly_" host marker.
func ParseNetscape(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.HasPrefix(line, httpOnlyPrefix) {
			line = strings.TrimPrefix(line, httpOnlyPrefix)
		} else if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			return nil, fmt.Errorf("cookies line %d: expected 7 fields, got %d", lineNo, len(fields))
		}
		entries = append(entries, Entry{Host: fields[0], Name: fields[5], Value: fields[6]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
