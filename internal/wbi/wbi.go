// Package wbi implements the platform's query signing: deriving the 48-character mixin key from the two key URLs
// published by the nav endpoint, and computing the w_rid signature over a sorted parameter set.
package wbi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	bili "github.com/alanbriolat/bili-archiver"
	"github.com/alanbriolat/bili-archiver/util"
)

const (
	MixinKeyLength  = 48
	SignatureLength = 32

	// Number of characters taken from each key URL's filename.
	stemChars = MixinKeyLength / 2
)

type MixinKey string

type Signature struct {
	WRID string
	WTS  string
}

// Sign computes the signature for params at time now. params is not modified.
//
// The message is every parameter (including wts) sorted by key and serialised as key=value pairs joined by "&",
// immediately followed by the mixin key. The signature is the first 32 characters of the base64-encoded
// HMAC-SHA256 of that message, keyed with the mixin key.
func Sign(params map[string]string, key MixinKey, now time.Time) (Signature, error) {
	if len(key) == 0 {
		return Signature{}, fmt.Errorf("%w: empty mixin key", bili.ErrSigningKeyUnavailable)
	}
	wts := strconv.FormatInt(now.Unix(), 10)

	keys := make([]string, 0, len(params)+1)
	for k := range params {
		if k != "wts" && k != "w_rid" {
			keys = append(keys, k)
		}
	}
	keys = append(keys, "wts")
	sort.Strings(keys)

	var message strings.Builder
	for i, k := range keys {
		if i > 0 {
			message.WriteByte('&')
		}
		message.WriteString(k)
		message.WriteByte('=')
		if k == "wts" {
			message.WriteString(wts)
		} else {
			message.WriteString(params[k])
		}
	}
	message.WriteString(string(key))

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(message.String()))
	encoded := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return Signature{WRID: encoded[:SignatureLength], WTS: wts}, nil
}

// DeriveMixinKey builds the mixin key from the img and sub key URLs: the first 24 characters of the img filename
// followed by the last 24 characters of the sub filename, extensions removed.
func DeriveMixinKey(imgURL, subURL string) (MixinKey, error) {
	img, err := keyStem("img_url", imgURL)
	if err != nil {
		return "", err
	}
	sub, err := keyStem("sub_url", subURL)
	if err != nil {
		return "", err
	}
	return MixinKey(img[:stemChars] + sub[len(sub)-stemChars:]), nil
}

func keyStem(field, rawURL string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("%w: %s missing from response", bili.ErrSigningKeyUnavailable, field)
	}
	stem, err := util.StemFromURLString(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", bili.ErrSigningKeyUnavailable, field, err)
	}
	if len(stem) < stemChars {
		return "", fmt.Errorf("%w: %s filename %q shorter than %d characters",
			bili.ErrSigningKeyUnavailable, field, stem, stemChars)
	}
	return stem, nil
}

// KeySource fetches the current pair of key URLs, i.e. the nav endpoint.
type KeySource interface {
	KeyURLs(ctx context.Context) (imgURL string, subURL string, err error)
}

// A Signer signs requests for one resolution session. The mixin key is fetched on first use and cached until
// Invalidate is called.
type Signer struct {
	source KeySource
	now    func() time.Time
	log    *zap.Logger

	mu  sync.Mutex
	key MixinKey
}

type SignerOption func(*Signer)

// WithClock overrides the source of signing timestamps.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		s.now = now
	}
}

func WithLogger(log *zap.Logger) SignerOption {
	return func(s *Signer) {
		s.log = log
	}
}

func NewSigner(source KeySource, opts ...SignerOption) *Signer {
	s := &Signer{
		source: source,
		now:    time.Now,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MixinKey returns the cached key, deriving it from the KeySource if necessary.
func (s *Signer) MixinKey(ctx context.Context) (MixinKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != "" {
		return s.key, nil
	}
	imgURL, subURL, err := s.source.KeyURLs(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch key urls: %w", err)
	}
	key, err := DeriveMixinKey(imgURL, subURL)
	if err != nil {
		return "", err
	}
	s.log.Debug("derived mixin key")
	s.key = key
	return key, nil
}

// Invalidate drops the cached key so the next signing call re-derives it.
func (s *Signer) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = ""
}

// SignValues returns a fresh copy of params with wts and w_rid added.
func (s *Signer) SignValues(ctx context.Context, params map[string]string) (url.Values, error) {
	key, err := s.MixinKey(ctx)
	if err != nil {
		return nil, err
	}
	sig, err := Sign(params, key, s.now())
	if err != nil {
		return nil, err
	}
	values := make(url.Values, len(params)+2)
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("wts", sig.WTS)
	values.Set("w_rid", sig.WRID)
	return values, nil
}
