package bili_archiver

import (
	"errors"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func matchPrefix(prefix string) MatchFunc {
	return func(s string) (VideoID, error) {
		if len(s) > len(prefix) && s[:len(prefix)] == prefix {
			return VideoID(s[len(prefix):]), nil
		}
		return "", errors.New("wrong prefix")
	}
}

func TestProviderRegistry(t *testing.T) {
	assert := assert_.New(t)
	var r ProviderRegistry
	assert.NoError(r.Add(Provider{Name: "a", Match: matchPrefix("x")}))
	assert.NoError(r.Add(Provider{Name: "b", Match: matchPrefix("xy"), Priority: -1}))
	assert.ErrorIs(r.Add(Provider{Name: "a", Match: matchPrefix("z")}), ErrDuplicateProvider)
	assert.ErrorIs(r.Add(Provider{Name: "c"}), ErrInvalidProvider)
	assert.Equal([]string{"b", "a"}, r.List())

	m, err := r.Match("xy1")
	if assert.NoError(err) {
		assert.Equal(Match{ProviderName: "b", ID: "1"}, *m)
	}
	m, err = r.Match("x1")
	if assert.NoError(err) {
		assert.Equal(Match{ProviderName: "a", ID: "1"}, *m)
	}

	assert.NoError(r.Add(Provider{Name: "first", Match: matchPrefix("xy"), Priority: PriorityHighest}))
	assert.Equal([]string{"first", "b", "a"}, r.List())
	m, err = r.Match("xy1")
	if assert.NoError(err) {
		assert.Equal("first", m.ProviderName)
	}
}

func TestProviderRegistry_NoMatch(t *testing.T) {
	assert := assert_.New(t)
	var r ProviderRegistry
	_, err := r.Match("anything")
	assert.ErrorIs(err, ErrNoMatch)

	r.MustAdd(Provider{Name: "a", Match: matchPrefix("x")})
	r.MustAdd(Provider{Name: "b", Match: matchPrefix("y")})
	_, err = r.Match("z")
	assert.ErrorIs(err, ErrNoMatch)
	assert.ErrorContains(err, "[a]")
	assert.ErrorContains(err, "[b]")
}

func TestProviderRegistry_MatchWith(t *testing.T) {
	assert := assert_.New(t)
	var r ProviderRegistry
	r.MustAdd(Provider{Name: "a", Match: matchPrefix("x")})
	m, err := r.MatchWith("a", "x1")
	if assert.NoError(err) {
		assert.Equal(VideoID("1"), m.ID)
	}
	_, err = r.MatchWith("a", "y1")
	assert.ErrorIs(err, ErrNoMatch)
	_, err = r.MatchWith("b", "x1")
	assert.ErrorIs(err, ErrUnknownProvider)
	assert.Panics(func() { r.MustAdd(Provider{Name: "a", Match: matchPrefix("x")}) })
}
