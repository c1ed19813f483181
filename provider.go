package bili_archiver

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/alanbriolat/bili-archiver/generic"
)

var (
	ErrDuplicateProvider = errors.New("duplicate provider name")
	ErrInvalidProvider   = errors.New("invalid provider")
	ErrNoMatch           = errors.New("no provider matched the input")
	ErrUnknownProvider   = errors.New("unknown provider")
)

var (
	PriorityHighest int16 = math.MinInt16
	PriorityDefault int16 = 0
	PriorityLowest  int16 = math.MaxInt16
)

type MatchFunc = func(string) (VideoID, error)

// A Provider recognises user input (a bare identifier or a URL) it knows how to turn into a VideoID.
type Provider struct {
	Name  string
	Match MatchFunc
	// Priority of the matcher, lower (including negative) means matching earlier.
	Priority int16
}

// A Match is the result of a Provider successfully matching an input.
type Match struct {
	ProviderName string
	ID           VideoID
}

// A ProviderRegistry is a collection of Provider instances which can be used to try to match inputs.
type ProviderRegistry struct {
	providers   []*Provider
	providerMap map[string]*Provider
}

// Add registers a Provider with the ProviderRegistry. Provider.Name and Provider.Match must be set, and
// Provider.Name must be unique within the ProviderRegistry.
func (r *ProviderRegistry) Add(p Provider) error {
	if r.providerMap == nil {
		r.providerMap = make(map[string]*Provider)
	}
	if p.Name == "" || p.Match == nil {
		return ErrInvalidProvider
	}
	if _, ok := r.providerMap[p.Name]; ok {
		return ErrDuplicateProvider
	}
	r.providerMap[p.Name] = &p
	r.providers = append(r.providers, r.providerMap[p.Name])
	r.sortByPriority()
	return nil
}

// List returns the names of registered providers in priority order.
func (r *ProviderRegistry) List() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name)
	}
	return names
}

// Match an input against each Provider in priority order. If nothing matches, the error wraps ErrNoMatch and
// includes every provider's reason.
func (r *ProviderRegistry) Match(s string) (*Match, error) {
	var result error
	for _, p := range r.providers {
		if id, err := p.Match(s); id != "" && err == nil {
			return &Match{ProviderName: p.Name, ID: id}, nil
		} else if err != nil {
			result = multierror.Append(result, multierror.Prefix(err, fmt.Sprintf("[%v]", p.Name)))
		}
	}
	if result == nil {
		return nil, ErrNoMatch
	}
	return nil, fmt.Errorf("%w: %v", ErrNoMatch, result)
}

// MatchWith will attempt to match an input against a specific provider.
func (r *ProviderRegistry) MatchWith(name string, s string) (*Match, error) {
	if p, ok := r.providerMap[name]; ok {
		if id, err := p.Match(s); id != "" && err == nil {
			return &Match{ProviderName: p.Name, ID: id}, nil
		} else {
			return nil, ErrNoMatch
		}
	} else {
		return nil, ErrUnknownProvider
	}
}

// MustAdd wraps Add but panics if there is an error.
func (r *ProviderRegistry) MustAdd(p Provider) {
	generic.Unwrap_(r.Add(p))
}

func (r *ProviderRegistry) sortByPriority() {
	sort.SliceStable(r.providers, func(i, j int) bool {
		return r.providers[i].Priority < r.providers[j].Priority
	})
}

var DefaultProviderRegistry ProviderRegistry
