package cli

import (
	"fmt"
	"math"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/mrz1836/balancewatch/internal/config"
	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

// maxTypoDistance is the largest edit distance still offered as a suggestion.
const maxTypoDistance = 2

// suggestName returns the candidate closest to input, or "" when none is
// within maxTypoDistance.
func suggestName(input string, candidates []string) string {
	input = strings.ToLower(input)

	minDist := math.MaxInt
	var suggestion string

	for _, c := range candidates {
		dist := levenshtein.ComputeDistance(input, strings.ToLower(c))
		if dist == 0 {
			return c
		}
		if dist < minDist {
			minDist = dist
			suggestion = c
		}
	}

	if minDist <= maxTypoDistance {
		return suggestion
	}
	return ""
}

// lookupProvider finds a configured provider by name. Unknown names yield
// ErrProviderNotFound with a "did you mean" suggestion when one is close.
func lookupProvider(c *config.Config, name string) (config.ProviderConfig, error) {
	if p, ok := c.Provider(name); ok {
		return p, nil
	}

	err := bwerr.WithDetails(bwerr.ErrProviderNotFound, map[string]string{"provider": name})

	names := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		names = append(names, p.Name)
	}
	if s := suggestName(name, names); s != "" {
		return config.ProviderConfig{}, bwerr.WithSuggestion(err, fmt.Sprintf("did you mean %q?", s))
	}
	if len(names) > 0 {
		return config.ProviderConfig{}, bwerr.WithSuggestion(err, "run 'balancewatch providers' to list configured providers")
	}
	return config.ProviderConfig{}, bwerr.WithSuggestion(err, "add providers to "+config.Path(c.GetHome()))
}
