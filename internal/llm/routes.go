package llm

import (
	"fmt"
	"os"
	"time"

	"github.com/taleteller/taleteller/internal/config"
)

// Route is a fully resolved LLM destination: the endpoint and provider a
// logical route name maps to, with credentials pulled from the environment.
type Route struct {
	Name           string
	Endpoint       string
	Provider       string
	Model          string
	Temperature    float64
	Timeout        time.Duration
	MaxConcurrency int
	Retries        int
	BaseURL        string
	APIKey         string
}

// ResolveRoute maps a route name ("storyteller_narration" etc.) through the
// config to a Route. A missing required API key env is a config error.
func ResolveRoute(cfg *config.Config, routeName string) (Route, error) {
	endpointName, endpoint, provider, err := cfg.LLM.ResolveChatRoute(routeName)
	if err != nil {
		return Route{}, err
	}

	apiKey := ""
	if provider.APIKeyEnv != "" {
		apiKey = os.Getenv(provider.APIKeyEnv)
		if apiKey == "" {
			return Route{}, fmt.Errorf("%w: route %q needs %s", config.ErrMissingAPIKey, routeName, provider.APIKeyEnv)
		}
	}

	timeout := time.Duration(endpoint.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	maxConcurrency := endpoint.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	return Route{
		Name:           routeName,
		Endpoint:       endpointName,
		Provider:       endpoint.Provider,
		Model:          endpoint.Model,
		Temperature:    endpoint.Temperature,
		Timeout:        timeout,
		MaxConcurrency: maxConcurrency,
		Retries:        endpoint.Retries,
		BaseURL:        config.ResolveEnvVars(provider.BaseURL),
		APIKey:         apiKey,
	}, nil
}

// ModelIdentifier is the stable provider/endpoint/model triple used in
// cache keys and logs.
func (r Route) ModelIdentifier() string {
	return r.Provider + "/" + r.Endpoint + "/" + r.Model
}
