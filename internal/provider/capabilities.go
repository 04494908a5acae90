package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/airwaveops/radiod/internal/config"
)

// ScriptRequest carries everything the chain needs to synthesize break
// script text (spec §4.4 step 3).
type ScriptRequest struct {
	SystemPrompt string
	UserPrompt   string
}

// ScriptProvider produces break-script text from a prompt pair.
type ScriptProvider interface {
	Name() string
	GenerateScript(ctx context.Context, req ScriptRequest) (string, error)
}

// VoiceRequest carries the script and director prefix for TTS synthesis
// (spec §4.4 step 5).
type VoiceRequest struct {
	Script         string
	DirectorPrefix string
}

// VoiceProvider synthesizes raw voice audio bytes from a script.
type VoiceProvider interface {
	Name() string
	SynthesizeVoice(ctx context.Context, req VoiceRequest) ([]byte, error)
}

// httpProvider is a generic HTTP-backed provider shared by both
// capabilities; the request/response shaping differs, the transport
// plumbing (bounded client, circuit breaker, outcome classification)
// does not.
type httpProvider struct {
	name     string
	endpoint string
	apiKey   string
	client   *http.Client
	cb       *gobreaker.CircuitBreaker[*http.Response]
}

func newHTTPProvider(p config.Provider) *httpProvider {
	apiKey := ""
	if p.APIKeyEnv != "" {
		apiKey = os.Getenv(p.APIKeyEnv)
	}
	return &httpProvider{
		name:     p.Name,
		endpoint: p.Endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 15 * time.Second},
		cb: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        "provider-" + p.Name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 5 && counts.TotalFailures == counts.Requests
			},
		}),
	}
}

func (h *httpProvider) postJSON(ctx context.Context, body any) Result {
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{Outcome: OutcomePermanent, Err: fmt.Errorf("marshal request: %w", err)}
	}

	resp, err := h.cb.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if h.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+h.apiKey)
		}
		return h.client.Do(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Result{Outcome: OutcomeTransient, Err: err}
		}
		return Result{Outcome: OutcomeTransient, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return Result{Outcome: OutcomeTransient, Err: err}
		}
		return Result{Outcome: OutcomeOK, Payload: b}

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return Result{Outcome: OutcomeRateLimited, RetryAfter: retryAfter, Err: fmt.Errorf("%s: rate limited", h.name)}

	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == 403:
		return Result{Outcome: OutcomeQuotaExceeded, Err: fmt.Errorf("%s: quota exceeded (status %d)", h.name, resp.StatusCode)}

	case resp.StatusCode >= 500:
		return Result{Outcome: OutcomeTransient, Err: fmt.Errorf("%s: server error %d", h.name, resp.StatusCode)}

	case resp.StatusCode >= 400:
		return Result{Outcome: OutcomePermanent, Err: fmt.Errorf("%s: client error %d", h.name, resp.StatusCode)}

	default:
		return Result{Outcome: OutcomeTransient, Err: fmt.Errorf("%s: unexpected status %d", h.name, resp.StatusCode)}
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 2 * time.Second
	}
	if secs, err := time.ParseDuration(header + "s"); err == nil {
		return secs
	}
	return 2 * time.Second
}

// scriptHTTPPayload is the wire shape posted to script providers
// (structurally similar across OpenAI/Anthropic-style chat completion
// APIs; the generator never needs per-vendor response parsing beyond
// extracting the text body).
type scriptHTTPPayload struct {
	System string `json:"system"`
	Prompt string `json:"prompt"`
}

// NewScriptProvider wraps an HTTP chat/completion-style endpoint as a
// ScriptProvider.
func NewScriptProvider(p config.Provider) ScriptProvider {
	return &scriptHTTPProvider{httpProvider: newHTTPProvider(p)}
}

type scriptHTTPProvider struct{ *httpProvider }

func (s *scriptHTTPProvider) Name() string { return s.name }

func (s *scriptHTTPProvider) GenerateScript(ctx context.Context, req ScriptRequest) (string, error) {
	res := s.postJSON(ctx, scriptHTTPPayload{System: req.SystemPrompt, Prompt: req.UserPrompt})
	if res.Outcome != OutcomeOK {
		return "", res.Err
	}
	b, _ := res.Payload.([]byte)
	return string(b), nil
}

// AsCall adapts a ScriptProvider into a provider.Call for chain
// execution, reusing the httpProvider's outcome classification where the
// provider is HTTP-backed.
func (s *scriptHTTPProvider) AsCall(req ScriptRequest) Call {
	return func(ctx context.Context) Result {
		res := s.postJSON(ctx, scriptHTTPPayload{System: req.SystemPrompt, Prompt: req.UserPrompt})
		return res
	}
}

// voiceHTTPPayload is the wire shape posted to TTS providers.
type voiceHTTPPayload struct {
	Text   string `json:"text"`
	Prefix string `json:"director_prefix"`
}

// NewVoiceProvider wraps an HTTP TTS endpoint as a VoiceProvider.
func NewVoiceProvider(p config.Provider) VoiceProvider {
	return &voiceHTTPProvider{httpProvider: newHTTPProvider(p)}
}

type voiceHTTPProvider struct{ *httpProvider }

func (v *voiceHTTPProvider) Name() string { return v.name }

func (v *voiceHTTPProvider) SynthesizeVoice(ctx context.Context, req VoiceRequest) ([]byte, error) {
	res := v.postJSON(ctx, voiceHTTPPayload{Text: req.Script, Prefix: req.DirectorPrefix})
	if res.Outcome != OutcomeOK {
		return nil, res.Err
	}
	b, _ := res.Payload.([]byte)
	return b, nil
}

func (v *voiceHTTPProvider) AsCall(req VoiceRequest) Call {
	return func(ctx context.Context) Result {
		return v.postJSON(ctx, voiceHTTPPayload{Text: req.Script, Prefix: req.DirectorPrefix})
	}
}

// ScriptProviderSet holds the configured script providers in priority
// order, ready to be bound to a concrete request and executed as a
// Chain per generation run (each run's prompt differs, so the Call
// closures are built at call time, not at construction).
type ScriptProviderSet struct {
	cfg       ChainConfig
	providers []*scriptHTTPProvider
}

// NewScriptProviderSet builds the configured "script" capability
// providers from the provider list, preserving configured priority.
func NewScriptProviderSet(cfg ChainConfig, providers []config.Provider) *ScriptProviderSet {
	set := &ScriptProviderSet{cfg: cfg}
	for _, p := range providers {
		set.providers = append(set.providers, NewScriptProvider(p).(*scriptHTTPProvider))
	}
	return set
}

// Execute runs the chain for one script request.
func (s *ScriptProviderSet) Execute(ctx context.Context, req ScriptRequest, configured []config.Provider) (string, error) {
	chainProviders := make([]Provider, 0, len(s.providers))
	for i, p := range s.providers {
		priority := 0
		if i < len(configured) {
			priority = configured[i].Priority
		}
		chainProviders = append(chainProviders, Provider{Name: p.Name(), Priority: priority, Invoke: p.AsCall(req)})
	}
	chain := NewChain(s.cfg, chainProviders)
	payload, err := chain.Execute(ctx)
	if err != nil {
		return "", err
	}
	b, _ := payload.([]byte)
	return string(b), nil
}

// VoiceProviderSet is the TTS-capability analogue of ScriptProviderSet.
type VoiceProviderSet struct {
	cfg       ChainConfig
	providers []*voiceHTTPProvider
}

// NewVoiceProviderSet builds the configured "tts" capability providers.
func NewVoiceProviderSet(cfg ChainConfig, providers []config.Provider) *VoiceProviderSet {
	set := &VoiceProviderSet{cfg: cfg}
	for _, p := range providers {
		set.providers = append(set.providers, NewVoiceProvider(p).(*voiceHTTPProvider))
	}
	return set
}

// Execute runs the chain for one voice synthesis request.
func (v *VoiceProviderSet) Execute(ctx context.Context, req VoiceRequest, configured []config.Provider) ([]byte, error) {
	chainProviders := make([]Provider, 0, len(v.providers))
	for i, p := range v.providers {
		priority := 0
		if i < len(configured) {
			priority = configured[i].Priority
		}
		chainProviders = append(chainProviders, Provider{Name: p.Name(), Priority: priority, Invoke: p.AsCall(req)})
	}
	chain := NewChain(v.cfg, chainProviders)
	payload, err := chain.Execute(ctx)
	if err != nil {
		return nil, err
	}
	b, _ := payload.([]byte)
	return b, nil
}
