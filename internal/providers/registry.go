package providers

import "strings"

// ProviderSpec is the metadata record for one OpenAI-compatible backend.
type ProviderSpec struct {
	Name        string   // config field name, e.g. "ollama"
	Keywords    []string // model-name keywords for matching (lowercase)
	EnvKey      string   // env var consulted when no API key is configured
	DisplayName string   // shown in `lyn status`

	// Gateway / local detection
	IsGateway           bool   // routes any model (OpenRouter)
	IsLocal             bool   // local deployment (Ollama, vLLM); no key required
	DetectByKeyPrefix   string // match api_key prefix to identify gateway
	DetectByBaseKeyword string // match substring in api_base URL
	DefaultAPIBase      string // fallback base URL when none is configured
}

// Label returns the display name, defaulting to Title-cased Name.
func (s ProviderSpec) Label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return strings.ToUpper(s.Name[:1]) + s.Name[1:]
}

// DefaultProvider is used when nothing else matches.
const DefaultProvider = "ollama"

// PROVIDERS is the registry. Order = match priority.
var PROVIDERS = []ProviderSpec{
	{
		Name:        "custom",
		DisplayName: "Custom",
	},
	{
		Name:                "openrouter",
		Keywords:            []string{"openrouter"},
		EnvKey:              "OPENROUTER_API_KEY",
		DisplayName:         "OpenRouter",
		IsGateway:           true,
		DetectByKeyPrefix:   "sk-or-",
		DetectByBaseKeyword: "openrouter",
		DefaultAPIBase:      "https://openrouter.ai/api/v1",
	},
	{
		Name:           "openai",
		Keywords:       []string{"gpt", "o1", "o3", "o4", "text-embedding"},
		EnvKey:         "OPENAI_API_KEY",
		DisplayName:    "OpenAI",
		DefaultAPIBase: "https://api.openai.com/v1",
	},
	{
		Name:           "deepseek",
		Keywords:       []string{"deepseek"},
		EnvKey:         "DEEPSEEK_API_KEY",
		DisplayName:    "DeepSeek",
		DefaultAPIBase: "https://api.deepseek.com/v1",
	},
	{
		Name:           "groq",
		Keywords:       []string{"groq"},
		EnvKey:         "GROQ_API_KEY",
		DisplayName:    "Groq",
		DefaultAPIBase: "https://api.groq.com/openai/v1",
	},
	{
		Name:                "ollama",
		Keywords:            []string{"llama", "qwen", "mistral", "gemma", "phi", "nomic-embed"},
		DisplayName:         "Ollama",
		IsLocal:             true,
		DetectByBaseKeyword: "11434",
		DefaultAPIBase:      "http://127.0.0.1:11434/v1",
	},
	{
		Name:        "vllm",
		Keywords:    []string{"vllm"},
		EnvKey:      "HOSTED_VLLM_API_KEY",
		DisplayName: "vLLM/Local",
		IsLocal:     true,
	},
}

// FindByModel matches a provider by model-name keyword (case-insensitive).
// An explicit "provider/" prefix wins over keywords. Gateways are skipped;
// those are matched by api_key/api_base.
func FindByModel(model string) *ProviderSpec {
	modelLower := strings.ToLower(model)
	modelPrefix, _, hasPrefix := strings.Cut(modelLower, "/")

	if hasPrefix {
		if s := FindByName(modelPrefix); s != nil && !s.IsGateway {
			return s
		}
	}
	for i := range PROVIDERS {
		spec := &PROVIDERS[i]
		if spec.IsGateway {
			continue
		}
		for _, kw := range spec.Keywords {
			if strings.Contains(modelLower, kw) {
				return spec
			}
		}
	}
	return nil
}

// FindGateway detects the gateway or local provider.
// Priority: (1) explicit provider name, (2) api_key prefix, (3) api_base keyword.
func FindGateway(providerName, apiKey, apiBase string) *ProviderSpec {
	if providerName != "" {
		if s := FindByName(providerName); s != nil && (s.IsGateway || s.IsLocal) {
			return s
		}
	}
	for i := range PROVIDERS {
		spec := &PROVIDERS[i]
		if spec.DetectByKeyPrefix != "" && apiKey != "" && strings.HasPrefix(apiKey, spec.DetectByKeyPrefix) {
			return spec
		}
		if spec.DetectByBaseKeyword != "" && apiBase != "" && strings.Contains(apiBase, spec.DetectByBaseKeyword) {
			return spec
		}
	}
	return nil
}

// FindByName returns the ProviderSpec whose Name equals name.
func FindByName(name string) *ProviderSpec {
	for i := range PROVIDERS {
		if PROVIDERS[i].Name == name {
			return &PROVIDERS[i]
		}
	}
	return nil
}

// Resolve picks the spec for a configuration: an explicitly named provider,
// then gateway detection, then the model keyword, then DefaultProvider.
func Resolve(providerName, apiKey, apiBase, model string) *ProviderSpec {
	if providerName != "" {
		if s := FindByName(providerName); s != nil {
			return s
		}
	}
	if s := FindGateway("", apiKey, apiBase); s != nil {
		return s
	}
	if s := FindByModel(model); s != nil {
		return s
	}
	return FindByName(DefaultProvider)
}
