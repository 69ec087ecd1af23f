// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package quota

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ModelPricing holds per-million-token prices in USD for one model
type ModelPricing struct {
	InputPerMillionUSD  float64 `json:"input_per_million_usd" yaml:"input_per_million_usd"`
	OutputPerMillionUSD float64 `json:"output_per_million_usd" yaml:"output_per_million_usd"`
}

// PricingTable maps provider -> model -> pricing. Lookup falls back from the
// exact model to the provider's "*" entry to the global "*" provider.
type PricingTable struct {
	mu        sync.RWMutex
	providers map[string]map[string]ModelPricing
}

// defaultPricing holds built-in per-million-token prices in USD.
// Overridable via LEDGER_PRICING_FILE (YAML) and LEDGER_PRICING (JSON).
var defaultPricing = map[string]map[string]ModelPricing{
	"anthropic": {
		"claude-opus-4":     {InputPerMillionUSD: 15.0, OutputPerMillionUSD: 75.0},
		"claude-sonnet-4":   {InputPerMillionUSD: 3.0, OutputPerMillionUSD: 15.0},
		"claude-3-5-sonnet": {InputPerMillionUSD: 3.0, OutputPerMillionUSD: 15.0},
		"claude-3-5-haiku":  {InputPerMillionUSD: 0.8, OutputPerMillionUSD: 4.0},
		"claude-3-haiku":    {InputPerMillionUSD: 0.25, OutputPerMillionUSD: 1.25},
		"*":                 {InputPerMillionUSD: 3.0, OutputPerMillionUSD: 15.0},
	},
	"openai": {
		"gpt-4o":        {InputPerMillionUSD: 2.5, OutputPerMillionUSD: 10.0},
		"gpt-4o-mini":   {InputPerMillionUSD: 0.15, OutputPerMillionUSD: 0.6},
		"gpt-4-turbo":   {InputPerMillionUSD: 10.0, OutputPerMillionUSD: 30.0},
		"gpt-4":         {InputPerMillionUSD: 30.0, OutputPerMillionUSD: 60.0},
		"gpt-3.5-turbo": {InputPerMillionUSD: 0.5, OutputPerMillionUSD: 1.5},
		"o1-mini":       {InputPerMillionUSD: 3.0, OutputPerMillionUSD: 12.0},
		"*":             {InputPerMillionUSD: 10.0, OutputPerMillionUSD: 30.0},
	},
	"google": {
		"gemini-2.0-flash": {InputPerMillionUSD: 0.1, OutputPerMillionUSD: 0.4},
		"gemini-1.5-pro":   {InputPerMillionUSD: 1.25, OutputPerMillionUSD: 5.0},
		"gemini-1.5-flash": {InputPerMillionUSD: 0.075, OutputPerMillionUSD: 0.3},
		"*":                {InputPerMillionUSD: 1.0, OutputPerMillionUSD: 4.0},
	},
	// Self-hosted models are free; compute cost is not tracked here
	"ollama": {
		"*": {},
	},
	"local": {
		"*": {},
	},
	"*": {
		"*": {InputPerMillionUSD: 3.0, OutputPerMillionUSD: 15.0},
	},
}

// pricingFile is the on-disk / in-env shape of a pricing override
type pricingFile struct {
	Providers map[string]map[string]ModelPricing `json:"providers" yaml:"providers"`
}

// NewPricingTable builds a table from the built-in defaults, then merges the
// YAML file named by LEDGER_PRICING_FILE and the JSON override in
// LEDGER_PRICING, in that order. Malformed overrides are reported, not fatal.
func NewPricingTable() (*PricingTable, error) {
	t := &PricingTable{providers: copyProviders(defaultPricing)}

	if path := os.Getenv("LEDGER_PRICING_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return t, fmt.Errorf("failed to read pricing file: %w", err)
		}
		var custom pricingFile
		if err := yaml.Unmarshal(data, &custom); err != nil {
			return t, fmt.Errorf("failed to parse pricing file: %w", err)
		}
		t.merge(custom.Providers)
	}

	if raw := os.Getenv("LEDGER_PRICING"); raw != "" {
		var custom pricingFile
		if err := json.Unmarshal([]byte(raw), &custom); err != nil {
			return t, fmt.Errorf("failed to parse LEDGER_PRICING: %w", err)
		}
		t.merge(custom.Providers)
	}

	return t, nil
}

func copyProviders(src map[string]map[string]ModelPricing) map[string]map[string]ModelPricing {
	dst := make(map[string]map[string]ModelPricing, len(src))
	for provider, models := range src {
		dst[provider] = make(map[string]ModelPricing, len(models))
		for model, pricing := range models {
			dst[provider][model] = pricing
		}
	}
	return dst
}

func (t *PricingTable) merge(providers map[string]map[string]ModelPricing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for provider, models := range providers {
		provider = strings.ToLower(provider)
		if t.providers[provider] == nil {
			t.providers[provider] = make(map[string]ModelPricing)
		}
		for model, pricing := range models {
			t.providers[provider][model] = pricing
		}
	}
}

// Lookup resolves pricing for a provider/model pair: exact model, then the
// provider's wildcard, then the global wildcard.
func (t *PricingTable) Lookup(provider, model string) (ModelPricing, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	provider = strings.ToLower(provider)

	if models, ok := t.providers[provider]; ok {
		if pricing, ok := models[model]; ok {
			return pricing, true
		}
		if pricing, ok := models[strings.ToLower(model)]; ok {
			return pricing, true
		}
		if pricing, ok := models["*"]; ok {
			return pricing, true
		}
	}

	if models, ok := t.providers["*"]; ok {
		if pricing, ok := models["*"]; ok {
			return pricing, true
		}
	}

	return ModelPricing{}, false
}

// SetModelPricing sets pricing for one model
func (t *PricingTable) SetModelPricing(provider, model string, pricing ModelPricing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	provider = strings.ToLower(provider)
	if t.providers[provider] == nil {
		t.providers[provider] = make(map[string]ModelPricing)
	}
	t.providers[provider][model] = pricing
}

// CostMicroCents computes the cost of a model invocation in integer
// micro-cents, rounded half up. Model may be qualified as "provider/model";
// an unqualified model is matched against every provider before falling back
// to the global wildcard.
func (t *PricingTable) CostMicroCents(model string, inputTokens, outputTokens int64) (int64, error) {
	pricing, ok := t.resolve(model)
	if !ok {
		return 0, ErrPricingNotFound
	}

	// Micro-cents per million tokens; integer arithmetic from here on.
	perMillionIn := USDToMicroCents(pricing.InputPerMillionUSD)
	perMillionOut := USDToMicroCents(pricing.OutputPerMillionUSD)

	total := inputTokens*perMillionIn + outputTokens*perMillionOut
	return (total + 500_000) / 1_000_000, nil
}

func (t *PricingTable) resolve(model string) (ModelPricing, bool) {
	if provider, rest, ok := strings.Cut(model, "/"); ok {
		return t.Lookup(provider, rest)
	}

	t.mu.RLock()
	for _, models := range t.providers {
		if pricing, ok := models[model]; ok {
			t.mu.RUnlock()
			return pricing, true
		}
	}
	t.mu.RUnlock()

	return t.Lookup("*", model)
}

// FormatMicroCentsUSD renders micro-cents as a dollar string for display
func FormatMicroCentsUSD(mc int64) string {
	sign := ""
	if mc < 0 {
		sign = "-"
		mc = -mc
	}
	dollars := mc / MicroCentsPerUSD
	frac := mc % MicroCentsPerUSD
	s := strings.TrimRight(fmt.Sprintf("%d.%08d", dollars, frac), "0")
	if strings.HasSuffix(s, ".") {
		s += "00"
	}
	return sign + "$" + s
}
