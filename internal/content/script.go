package content

import (
	"context"
	"fmt"
	"strings"

	"github.com/airwaveops/radiod/internal/provider"
)

// synthesizeScript builds the system prompt from configuration and the
// gathered inputs, calls the script provider chain, and enforces the
// target word-count range with a bounded retry (spec §4.4 steps 3-4).
func (g *Generator) synthesizeScript(ctx context.Context, inputs Inputs, recentPhrases []string) (string, error) {
	systemPrompt := g.buildSystemPrompt(recentPhrases)
	userPrompt := g.buildUserPrompt(inputs)

	var (
		best      string
		bestDelta = -1
	)

	for attempt := 0; attempt <= g.cfg.MaxLengthRetries; attempt++ {
		prompt := userPrompt
		if attempt > 0 {
			prompt = g.stricterPrompt(userPrompt, attempt)
		}

		script, err := g.scripts.Execute(ctx, provider.ScriptRequest{
			SystemPrompt: systemPrompt,
			UserPrompt:   prompt,
		}, g.scriptCfg)
		if err != nil {
			// allProvidersFailed: fall back to a templated script built
			// directly from the gathered inputs (spec §4.4 step 3).
			return g.templatedScript(inputs), nil
		}

		words := wordCount(script)
		if words >= g.cfg.TargetWordMin && words <= g.cfg.TargetWordMax {
			return script, nil
		}

		delta := distanceFromRange(words, g.cfg.TargetWordMin, g.cfg.TargetWordMax)
		if bestDelta == -1 || delta < bestDelta {
			best, bestDelta = script, delta
		}
	}

	if best != "" {
		return best, nil
	}
	return g.templatedScript(inputs), nil
}

func (g *Generator) buildSystemPrompt(recentPhrases []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, the announcer for %s.\n", g.cfg.AnnouncerPersona, g.cfg.StationIdentity)
	if g.cfg.WorldSetting != "" {
		fmt.Fprintf(&b, "Setting: %s\n", g.cfg.WorldSetting)
	}
	if g.cfg.ToneRules != "" {
		fmt.Fprintf(&b, "Tone: %s\n", g.cfg.ToneRules)
	}
	fmt.Fprintf(&b, "Chaos budget: %.2f. Humor policy: %s.\n", g.cfg.ChaosBudget, g.cfg.HumorPolicy)
	if len(g.cfg.BannedPhrases) > 0 {
		fmt.Fprintf(&b, "Never use these phrases: %s\n", strings.Join(g.cfg.BannedPhrases, ", "))
	}
	if len(recentPhrases) > 0 {
		fmt.Fprintf(&b, "Avoid repeating recent content: %s\n", strings.Join(recentPhrases, " | "))
	}
	fmt.Fprintf(&b, "Target length: %d-%d words.\n", g.cfg.TargetWordMin, g.cfg.TargetWordMax)
	return b.String()
}

func (g *Generator) buildUserPrompt(inputs Inputs) string {
	var b strings.Builder
	if inputs.Weather != "" {
		fmt.Fprintf(&b, "Weather: %s\n", inputs.Weather)
	}
	if len(inputs.News) > 0 {
		fmt.Fprintf(&b, "News: %s\n", strings.Join(inputs.News, "; "))
	}
	return b.String()
}

func (g *Generator) stricterPrompt(base string, attempt int) string {
	return fmt.Sprintf("%s\n(Strict: keep strictly between %d and %d words. Attempt %d.)",
		base, g.cfg.TargetWordMin, g.cfg.TargetWordMax, attempt+1)
}

// templatedScript is the degraded fallback when every script provider
// fails: a deterministic, non-LLM script assembled directly from the
// gathered inputs.
func (g *Generator) templatedScript(inputs Inputs) string {
	var b strings.Builder
	fmt.Fprintf(&b, "This is %s.", g.cfg.StationIdentity)
	if inputs.Weather != "" {
		fmt.Fprintf(&b, " Weather update: %s.", inputs.Weather)
	}
	if len(inputs.News) > 0 {
		fmt.Fprintf(&b, " In other news: %s.", inputs.News[0])
	}
	b.WriteString(" Stay tuned.")
	return b.String()
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func distanceFromRange(n, lo, hi int) int {
	if n < lo {
		return lo - n
	}
	if n > hi {
		return n - hi
	}
	return 0
}
