// internal/nurture/planner/generator.go
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"nurture-engine/internal/common/config"
	"nurture-engine/internal/common/logger"
	"nurture-engine/internal/common/metrics"
	"nurture-engine/internal/models"
	"nurture-engine/internal/nurture/engagement"
)

const systemPrompt = `You are a B2B sales nurturing assistant. You design follow-up
sequences for sales leads. Respond with JSON only, no prose and no markdown fences.`

// CompletionClient is the slice of the LLM client the generator needs.
type CompletionClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// TemplateSearcher ranks templates by similarity to a lead profile so the
// prompt lists the most relevant ones first.
type TemplateSearcher interface {
	SearchSimilar(ctx context.Context, query string, topK int) ([]models.MessageTemplate, error)
}

// Generator produces nurture plans: LLM first, deterministic fallback when
// the LLM is unavailable, times out, or returns an invalid document.
type Generator struct {
	llm      CompletionClient
	searcher TemplateSearcher
	config   *config.PlannerConfig
	engCfg   *config.EngagementConfig
	logger   logger.Logger
}

// NewGenerator builds a Generator. A nil llm disables the primary path and
// every plan comes from the fallback; a nil searcher skips prompt ranking.
func NewGenerator(llm CompletionClient, searcher TemplateSearcher, cfg *config.PlannerConfig, engCfg *config.EngagementConfig, log logger.Logger) *Generator {
	return &Generator{
		llm:      llm,
		searcher: searcher,
		config:   cfg,
		engCfg:   engCfg,
		logger:   log.WithFields(map[string]interface{}{"component": "planner"}),
	}
}

// Generate returns a plan for the lead. It cannot fail: any problem on the
// LLM path collapses into the deterministic fallback plan.
func (g *Generator) Generate(ctx context.Context, lead *models.Lead, summary *engagement.Summary, available []string) *models.NurturePlan {
	plan := g.llmPlan(ctx, lead, summary, available)
	source := "llm"
	if plan == nil {
		plan = g.fallbackPlan(available)
		source = "fallback"
	}

	plan.LeadID = lead.ID
	plan.Status = models.PlanStatusActive
	metrics.PlansGenerated.WithLabelValues(string(plan.Strategy), source).Inc()

	g.logger.Info("plan generated", map[string]interface{}{
		"leadId":   lead.ID,
		"source":   source,
		"strategy": plan.Strategy,
		"steps":    len(plan.Steps),
	})
	return plan
}

func (g *Generator) llmPlan(ctx context.Context, lead *models.Lead, summary *engagement.Summary, available []string) *models.NurturePlan {
	if g.llm == nil {
		return nil
	}

	raw, err := g.llm.Complete(ctx, systemPrompt, g.buildPrompt(ctx, lead, summary, available))
	if err != nil {
		g.logger.Warn("llm plan generation failed, falling back", map[string]interface{}{
			"leadId": lead.ID,
			"error":  err.Error(),
		})
		return nil
	}

	doc, err := g.parseResponse(raw, available)
	if err != nil {
		g.logger.Warn("llm plan rejected, falling back", map[string]interface{}{
			"leadId": lead.ID,
			"error":  err.Error(),
		})
		return nil
	}

	plan := &models.NurturePlan{
		Strategy:  models.Strategy(doc.Strategy),
		Reasoning: doc.Reasoning,
		Steps:     doc.Steps,
	}
	g.applyHeuristics(plan, summary)
	return plan
}

func (g *Generator) buildPrompt(ctx context.Context, lead *models.Lead, summary *engagement.Summary, available []string) string {
	templates := g.rankTemplates(ctx, lead, available)

	profile, _ := json.MarshalIndent(map[string]string{
		"name":         lead.FullName(),
		"company":      lead.CompanyName,
		"job_title":    lead.JobTitle,
		"industry":     lead.Industry,
		"company_size": lead.CompanySize,
		"status":       string(lead.Status),
	}, "", "  ")

	var parts []string
	parts = append(parts, "Design a follow-up sequence for this sales lead.")
	parts = append(parts, "\nLead Profile:")
	parts = append(parts, string(profile))

	if summary != nil && summary.HasHistory {
		parts = append(parts, fmt.Sprintf("\nEngagement: open rate %.2f, reply rate %.2f", summary.OpenRate, summary.ReplyRate))
	} else {
		parts = append(parts, "\nEngagement: no prior outreach history")
	}

	parts = append(parts, "\nAvailable templates (use these names only):")
	for _, name := range templates {
		parts = append(parts, "- "+name)
	}

	parts = append(parts, "\nInstructions:")
	parts = append(parts, "- Return a JSON object with keys: strategy, reasoning, steps")
	parts = append(parts, `- strategy is one of "aggressive", "moderate", "conservative"`)
	parts = append(parts, "- steps is an array of 1 to 5 objects, each with days_after_previous (integer >= 0), channel (email, slack or log), template_name")
	parts = append(parts, "- template_name must be one of the available templates")
	parts = append(parts, "- a step may set require_open or require_reply (boolean) to fire only if the previous message was opened or replied to")

	return strings.Join(parts, "\n")
}

// rankTemplates orders the available names by similarity to the lead
// profile when a searcher is wired; otherwise the list passes through.
func (g *Generator) rankTemplates(ctx context.Context, lead *models.Lead, available []string) []string {
	if g.searcher == nil || len(available) < 2 {
		return available
	}

	query := strings.TrimSpace(lead.Industry + " " + lead.JobTitle)
	if query == "" {
		return available
	}

	ranked, err := g.searcher.SearchSimilar(ctx, query, len(available))
	if err != nil {
		g.logger.Debug("template ranking skipped", map[string]interface{}{"error": err.Error()})
		return available
	}

	seen := make(map[string]struct{}, len(ranked))
	ordered := make([]string, 0, len(available))
	for _, tmpl := range ranked {
		seen[tmpl.Name] = struct{}{}
		ordered = append(ordered, tmpl.Name)
	}
	for _, name := range available {
		if _, ok := seen[name]; !ok {
			ordered = append(ordered, name)
		}
	}
	return ordered
}

// parseResponse extracts the JSON object from the raw completion, repairing
// malformed JSON before validation. Models wrap output in fences or emit
// trailing commas often enough that repair is the norm, not the exception.
func (g *Generator) parseResponse(raw string, available []string) (*planDocument, error) {
	candidate := extractJSON(raw)

	doc, err := validatePlanJSON(candidate, available)
	if err == nil {
		return doc, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(candidate)
	if repairErr != nil {
		return nil, err
	}
	return validatePlanJSON(repaired, available)
}

// extractJSON strips markdown fences and anything outside the outermost
// object braces.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// applyHeuristics tempers an LLM plan with observed engagement: poor opens
// force the conservative strategy, poor replies widen the spacing. The step
// count never changes here.
func (g *Generator) applyHeuristics(plan *models.NurturePlan, summary *engagement.Summary) {
	if summary == nil || !summary.HasHistory {
		return
	}

	if summary.OpenRate < g.engCfg.MinOpenRate && plan.Strategy != models.StrategyConservative {
		g.logger.Info("forcing conservative strategy", map[string]interface{}{
			"openRate": summary.OpenRate,
			"was":      plan.Strategy,
		})
		plan.Strategy = models.StrategyConservative
	}

	if summary.ReplyRate < g.engCfg.MinReplyRate {
		multiplier := g.config.SpacingMultiplier
		if multiplier < 1 {
			multiplier = 1.5
		}
		for i := range plan.Steps {
			widened := int(math.Ceil(float64(plan.Steps[i].DaysAfterPrevious) * multiplier))
			if widened > plan.Steps[i].DaysAfterPrevious {
				plan.Steps[i].DaysAfterPrevious = widened
			}
		}
	}
}

// fallbackPlan is the deterministic single-step plan used whenever the LLM
// path yields nothing usable.
func (g *Generator) fallbackPlan(available []string) *models.NurturePlan {
	delay := g.config.FallbackDelayDays
	if delay <= 0 {
		delay = 7
	}
	preferred := g.config.FallbackTemplate
	if preferred == "" {
		preferred = models.GenericTemplateName
	}

	return &models.NurturePlan{
		Strategy:  models.StrategyConservative,
		Reasoning: "deterministic fallback plan",
		Steps: []models.PlanStep{
			{
				DaysAfterPrevious: delay,
				Channel:           models.ChannelEmail,
				TemplateName:      nearestTemplate(available, preferred),
			},
		},
	}
}

// nearestTemplate picks the fallback template name: the preferred name when
// available, else the first name containing "followup", else the first
// available name, else the preferred name anyway (the execution-time
// missing-template fallback covers it).
func nearestTemplate(available []string, preferred string) string {
	sorted := make([]string, len(available))
	copy(sorted, available)
	sort.Strings(sorted)

	for _, name := range sorted {
		if name == preferred {
			return name
		}
	}
	for _, name := range sorted {
		if strings.Contains(name, "followup") {
			return name
		}
	}
	if len(sorted) > 0 {
		return sorted[0]
	}
	return preferred
}
