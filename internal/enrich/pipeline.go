// Package enrich turns raw upstream results into canonical products.
package enrich

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joshdurbin/product-cache/internal/cachekey"
	"github.com/joshdurbin/product-cache/internal/domain"
	"github.com/joshdurbin/product-cache/internal/metrics"
	"github.com/joshdurbin/product-cache/internal/translate"
)

// Drop reasons reported by Process
const (
	DropNoTitle    = "no_title"
	DropNoLink     = "no_link"
	DropNoPrice    = "no_price"
	DropIrrelevant = "irrelevant"
	DropDuplicate  = "duplicate"
	DropTruncated  = "truncated"
)

// Report summarizes one Process call
type Report struct {
	Input        int
	Output       int
	Dropped      map[string]int
	Untranslated int
}

func (r *Report) drop(reason string) {
	r.Dropped[reason]++
}

// Pipeline enriches raw results: link, price, currency, relevance,
// de-duplication, truncation and translation, in that order
type Pipeline struct {
	policy     Policy
	translator translate.Translator
	logger     *zap.Logger
}

// New creates a pipeline
func New(policy Policy, translator translate.Translator, logger *zap.Logger) *Pipeline {
	if translator == nil {
		translator = translate.Identity{}
	}
	if policy.TranslateConcurrency <= 0 {
		policy.TranslateConcurrency = 1
	}
	policy.Categories = normalizeCategories(policy.Categories)
	return &Pipeline{
		policy:     policy,
		translator: translator,
		logger:     logger.Named("enrich"),
	}
}

// Process converts raws into at most maxResults products belonging to partition.
// Every returned product has a validated merchant link and a positive price.
func (p *Pipeline) Process(ctx context.Context, raws []domain.RawResult, partition string, maxResults int) ([]domain.Product, Report) {
	report := Report{Input: len(raws), Dropped: make(map[string]int)}
	rules := p.policy.Categories[categoryOf(partition)]

	products := make([]domain.Product, 0, len(raws))
	seenIDs := make(map[string]bool)
	seenTitles := make(map[string]bool)

	for _, raw := range raws {
		product, reason := p.convert(raw, partition)
		if reason != "" {
			report.drop(reason)
			continue
		}

		if !isRelevant(product.Title+" "+product.Description, rules) {
			report.drop(DropIrrelevant)
			continue
		}

		titleKey := cachekey.Normalize(product.Title)
		if seenIDs[product.ExternalID] || (titleKey != "" && seenTitles[titleKey]) {
			report.drop(DropDuplicate)
			continue
		}
		seenIDs[product.ExternalID] = true
		if titleKey != "" {
			seenTitles[titleKey] = true
		}

		products = append(products, product)
	}

	if maxResults > 0 && len(products) > maxResults {
		report.Dropped[DropTruncated] += len(products) - maxResults
		products = products[:maxResults]
	}

	report.Untranslated = p.translateAll(ctx, products)
	report.Output = len(products)

	for reason, n := range report.Dropped {
		metrics.RecordDropped(reason, n)
	}

	p.logger.Debug("enriched results",
		zap.String("partition", partition),
		zap.Int("input", report.Input),
		zap.Int("output", report.Output),
		zap.Any("dropped", report.Dropped),
		zap.Int("untranslated", report.Untranslated))

	return products, report
}

// convert maps one raw result to a product, or returns the reason it was dropped
func (p *Pipeline) convert(raw domain.RawResult, partition string) (domain.Product, string) {
	title := strings.TrimSpace(raw.Title)
	if title == "" {
		return domain.Product{}, DropNoTitle
	}

	link := extractLink(raw, p.policy.TrustedDomains, p.policy.RelaxedLinks)
	if link == "" {
		return domain.Product{}, DropNoLink
	}

	product := domain.Product{
		ExternalID:   externalID(raw, link, title),
		Title:        title,
		Description:  strings.TrimSpace(raw.Snippet),
		ImageURL:     raw.Thumbnail,
		MerchantLink: link,
		Source:       raw.Source,
		Category:     partition,
	}

	price, ok := extractPrice(raw.ExtractedPrice, raw.Price)
	if ok {
		product.Price = price
		product.OriginalPrice = extractOriginalPrice(raw, price)
	} else {
		placeholder, allowed := p.policy.placeholder()
		if !allowed {
			return domain.Product{}, DropNoPrice
		}
		product.Price = placeholder
		product.PriceSynthetic = true
	}

	product.Currency = inferCurrency(raw.Currency, p.policy.DefaultCurrency, raw.Price, raw.OldPrice)

	if raw.Rating != nil && *raw.Rating > 0 {
		product.Rating = *raw.Rating
	}
	if raw.Reviews != nil && *raw.Reviews > 0 {
		product.ReviewCount = *raw.Reviews
	}

	return product, ""
}

// translateAll fills in translated fields with bounded concurrency and
// returns how many products kept an untranslated title
func (p *Pipeline) translateAll(ctx context.Context, products []domain.Product) int {
	if len(products) == 0 {
		return 0
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.policy.TranslateConcurrency)

	for i := range products {
		product := &products[i]
		g.Go(func() error {
			if title, ok := p.translate(gctx, product.Title); ok {
				product.TitleTranslated = title
			}

			if product.Description != "" {
				if desc, ok := p.translate(gctx, product.Description); ok {
					product.DescriptionTranslated = desc
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	untranslated := 0
	for _, product := range products {
		if product.TitleTranslated == "" {
			untranslated++
		}
	}
	return untranslated
}

// translate returns the translation of text, or false when it failed or changed nothing
func (p *Pipeline) translate(ctx context.Context, text string) (string, bool) {
	out, err := p.translator.Translate(ctx, text, p.policy.SourceLanguage, p.policy.TargetLanguage)
	if err != nil {
		p.logger.Debug("translation failed, keeping source text", zap.Error(err))
		return "", false
	}
	out = strings.TrimSpace(out)
	if out == "" || out == text {
		return "", false
	}
	return out, true
}

// externalID returns the provider id, or a stable id derived from link and title
func externalID(raw domain.RawResult, link, title string) string {
	if id := strings.TrimSpace(raw.ProductID); id != "" {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(link+"|"+title)).String()
}

// isRelevant rejects text containing an excluded keyword, or missing every
// included keyword when any are configured
func isRelevant(text string, rules CategoryRules) bool {
	if len(rules.Include) == 0 && len(rules.Exclude) == 0 {
		return true
	}

	haystack := strings.ToLower(text)
	for _, kw := range rules.Exclude {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(haystack, kw) {
			return false
		}
	}

	if len(rules.Include) == 0 {
		return true
	}
	for _, kw := range rules.Include {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// normalizeCategories rekeys rules the way partitions name categories,
// merging rules whose names normalize to the same category
func normalizeCategories(categories map[string]CategoryRules) map[string]CategoryRules {
	if len(categories) == 0 {
		return categories
	}

	out := make(map[string]CategoryRules, len(categories))
	for name, rules := range categories {
		key := cachekey.NormalizeCategory(name)
		merged := out[key]
		merged.Include = append(merged.Include, rules.Include...)
		merged.Exclude = append(merged.Exclude, rules.Exclude...)
		out[key] = merged
	}
	return out
}

func categoryOf(partition string) string {
	category, _ := cachekey.SplitKey(partition)
	return category
}
