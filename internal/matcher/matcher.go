// Package matcher maps raw source rows to catalog products. Stable
// identifiers win over fuzzy matching; fuzzy needs both a brand match and a
// high token overlap on the normalized name.
package matcher

import (
	"context"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"solescan/internal/faults"
	"solescan/internal/models"
	"solescan/internal/repository"
)

const jaccardThreshold = 0.85

// Row carries the identity fields a source row may provide. Any subset is
// enough to attempt a match.
type Row struct {
	PlatformID string
	EAN        string
	GTIN       string
	StyleCode  string
	Name       string
	Brand      string
}

// Result names the product and which rule found it.
type Result struct {
	ProductID string
	Rule      string
}

// Match rules, in precedence order.
const (
	RulePlatformID = "platform_id"
	RuleEAN        = "ean"
	RuleGTIN       = "gtin"
	RuleStyleCode  = "style_code"
	RuleFuzzy      = "fuzzy"
)

// Matcher keeps an in-memory index over the catalog, refreshed on an
// interval so per-row lookups stay O(1)-ish at catalog scale.
type Matcher struct {
	Repo            repository.Repository
	Logger          *zap.Logger
	RefreshInterval time.Duration

	mu          sync.RWMutex
	idx         *index
	refreshedAt time.Time
}

type index struct {
	byPlatform map[string][]string
	byEAN      map[string][]string
	byGTIN     map[string][]string
	byStyle    map[string][]string

	products []productEntry
	brands   *brandIndex
}

type productEntry struct {
	id             string
	brandID        string
	tokens         map[string]struct{}
	lastEnrichedAt time.Time
}

type brandIndex struct {
	byNorm   map[string]string
	patterns []brandPattern
}

type brandPattern struct {
	re      *regexp.Regexp
	brandID string
}

// Match resolves a raw row to a product id. A nil result with nil error
// means no rule produced a match. Multiple products behind one stable id is
// a data fault: the row is skipped, never guessed.
func (m *Matcher) Match(ctx context.Context, source string, row Row) (*Result, error) {
	idx, err := m.ensureIndex(ctx)
	if err != nil {
		return nil, err
	}

	if key := platformKey(source, row.PlatformID); key != "" {
		if res, err := singleHit(idx.byPlatform, key, RulePlatformID); res != nil || err != nil {
			return res, err
		}
	}
	if ean := normalizeDigits(row.EAN); ean != "" {
		if res, err := singleHit(idx.byEAN, ean, RuleEAN); res != nil || err != nil {
			return res, err
		}
	}
	if gtin := normalizeDigits(row.GTIN); gtin != "" {
		if res, err := singleHit(idx.byGTIN, gtin, RuleGTIN); res != nil || err != nil {
			return res, err
		}
	}
	if style := NormalizeStyleCode(row.StyleCode); style != "" {
		if res, err := singleHit(idx.byStyle, style, RuleStyleCode); res != nil || err != nil {
			return res, err
		}
	}
	return m.fuzzy(idx, row), nil
}

func singleHit(table map[string][]string, key, rule string) (*Result, error) {
	ids := table[key]
	switch len(ids) {
	case 0:
		return nil, nil
	case 1:
		return &Result{ProductID: ids[0], Rule: rule}, nil
	default:
		return nil, faults.New(faults.DataIntegrity,
			"%s %q maps to %d products", rule, key, len(ids))
	}
}

func (m *Matcher) fuzzy(idx *index, row Row) *Result {
	tokens := Tokenize(row.Name)
	if len(tokens) == 0 {
		return nil
	}
	brandID := idx.brands.resolve(row.Brand)
	if brandID == "" {
		return nil
	}

	var best *productEntry
	bestScore := 0.0
	for i := range idx.products {
		p := &idx.products[i]
		if p.brandID != brandID {
			continue
		}
		score := jaccard(tokens, p.tokens)
		if score < jaccardThreshold {
			continue
		}
		// Ties go to the most recently enriched product.
		if best == nil || score > bestScore ||
			(score == bestScore && p.lastEnrichedAt.After(best.lastEnrichedAt)) {
			best = p
			bestScore = score
		}
	}
	if best == nil {
		return nil
	}
	return &Result{ProductID: best.id, Rule: RuleFuzzy}
}

func (b *brandIndex) resolve(raw string) string {
	if b == nil {
		return ""
	}
	norm := NormalizeBrand(raw)
	if norm == "" {
		return ""
	}
	if id, ok := b.byNorm[norm]; ok {
		return id
	}
	for _, p := range b.patterns {
		if p.re.MatchString(norm) {
			return p.brandID
		}
	}
	return ""
}

// Run refreshes the index on the configured interval until ctx ends.
func (m *Matcher) Run(ctx context.Context) error {
	interval := m.RefreshInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if _, err := m.ensureIndex(ctx); err != nil && m.Logger != nil {
		m.Logger.Warn("initial matcher index build failed", zap.Error(err))
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := m.Refresh(ctx); err != nil && m.Logger != nil {
				m.Logger.Warn("matcher index refresh failed", zap.Error(err))
			}
		}
	}
}

func (m *Matcher) ensureIndex(ctx context.Context) (*index, error) {
	m.mu.RLock()
	idx := m.idx
	m.mu.RUnlock()
	if idx != nil {
		return idx, nil
	}
	if err := m.Refresh(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idx, nil
}

// Refresh rebuilds the whole index from the catalog tables.
func (m *Matcher) Refresh(ctx context.Context) error {
	rows, err := m.Repo.ListProductsForMatching(ctx)
	if err != nil {
		return faults.Wrap(faults.Storage, err, "list products for matching")
	}
	refs, err := m.Repo.ListPlatformRefs(ctx)
	if err != nil {
		return faults.Wrap(faults.Storage, err, "list platform refs")
	}
	brands, err := m.Repo.ListBrands(ctx)
	if err != nil {
		return faults.Wrap(faults.Storage, err, "list brands")
	}

	idx := &index{
		byPlatform: map[string][]string{},
		byEAN:      map[string][]string{},
		byGTIN:     map[string][]string{},
		byStyle:    map[string][]string{},
		brands:     buildBrandIndex(brands, m.Logger),
	}
	for _, ref := range refs {
		key := platformKey(ref.Source, ref.ExternalID)
		if key == "" {
			continue
		}
		idx.byPlatform[key] = append(idx.byPlatform[key], ref.ProductID)
	}
	for _, row := range rows {
		if row.EAN != nil {
			if ean := normalizeDigits(*row.EAN); ean != "" {
				idx.byEAN[ean] = append(idx.byEAN[ean], row.ID)
			}
		}
		if row.GTIN != nil {
			if gtin := normalizeDigits(*row.GTIN); gtin != "" {
				idx.byGTIN[gtin] = append(idx.byGTIN[gtin], row.ID)
			}
		}
		if row.NormStyle != nil && *row.NormStyle != "" {
			idx.byStyle[*row.NormStyle] = append(idx.byStyle[*row.NormStyle], row.ID)
		}
		entry := productEntry{id: row.ID, tokens: Tokenize(row.Name)}
		if row.BrandID != nil {
			entry.brandID = *row.BrandID
		}
		if row.LastEnrichedAt != nil {
			entry.lastEnrichedAt = *row.LastEnrichedAt
		}
		idx.products = append(idx.products, entry)
	}

	m.mu.Lock()
	m.idx = idx
	m.refreshedAt = time.Now().UTC()
	m.mu.Unlock()
	if m.Logger != nil {
		m.Logger.Debug("matcher index refreshed",
			zap.Int("products", len(idx.products)),
			zap.Int("platform_refs", len(idx.byPlatform)))
	}
	return nil
}

func buildBrandIndex(brands []models.Brand, logger *zap.Logger) *brandIndex {
	idx := &brandIndex{byNorm: map[string]string{}}
	for _, b := range brands {
		idx.byNorm[b.NormName] = b.ID
		for _, raw := range decodePatterns(b.AltPatterns) {
			re, err := regexp.Compile(raw)
			if err != nil {
				if logger != nil {
					logger.Warn("brand alt pattern compile failed",
						zap.String("brand", b.Name), zap.String("pattern", raw), zap.Error(err))
				}
				continue
			}
			idx.patterns = append(idx.patterns, brandPattern{re: re, brandID: b.ID})
		}
	}
	return idx
}
