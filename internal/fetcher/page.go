package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spreadwatch/internal/market"
)

const (
	defaultPageBaseURL = "https://web3.okx.com/ru"
	defaultUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxPageBytes       = 4 << 20
)

var (
	// DefaultMinPrice and DefaultMaxPrice bound textual matches; both ends are exclusive.
	DefaultMinPrice = decimal.New(1, -6)
	DefaultMaxPrice = decimal.New(1, 6)

	// DefaultSelectors are tried in order against the token page.
	DefaultSelectors = []string{
		".token-price",
		".price-value",
		`[data-testid="token-price"]`,
		".token-price-value",
		".price",
		".token-info-price",
		".price-display",
	}

	numberRe     = regexp.MustCompile(`[\d,]+\.?\d*`)
	titlePriceRe = regexp.MustCompile(`\$([0-9,.]+)`)

	// DefaultPatterns scan raw page text after structured strategies fail.
	DefaultPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\$?(\d{1,3}(?:,\d{3})*(?:\.\d+)?)`),
		regexp.MustCompile(`(\d+\.\d+)`),
		regexp.MustCompile(`(\d+,\d+)`),
	}
)

// Page is a fetched token page.
type Page struct {
	Doc *goquery.Document
	Raw []byte
}

// Strategy extracts a price from a page. Strategies are tried in order; the first hit wins.
type Strategy interface {
	Name() string
	Extract(page Page) (decimal.Decimal, bool)
}

// SelectorStrategy reads the first element matching each CSS selector.
type SelectorStrategy struct {
	Selectors []string
}

func (s SelectorStrategy) Name() string { return "selector" }

func (s SelectorStrategy) Extract(page Page) (decimal.Decimal, bool) {
	for _, sel := range s.Selectors {
		node := page.Doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		text := strings.ReplaceAll(strings.TrimSpace(node.Text()), ",", "")
		match := numberRe.FindString(text)
		if match == "" {
			continue
		}
		if price, err := decimal.NewFromString(strings.TrimSuffix(match, ".")); err == nil && price.Sign() > 0 {
			return price, true
		}
	}
	return decimal.Decimal{}, false
}

// TitleStrategy reads a "$N" figure from the document title. Commas are treated as decimal separators.
type TitleStrategy struct{}

func (TitleStrategy) Name() string { return "title" }

func (TitleStrategy) Extract(page Page) (decimal.Decimal, bool) {
	title := page.Doc.Find("title").First().Text()
	m := titlePriceRe.FindStringSubmatch(title)
	if len(m) < 2 {
		return decimal.Decimal{}, false
	}
	raw := strings.TrimRight(strings.ReplaceAll(m[1], ",", "."), ".")
	price, err := decimal.NewFromString(raw)
	if err != nil || price.Sign() <= 0 {
		return decimal.Decimal{}, false
	}
	return price, true
}

// PatternStrategy scans raw text with regular expressions and keeps the first value inside (Min, Max).
type PatternStrategy struct {
	Patterns []*regexp.Regexp
	Min      decimal.Decimal
	Max      decimal.Decimal
}

func (p PatternStrategy) Name() string { return "pattern" }

func (p PatternStrategy) Extract(page Page) (decimal.Decimal, bool) {
	text := string(page.Raw)
	for _, re := range p.Patterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			candidate := m[0]
			if len(m) > 1 {
				candidate = m[1]
			}
			price, err := decimal.NewFromString(strings.ReplaceAll(candidate, ",", ""))
			if err != nil {
				continue
			}
			if price.GreaterThan(p.Min) && price.LessThan(p.Max) {
				return price, true
			}
		}
	}
	return decimal.Decimal{}, false
}

// DefaultStrategies returns selector, title, then pattern extraction.
func DefaultStrategies(minPrice, maxPrice decimal.Decimal) []Strategy {
	if minPrice.Sign() <= 0 {
		minPrice = DefaultMinPrice
	}
	if maxPrice.Sign() <= 0 {
		maxPrice = DefaultMaxPrice
	}
	return []Strategy{
		SelectorStrategy{Selectors: DefaultSelectors},
		TitleStrategy{},
		PatternStrategy{Patterns: DefaultPatterns, Min: minPrice, Max: maxPrice},
	}
}

// PageOptions parameterise the token page resolver.
type PageOptions struct {
	BaseURL    string
	Timeout    time.Duration
	UserAgent  string
	Strategies []Strategy
}

// PageResolver scrapes the DEX aggregator's public token page.
type PageResolver struct {
	opts    PageOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewPageResolver constructs a page resolver.
func NewPageResolver(opts PageOptions, logger zerolog.Logger) *PageResolver {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultPageBaseURL
	}
	if len(opts.Strategies) == 0 {
		opts.Strategies = DefaultStrategies(decimal.Decimal{}, decimal.Decimal{})
	}

	return &PageResolver{
		opts:    opts,
		logger:  logger.With().Str("component", "page_resolver").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// TokenURL returns the page for address on chain.
func (p *PageResolver) TokenURL(address string, chain market.Chain) string {
	return fmt.Sprintf("%s/token/%s/%s", p.baseURL, chain, address)
}

// Resolve fetches the token page and runs the extraction strategies.
func (p *PageResolver) Resolve(ctx context.Context, address string, chain market.Chain) (decimal.Decimal, error) {
	if address == "" {
		return decimal.Decimal{}, fmt.Errorf("token address required")
	}
	if chain == market.ChainUnknown {
		return decimal.Decimal{}, fmt.Errorf("chain required for %s", address)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.TokenURL(address, chain), nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	ua := strings.TrimSpace(p.opts.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.8,en-US;q=0.5,en;q=0.3")

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return decimal.Decimal{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("token page error (%d)", resp.StatusCode)
	}
	if len(raw) == 0 {
		return decimal.Decimal{}, ErrNoPrice
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse token page: %w", err)
	}

	page := Page{Doc: doc, Raw: raw}
	for _, strategy := range p.opts.Strategies {
		if price, ok := strategy.Extract(page); ok {
			p.logger.Debug().Str("address", address).
				Str("chain", string(chain)).
				Str("strategy", strategy.Name()).
				Str("price", price.String()).
				Msg("dex price extracted")
			return price, nil
		}
	}
	return decimal.Decimal{}, ErrNoPrice
}

var _ PriceResolver = (*PageResolver)(nil)
