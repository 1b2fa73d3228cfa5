package webparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// MaxProductSamples caps how many product cards the summary reports.
const MaxProductSamples = 10

// Product is one parsed product card from a sale/clearance page.
type Product struct {
	Name            string
	OriginalPrice   float64
	SalePrice       float64
	DiscountPercent float64
}

// SaleSummary is the compact structured summary produced for category
// pages recognized as sale/clearance/outlet listings.
type SaleSummary struct {
	Banners      []string
	Products     []Product
	MinDiscount  float64
	MaxDiscount  float64
	Breadcrumbs  []string
}

var priceRe = regexp.MustCompile(`[-+]?[\d,]+\.?\d*`)

var originalClassRe = regexp.MustCompile(`(?i)original|compare|was|old`)
var saleClassRe = regexp.MustCompile(`(?i)sale|current|now|discount`)

// productCardSelectors are candidate containers for one product in a
// category/sale grid; the first selector that matches anything wins.
var productCardSelectors = []string{
	".product", ".product-card", ".product-item", "[data-product-id]", ".item",
}

// ParseSalePage extracts banners, product samples with prices, the observed
// discount range, and breadcrumbs from a sale/clearance/outlet HTML page.
func ParseSalePage(html string) (SaleSummary, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return SaleSummary{}, err
	}
	doc.Find("script, style, noscript, header, footer, nav").Remove()

	summary := SaleSummary{
		Banners:     extractBanners(doc),
		Breadcrumbs: extractBreadcrumbs(doc),
	}

	cards := findProductCards(doc)
	var minPct, maxPct float64
	haveDiscount := false

	for _, card := range cards {
		if len(summary.Products) >= MaxProductSamples {
			break
		}
		prod, ok := parseProductCard(card)
		if !ok {
			continue
		}
		summary.Products = append(summary.Products, prod)
		if prod.DiscountPercent > 0 {
			if !haveDiscount || prod.DiscountPercent < minPct {
				minPct = prod.DiscountPercent
			}
			if !haveDiscount || prod.DiscountPercent > maxPct {
				maxPct = prod.DiscountPercent
			}
			haveDiscount = true
		}
	}
	summary.MinDiscount = minPct
	summary.MaxDiscount = maxPct
	return summary, nil
}

func extractBanners(doc *goquery.Document) []string {
	var banners []string
	doc.Find("h1, .hero, .banner").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text != "" {
			banners = append(banners, text)
		}
	})
	return banners
}

func extractBreadcrumbs(doc *goquery.Document) []string {
	var crumbs []string
	doc.Find(".breadcrumb, .breadcrumbs, [aria-label=breadcrumb]").First().Find("a, span").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text != "" {
			crumbs = append(crumbs, text)
		}
	})
	return crumbs
}

func findProductCards(doc *goquery.Document) []*goquery.Selection {
	for _, sel := range productCardSelectors {
		found := doc.Find(sel)
		if found.Length() > 0 {
			var cards []*goquery.Selection
			found.Each(func(_ int, s *goquery.Selection) { cards = append(cards, s) })
			return cards
		}
	}
	return nil
}

// parseProductCard extracts {name, original_price, sale_price,
// discount_percent} from one product card. It prefers elements labeled by
// class (original|compare|was|old vs sale|current|now|discount) or
// <s>/<del> for originals; when labels are missing it treats the min of
// ≥2 observed prices as sale and the max as original.
func parseProductCard(card *goquery.Selection) (Product, bool) {
	name := strings.TrimSpace(card.Find(".name, .product-name, .title, h2, h3").First().Text())
	if name == "" {
		name = strings.TrimSpace(card.Find("a").First().Text())
	}

	var original, sale float64
	haveOriginal, haveSale := false, false
	var allPrices []float64

	card.Find("*").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Length() > 0 {
			return
		}
		text := strings.TrimSpace(s.Text())
		price, ok := parsePrice(text)
		if !ok {
			return
		}
		allPrices = append(allPrices, price)

		class, _ := s.Attr("class")
		tag := goquery.NodeName(s)
		switch {
		case tag == "del" || tag == "s" || originalClassRe.MatchString(class):
			original, haveOriginal = price, true
		case tag == "ins" || saleClassRe.MatchString(class):
			sale, haveSale = price, true
		}
	})

	if !haveOriginal && !haveSale && len(allPrices) >= 2 {
		min, max := allPrices[0], allPrices[0]
		for _, p := range allPrices[1:] {
			if p < min {
				min = p
			}
			if p > max {
				max = p
			}
		}
		sale, original, haveSale, haveOriginal = min, max, true, true
	}

	if name == "" || !haveSale {
		return Product{}, false
	}

	prod := Product{Name: name, SalePrice: sale, OriginalPrice: original}
	if haveOriginal && original > 0 && original > sale {
		prod.DiscountPercent = (original - sale) / original * 100
	}
	return prod, true
}

func parsePrice(text string) (float64, bool) {
	if !strings.Contains(text, "$") && !regexp.MustCompile(`\d`).MatchString(text) {
		return 0, false
	}
	match := priceRe.FindString(text)
	if match == "" {
		return 0, false
	}
	match = strings.ReplaceAll(match, ",", "")
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// FormatPrice renders a float as a "$12.34"-shaped string for summaries.
func FormatPrice(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}
