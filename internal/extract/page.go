package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ppiankov/kbpublish/internal/model"
)

// maxServices bounds how many service names are collected from a page
const maxServices = 25

// PageExtractor turns a crawled business homepage into CrawlData
type PageExtractor struct{}

// NewPageExtractor creates a new page extractor
func NewPageExtractor() *PageExtractor {
	return &PageExtractor{}
}

// Extract parses htmlContent fetched from sourceURL
func (e *PageExtractor) Extract(htmlContent string, sourceURL string) (*model.CrawlData, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(sourceURL)

	data := &model.CrawlData{
		SourceURL:   sourceURL,
		Title:       StripMarkup(doc.Find("title").First().Text()),
		Description: extractDescription(doc),
		Phone:       extractPhone(doc),
		Email:       extractEmail(doc),
		Address:     extractAddress(doc),
		Services:    extractServices(doc),
		SocialLinks: extractSocialLinks(doc, base),
	}

	return data, nil
}

// extractDescription prefers the meta description, then Open Graph, then the
// first substantial paragraph
func extractDescription(doc *goquery.Document) string {
	for _, sel := range []string{`meta[name="description"]`, `meta[property="og:description"]`} {
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			if text := StripMarkup(content); text != "" {
				return text
			}
		}
	}

	var desc string
	doc.Find("main p, article p, body p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := StripMarkup(s.Text())
		if len(text) >= 40 {
			desc = text
			return false
		}
		return true
	})
	return desc
}

func extractPhone(doc *goquery.Document) string {
	if href, ok := doc.Find(`a[href^="tel:"]`).First().Attr("href"); ok {
		return strings.TrimSpace(strings.TrimPrefix(href, "tel:"))
	}
	return strings.TrimSpace(doc.Find(`[itemprop="telephone"]`).First().Text())
}

func extractEmail(doc *goquery.Document) string {
	if href, ok := doc.Find(`a[href^="mailto:"]`).First().Attr("href"); ok {
		addr := strings.TrimPrefix(href, "mailto:")
		if idx := strings.Index(addr, "?"); idx >= 0 {
			addr = addr[:idx]
		}
		return strings.TrimSpace(addr)
	}
	return strings.TrimSpace(doc.Find(`[itemprop="email"]`).First().Text())
}

func extractAddress(doc *goquery.Document) string {
	if sel := doc.Find(`[itemprop="address"]`).First(); sel.Length() > 0 {
		return StripMarkup(sel.Text())
	}
	return StripMarkup(doc.Find("address").First().Text())
}

// extractServices collects list items from sections that look like a
// services or products listing
func extractServices(doc *goquery.Document) []string {
	var services []string

	doc.Find(`[itemprop="makesOffer"] [itemprop="name"], #services li, .services li, #products li, .products li`).Each(func(_ int, s *goquery.Selection) {
		services = append(services, StripMarkup(s.Text()))
	})

	// Headed lists: <h2>Our Services</h2><ul>...</ul>
	doc.Find("h2, h3").Each(func(_ int, h *goquery.Selection) {
		heading := strings.ToLower(h.Text())
		if !strings.Contains(heading, "service") && !strings.Contains(heading, "what we do") {
			return
		}
		h.NextAllFiltered("ul, ol").First().Find("li").Each(func(_ int, li *goquery.Selection) {
			services = append(services, StripMarkup(li.Text()))
		})
	})

	services = dedupe(services)
	if len(services) > maxServices {
		services = services[:maxServices]
	}
	return services
}

func extractSocialLinks(doc *goquery.Document, base *url.URL) []string {
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		resolved := resolveURL(base, strings.TrimSpace(href))
		if resolved != "" && isSocialLink(resolved) {
			links = append(links, resolved)
		}
	})
	return dedupe(links)
}
