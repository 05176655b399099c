package crawler

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"leasesync/internal/model"
)

// HTMLRule locates one field in a server-rendered detail page
type HTMLRule func(doc *goquery.Document) *string

// Text takes the text of the first element matching selector
func Text(selector string) HTMLRule {
	return func(doc *goquery.Document) *string {
		return clean(doc.Find(selector).First().Text())
	}
}

// Labeled finds the vehicle data cell whose text is exactly label and takes
// the text of the div that follows it
func Labeled(label string) HTMLRule {
	return func(doc *goquery.Document) *string {
		cell := doc.Find("div").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.Children().Length() == 0 && normalize(s.Text()) == label
		}).First()
		if cell.Length() == 0 {
			return nil
		}
		return clean(cell.NextAllFiltered("div").First().Text())
	}
}

// Marked finds the innermost element containing marker and keeps the text
// after the first colon ("Advertentienummer: 12345" -> "12345")
func Marked(marker string) HTMLRule {
	return func(doc *goquery.Document) *string {
		el := doc.Find("div, p, span").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.Children().Length() == 0 && strings.Contains(s.Text(), marker)
		}).First()
		if el.Length() == 0 {
			return nil
		}
		text := el.Text()
		if _, after, ok := strings.Cut(text, ":"); ok {
			text = after
		}
		return clean(text)
	}
}

// ListAfter joins the items of the first list following a heading that
// contains heading. An empty list yields nil.
func ListAfter(heading string) HTMLRule {
	return func(doc *goquery.Document) *string {
		h := doc.Find("h2, h3").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return strings.Contains(s.Text(), heading)
		}).First()
		if h.Length() == 0 {
			return nil
		}
		var items []string
		h.NextAllFiltered("ul").First().Find("li").Each(func(_ int, li *goquery.Selection) {
			if t := normalize(li.Text()); t != "" {
				items = append(items, t)
			}
		})
		return model.Str(strings.Join(items, ", "))
	}
}

// ImageSource names an attribute holding image references
type ImageSource struct {
	Selector string
	Attr     string
	Srcset   bool // value is a srcset candidate list
}

// DefaultHTMLFields is the field table for the catalog's detail markup
func DefaultHTMLFields() Fields[HTMLRule] {
	return Fields[HTMLRule]{
		Title:        Text("h1"),
		Subtitle:     Text(`p[class="type-auto-sm tablet:type-auto-m text-trustful-1"]`),
		LeasePrice:   Text(`div[data-testid="price-block"] h2`),
		LeaseTerm:    Text(`div[data-testid="price-block"] p:contains("mnd")`),
		AdNumber:     Marked("Advertentienummer"),
		Make:         Labeled("Merk"),
		Model:        Labeled("Model"),
		Year:         Labeled("Bouwjaar"),
		Mileage:      Labeled("Km stand"),
		Transmission: Labeled("Transmissie"),
		Price:        Labeled("Prijs"),
		Fuel:         Labeled("Brandstof"),
		VATMargin:    Labeled("Btw/marge"),
		Options:      ListAfter("Opties"),
		Address:      Text(`div.flex.justify-between > div > p`),
	}
}

// DefaultImageSources covers the gallery slider and <picture> fallbacks
var DefaultImageSources = []ImageSource{
	{Selector: "ul.swiper-wrapper img", Attr: "src"},
	{Selector: "picture source", Attr: "srcset", Srcset: true},
	{Selector: "picture img", Attr: "src"},
}

// HTMLMapper maps server-rendered detail markup
type HTMLMapper struct {
	Fields Fields[HTMLRule]
	Images []ImageSource
}

func NewHTMLMapper() *HTMLMapper {
	return &HTMLMapper{Fields: DefaultHTMLFields(), Images: DefaultImageSources}
}

func (m *HTMLMapper) Endpoint(pageURL string) string { return pageURL }

func (m *HTMLMapper) Map(pageURL string, body []byte) (*model.ListingRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	rec := &model.ListingRecord{URL: pageURL}
	m.Fields.fill(rec, func(rule HTMLRule) *string {
		if rule == nil {
			return nil
		}
		return rule(doc)
	})

	var raw []string
	for _, src := range m.Images {
		doc.Find(src.Selector).Each(func(_ int, s *goquery.Selection) {
			v, ok := s.Attr(src.Attr)
			if !ok {
				return
			}
			if src.Srcset {
				raw = append(raw, srcsetURLs(v)...)
				return
			}
			raw = append(raw, v)
		})
	}
	rec.Images = NormalizeImages(pageURL, raw)
	return rec, nil
}

func normalize(s string) string { return strings.Join(strings.Fields(s), " ") }
