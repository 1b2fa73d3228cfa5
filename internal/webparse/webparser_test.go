package webparse

import (
	"strings"
	"testing"
)

const samplePage = `
<html>
<head>
  <title>  Summer Sale  </title>
  <link rel="canonical" href="https://nike.com/sale">
</head>
<body>
  <nav>Home | Sale | Clearance</nav>
  <header>Nike</header>
  <h1>Big Summer Sale</h1>
  <p>Save up to 50% on select styles.</p>
  <a href="/sale/shoes">Shoes</a>
  <a href="/sale/shirts">Shirts</a>
  <a href="/sale/shoes">Shoes</a>
  <a href="mailto:help@nike.com">Email us</a>
  <a href="#top">Back to top</a>
  <script>var x = 1;</script>
  <footer>Copyright Nike</footer>
</body>
</html>
`

func TestParseExtractsTitleAndCanonical(t *testing.T) {
	p, err := Parse(samplePage)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if p.Title != "Summer Sale" {
		t.Errorf("Title = %q, want %q", p.Title, "Summer Sale")
	}
	if p.CanonicalURL != "https://nike.com/sale" {
		t.Errorf("CanonicalURL = %q", p.CanonicalURL)
	}
}

func TestParseStripsScriptStyleHeaderFooterNav(t *testing.T) {
	p, err := Parse(samplePage)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	for _, unwanted := range []string{"Copyright Nike", "var x = 1", "Home | Sale | Clearance"} {
		if strings.Contains(p.Text, unwanted) {
			t.Errorf("Text should not contain stripped content %q:\n%s", unwanted, p.Text)
		}
	}
	if !strings.Contains(p.Text, "Big Summer Sale") {
		t.Errorf("Text should retain body content:\n%s", p.Text)
	}
}

func TestParseDedupsLinksAndSkipsNonContentSchemes(t *testing.T) {
	p, err := Parse(samplePage)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(p.TopLinks) != 2 {
		t.Fatalf("expected 2 unique content links, got %d: %v", len(p.TopLinks), p.TopLinks)
	}
	for _, link := range p.TopLinks {
		if strings.HasPrefix(link, "mailto:") || strings.HasPrefix(link, "#") {
			t.Errorf("TopLinks should not include %q", link)
		}
	}
}

func TestParseCapsLinksAtMaxLinks(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < MaxLinks+5; i++ {
		b.WriteString(`<a href="/link`)
		b.WriteString(strings.Repeat("x", 1))
		b.WriteString("?n=")
		b.WriteString(string(rune('a' + i)))
		b.WriteString(`">link</a>`)
	}
	b.WriteString("</body></html>")

	p, err := Parse(b.String())
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(p.TopLinks) != MaxLinks {
		t.Errorf("expected links capped at %d, got %d", MaxLinks, len(p.TopLinks))
	}
}
