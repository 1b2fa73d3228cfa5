package signalkey

import "testing"

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases host, strips query and fragment", "https://Nike.COM/Sale?x=1#y", "nike.com/Sale"},
		{"strips trailing slash", "https://example.com/sale/", "example.com/sale"},
		{"preserves path case", "https://example.com/Path/To/Page", "example.com/Path/To/Page"},
		{"invalid url falls back to trimmed input", "not a url", "not a url"},
		{"bare string with no host falls back", "just-text", "just-text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeURL(tt.in); got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOf(t *testing.T) {
	tests := []struct {
		name                                                 string
		canonicalURL, signalURL, metadataID, sourceType, slug string
		want                                                 string
	}{
		{"prefers canonical url", "https://a.com/x", "https://a.com/y", "id1", "rss", "a", "a.com/x"},
		{"falls back to signal url", "", "https://a.com/y", "id1", "rss", "a", "a.com/y"},
		{"falls back to metadata id", "", "", "id1", "rss", "a", "id:id1"},
		{"falls back to source type and store", "", "", "", "rss", "a", "rss:a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Of(tt.canonicalURL, tt.signalURL, tt.metadataID, tt.sourceType, tt.slug)
			if got != tt.want {
				t.Errorf("Of(...) = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessageIDIsStableAndTruncatesBodyHash(t *testing.T) {
	longHash := "0123456789abcdef0123456789abcdef"
	id1 := MessageID("nike", "nike.com/sale", longHash)
	id2 := MessageID("nike", "nike.com/sale", longHash)
	if id1 != id2 {
		t.Fatalf("MessageID should be deterministic, got %q and %q", id1, id2)
	}
	if len(id1) == 0 {
		t.Fatal("MessageID should not be empty")
	}
	other := MessageID("adidas", "nike.com/sale", longHash)
	if other == id1 {
		t.Fatal("MessageID should differ across stores")
	}
}

func TestBodyHashNormalizesWhitespaceAndCase(t *testing.T) {
	a := BodyHash("Hello   World")
	b := BodyHash("hello world")
	if a != b {
		t.Errorf("BodyHash should ignore case and whitespace, got %q != %q", a, b)
	}
	c := BodyHash("different text")
	if a == c {
		t.Error("BodyHash should differ for different content")
	}
}

func TestNormalizeText(t *testing.T) {
	if got := NormalizeText("  Hello   World  "); got != "hello world" {
		t.Errorf("NormalizeText() = %q, want %q", got, "hello world")
	}
}
