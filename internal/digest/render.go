package digest

import (
	"fmt"

	"github.com/osteele/liquid"
)

// Renderer produces the HTML digest body from a set of selected entries,
// using a single fixed Liquid template rather than per-campaign cached
// templates.
type Renderer struct {
	engine *liquid.Engine
}

// NewRenderer builds a Renderer with the default Liquid engine.
func NewRenderer() *Renderer {
	return &Renderer{engine: liquid.NewEngine()}
}

const digestTemplate = `
<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{ run_type | capitalize }} Promo Digest — {{ digest_date }}</title></head>
<body>
  <h1>{{ run_type | capitalize }} Promo Digest</h1>
  <p>{{ entries.size }} offer(s) for {{ digest_date }}.</p>
  {% for entry in entries %}
  <div class="entry">
    <span class="badge">{{ entry.badge }}</span>
    <strong>{{ entry.store_name }}</strong> — {{ entry.headline }}
    {% if entry.discount_text %}<p>{{ entry.discount_text }}</p>{% endif %}
    {% if entry.code %}<p>Code: <code>{{ entry.code }}</code></p>{% endif %}
    {% if entry.landing_url %}<p><a href="{{ entry.landing_url }}">View offer</a></p>{% endif %}
    {% if entry.changes %}<p>Changes: {{ entry.changes | join: ", " }}</p>{% endif %}
  </div>
  {% endfor %}
</body>
</html>
`

// Render turns selected entries into a complete HTML document.
func (r *Renderer) Render(runType, digestDate string, entries []Entry) (string, error) {
	bindings := map[string]interface{}{
		"run_type":    runType,
		"digest_date": digestDate,
		"entries":     entryBindings(entries),
	}
	out, err := r.engine.ParseAndRenderString(digestTemplate, bindings)
	if err != nil {
		return "", fmt.Errorf("digest: render template: %w", err)
	}
	return out, nil
}

func entryBindings(entries []Entry) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		changeStrs := make([]string, 0, len(e.Changes))
		for _, c := range e.Changes {
			changeStrs = append(changeStrs, string(c))
		}
		out = append(out, map[string]interface{}{
			"badge":         string(e.Badge),
			"store_name":    e.StoreName,
			"headline":      e.Promo.Headline,
			"discount_text": e.Promo.DiscountText,
			"code":          e.Promo.Code,
			"landing_url":   e.Promo.LandingURL,
			"changes":       changeStrs,
		})
	}
	return out
}
