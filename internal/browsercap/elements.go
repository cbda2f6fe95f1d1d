package browsercap

import "strconv"

// extractElementsJS collects visible interactive elements in document order:
// anchors, buttons, inputs, selects, textareas, ARIA button/checkbox/switch/
// link roles, elements with onclick handlers, and the common custom
// checkbox/toggle class patterns. Off-screen, zero-size and hidden elements
// are excluded. Each entry reports its tag, visible text, bounding-box
// center and a rough kind classification; ref token assignment happens in
// Go so every backend produces the same token scheme.
const extractElementsJS = `(function() {
	function visible(el) {
		var style = window.getComputedStyle(el);
		if (style.display === 'none' || style.visibility === 'hidden' || parseFloat(style.opacity) === 0) {
			return false;
		}
		var r = el.getBoundingClientRect();
		if (r.width <= 0 || r.height <= 0) return false;
		if (r.bottom < 0 || r.right < 0 || r.top > window.innerHeight || r.left > window.innerWidth) return false;
		return true;
	}

	function classify(el) {
		var tag = el.tagName.toLowerCase();
		var role = (el.getAttribute('role') || '').toLowerCase();
		if (tag === 'a' || role === 'link') return 'link';
		if (tag === 'button' || role === 'button') return 'button';
		if (tag === 'select') return 'select';
		if (tag === 'input') {
			var type = (el.getAttribute('type') || 'text').toLowerCase();
			if (type === 'checkbox' || type === 'radio') return 'checkbox';
			return 'input';
		}
		if (tag === 'textarea') return 'input';
		if (role === 'checkbox' || role === 'switch') return 'checkbox';
		var cls = el.className && el.className.toString ? el.className.toString() : '';
		if (/toggle|checkbox|switch/i.test(cls)) return 'checkbox';
		return 'other';
	}

	var selector = 'a, button, input, select, textarea, [role=button], [role=checkbox], ' +
		'[role=switch], [role=link], [onclick], ' +
		'[class*=toggle i], [class*=checkbox i], [class*=switch i]';
	var nodes = document.querySelectorAll(selector);
	var out = [];
	for (var i = 0; i < nodes.length; i++) {
		var el = nodes[i];
		if (!visible(el)) continue;
		var r = el.getBoundingClientRect();
		out.push({
			kind: classify(el),
			tag: el.tagName.toLowerCase(),
			text: (el.innerText || el.value || el.getAttribute('aria-label') || '').trim().slice(0, 120),
			center_x: r.left + r.width / 2,
			center_y: r.top + r.height / 2,
			width: r.width,
			height: r.height
		});
	}
	return JSON.stringify({
		elements: out,
		viewport_width: window.innerWidth,
		viewport_height: window.innerHeight
	});
})()`

type rawElement struct {
	Kind    string  `json:"kind"`
	Tag     string  `json:"tag"`
	Text    string  `json:"text"`
	CenterX float64 `json:"center_x"`
	CenterY float64 `json:"center_y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

type rawExtraction struct {
	Elements       []rawElement `json:"elements"`
	ViewportWidth  int          `json:"viewport_width"`
	ViewportHeight int          `json:"viewport_height"`
}

// refPrefix maps a classified kind to its token prefix. Anything that
// isn't one of the five named kinds gets "EL".
func refPrefix(kind ElementKind) string {
	switch kind {
	case ElementButton:
		return "BTN"
	case ElementInput:
		return "IN"
	case ElementLink:
		return "LNK"
	case ElementCheckbox:
		return "CHK"
	case ElementSelect:
		return "SEL"
	default:
		return "EL"
	}
}

// assignRefs walks elements in document order and assigns each a token
// scoped to its kind's own counter, so refs are deterministic for a given
// DOM regardless of how many other kinds of element precede it.
func assignRefs(raw rawExtraction) ElementSnapshot {
	counters := map[string]int{}
	out := make([]ElementRef, 0, len(raw.Elements))
	for _, e := range raw.Elements {
		kind := ElementKind(e.Kind)
		switch kind {
		case ElementButton, ElementInput, ElementLink, ElementCheckbox, ElementSelect:
		default:
			kind = ElementOther
		}
		prefix := refPrefix(kind)
		counters[prefix]++
		out = append(out, ElementRef{
			Ref:     prefix + strconv.Itoa(counters[prefix]),
			Kind:    kind,
			Tag:     e.Tag,
			Text:    e.Text,
			CenterX: e.CenterX,
			CenterY: e.CenterY,
			Width:   e.Width,
			Height:  e.Height,
		})
	}
	return ElementSnapshot{
		Elements:       out,
		ViewportWidth:  raw.ViewportWidth,
		ViewportHeight: raw.ViewportHeight,
	}
}
