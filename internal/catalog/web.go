package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/ndbmedicine/internal/core"
	"golang.org/x/net/html"
	"golang.org/x/text/width"
)

var (
	roundLinkPattern    = regexp.MustCompile(`第\s*(\d+)\s*回\s*NDBオープンデータ`)
	drugSectionPattern  = regexp.MustCompile(`処方薬|薬剤`)
	quantityLinkKeyword = "薬効分類別数量"
	dentalSection       = "歯科"
)

// WebCatalog scrapes the MHLW NDB open data pages.
//
// The top page links to one page per round. On each round page the
// prescription section starts at an h3 mentioning 処方薬 or 薬剤 and runs
// to the next h3; h4 headings inside it name the dosage form.
type WebCatalog struct {
	TopURL    string
	Client    *http.Client
	UserAgent string

	// Interval is the pause between round page requests.
	Interval time.Duration
}

// NewWebCatalog returns a catalog reading topURL with client.
func NewWebCatalog(topURL string, client *http.Client, userAgent string, interval time.Duration) *WebCatalog {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &WebCatalog{TopURL: topURL, Client: client, UserAgent: userAgent, Interval: interval}
}

// Resolve implements Catalog. Only round pages that can satisfy the round
// and year filters are fetched.
func (w *WebCatalog) Resolve(ctx context.Context, c core.ExtractionCriteria) ([]SourceFile, error) {
	pages, err := w.RoundPages(ctx)
	if err != nil {
		return nil, err
	}

	var files []SourceFile
	first := true
	for _, round := range slices.Sorted(maps.Keys(pages)) {
		if !roundWanted(round, c) {
			continue
		}
		if !first {
			if err := sleep(ctx, w.Interval); err != nil {
				return nil, err
			}
		}
		first = false

		found, err := w.RoundFiles(ctx, round, pages[round])
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}

	Sort(files)
	return Filter(files, c), nil
}

// RoundPages returns the page URL of every round linked from the top page.
func (w *WebCatalog) RoundPages(ctx context.Context) (map[core.Round]string, error) {
	doc, base, err := w.get(ctx, w.TopURL)
	if err != nil {
		return nil, err
	}

	pages := make(map[core.Round]string)
	for n := range doc.Descendants() {
		if !isElement(n, "a") {
			continue
		}
		m := roundLinkPattern.FindStringSubmatch(width.Fold.String(textOf(n)))
		if m == nil {
			continue
		}
		href, ok := resolveHref(base, n)
		if !ok {
			continue
		}
		round, _ := strconv.Atoi(m[1])
		pages[core.Round(round)] = href
	}

	if len(pages) == 0 {
		return nil, &core.RetrievalError{Location: w.TopURL, Err: fmt.Errorf("no round pages linked")}
	}
	return pages, nil
}

// RoundFiles lists the quantity workbooks published on one round page.
func (w *WebCatalog) RoundFiles(ctx context.Context, round core.Round, pageURL string) ([]SourceFile, error) {
	doc, base, err := w.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	var nodes []*html.Node
	start := -1
	for n := range doc.Descendants() {
		if isElement(n, "h3") || isElement(n, "h4") || isElement(n, "a") {
			if start < 0 && isElement(n, "h3") && drugSectionPattern.MatchString(textOf(n)) {
				start = len(nodes)
			}
			nodes = append(nodes, n)
		}
	}
	if start < 0 {
		return nil, &core.RetrievalError{Location: pageURL, Err: fmt.Errorf("prescription section not found")}
	}

	var (
		files   []SourceFile
		section string
	)
	for _, n := range nodes[start+1:] {
		switch {
		case isElement(n, "h3"):
			return files, nil
		case isElement(n, "h4"):
			section = strings.TrimSpace(textOf(n))
			continue
		}

		name := textOf(n)
		if !strings.Contains(name, quantityLinkKeyword) {
			continue
		}
		dosage, ok := dosageFor(section, name)
		if !ok {
			continue
		}
		layout := core.FindLayoutKind(name)
		if layout == 0 {
			slog.Debug("skipping link without layout", "round", int(round), "text", name)
			continue
		}
		href, ok := resolveHref(base, n)
		if !ok {
			continue
		}

		files = append(files, SourceFile{
			Round:       round,
			DosageForm:  dosage,
			CareSetting: core.FindCareSetting(name),
			Layout:      layout,
			Location:    href,
		})
	}
	return files, nil
}

// dosageFor derives the dosage form of a link from its h4 section, or from
// the link text itself on round 1 pages, which have no h4 sections. Medical
// (医科) and dental oral links are not dosage-form files and are skipped.
func dosageFor(section, name string) (core.DosageForm, bool) {
	if section != "" {
		if d, err := core.ParseDosageForm(section); err == nil {
			return d, true
		}
		if core.FoldKey(section) == dentalSection && strings.Contains(name, core.DosageDental.Label()) {
			return core.DosageDental, true
		}
		return 0, false
	}

	prefix := []rune(strings.TrimSpace(name))
	if len(prefix) < 2 {
		return 0, false
	}
	for _, d := range core.DosageForms() {
		if string(prefix[:2]) == d.Label() {
			return d, true
		}
	}
	return 0, false
}

func (w *WebCatalog) get(ctx context.Context, rawURL string) (*html.Node, *url.URL, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, &core.RetrievalError{Location: rawURL, Err: err}
	}

	body, err := httpGet(ctx, w.Client, w.UserAgent, rawURL)
	if err != nil {
		return nil, nil, err
	}
	defer body.Close()

	doc, err := html.Parse(io.LimitReader(body, maxPageBytes))
	if err != nil {
		return nil, nil, &core.RetrievalError{Location: rawURL, Err: fmt.Errorf("parse html: %w", err)}
	}
	return doc, base, nil
}

const maxPageBytes = 8 << 20

// httpGet issues a GET and returns the body of a 200 response. Failures are
// *core.RetrievalError.
func httpGet(ctx context.Context, client *http.Client, userAgent, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &core.RetrievalError{Location: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, &core.RetrievalError{Location: rawURL, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &core.RetrievalError{Location: rawURL, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return resp.Body, nil
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

func textOf(n *html.Node) string {
	var b strings.Builder
	for d := range n.Descendants() {
		if d.Type == html.TextNode {
			b.WriteString(d.Data)
		}
	}
	return b.String()
}

func resolveHref(base *url.URL, n *html.Node) (string, bool) {
	for _, a := range n.Attr {
		if a.Key != "href" || strings.TrimSpace(a.Val) == "" {
			continue
		}
		ref, err := url.Parse(strings.TrimSpace(a.Val))
		if err != nil {
			return "", false
		}
		return base.ResolveReference(ref).String(), true
	}
	return "", false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
