package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/sprig/v3"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/gsarma/mailer/internal/mail"
)

//go:embed templates/*.html
var templateFS embed.FS

const layoutFile = "templates/layout.html"

// templateFile maps every mail kind to its template source. Adding a kind to
// mail.Kinds without a case here fails TestTemplateFile_CoversAllKinds.
func templateFile(kind mail.Kind) (string, error) {
	switch kind {
	case mail.KindWelcome:
		return "templates/welcome.html", nil
	case mail.KindInvitation:
		return "templates/invitation.html", nil
	}
	return "", fmt.Errorf("%w: %q", mail.ErrUnsupportedMailKind, kind)
}

// Template sets are parsed once per process on first render and are read-only
// afterwards, so concurrent renders share them without locking.
var (
	loadOnce  sync.Once
	templates map[mail.Kind]*template.Template
	loadErr   error
)

// funcMap is the helper set available to every template: sprig plus our own.
func funcMap() template.FuncMap {
	funcs := sprig.FuncMap()
	funcs["formatDate"] = formatDate
	return funcs
}

func loadTemplates() (map[mail.Kind]*template.Template, error) {
	loadOnce.Do(func() {
		layout, err := template.New("layout").Funcs(funcMap()).ParseFS(templateFS, layoutFile)
		if err != nil {
			loadErr = fmt.Errorf("parse layout: %w", err)
			return
		}
		set := make(map[mail.Kind]*template.Template, len(mail.Kinds()))
		for _, kind := range mail.Kinds() {
			file, err := templateFile(kind)
			if err != nil {
				loadErr = err
				return
			}
			base, err := layout.Clone()
			if err != nil {
				loadErr = fmt.Errorf("clone layout for %s: %w", kind, err)
				return
			}
			t, err := base.ParseFS(templateFS, file)
			if err != nil {
				loadErr = fmt.Errorf("parse %s: %w", file, err)
				return
			}
			set[kind] = t
		}
		templates = set
	})
	return templates, loadErr
}

// Renderer renders mail kinds into complete HTML documents. Every substituted
// value is escaped by html/template.
type Renderer struct {
	baseURL string
	log     *zap.SugaredLogger
}

// NewRenderer creates a Renderer that injects baseURL as "baseUrl" into every render.
func NewRenderer(baseURL string, log *zap.SugaredLogger) *Renderer {
	return &Renderer{
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.Named("renderer"),
	}
}

// Render executes the template registered for kind. Markup problems in the
// output are logged, never returned.
func (r *Renderer) Render(kind mail.Kind, vars mail.Variables) (string, error) {
	if _, err := templateFile(kind); err != nil {
		return "", err
	}
	set, err := loadTemplates()
	if err != nil {
		return "", err
	}
	t, ok := set[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", mail.ErrUnsupportedMailKind, kind)
	}

	data := vars.Clone()
	data["baseUrl"] = r.baseURL

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", fmt.Errorf("execute %s template: %w", kind, err)
	}

	out := buf.String()
	for _, w := range checkMarkup(out) {
		r.log.Warnw("Rendered mail has markup issues", "kind", kind, "warning", w)
	}
	return out, nil
}

// voidElements never have a closing tag.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "source": true, "track": true, "wbr": true,
}

// checkMarkup reports unbalanced elements in doc.
func checkMarkup(doc string) []string {
	var (
		warnings []string
		stack    []string
	)
	z := html.NewTokenizer(strings.NewReader(doc))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			for i := len(stack) - 1; i >= 0; i-- {
				warnings = append(warnings, fmt.Sprintf("unclosed <%s>", stack[i]))
			}
			return warnings
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if !voidElements[tag] {
				stack = append(stack, tag)
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if len(stack) > 0 && stack[len(stack)-1] == tag {
				stack = stack[:len(stack)-1]
				continue
			}
			warnings = append(warnings, fmt.Sprintf("unexpected </%s>", tag))
		}
	}
}

// formatDate renders a time.Time or RFC 3339 string for humans; anything else
// is printed as-is.
func formatDate(v any) string {
	const layout = "January 2, 2006 at 15:04 MST"
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(layout)
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.UTC().Format(layout)
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed.UTC().Format(layout)
		}
		return t
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
