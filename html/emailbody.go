package html

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
)

// EmailData is what a body template is executed with. Templates refer to
// the user's values as {{ .Data.name }}.
type EmailData struct {
	Subject string
	Data    map[string]interface{}
}

// Render executes the template text tmp with ed and returns the HTML.
// Values are escaped according to their HTML context.
func Render(name, tmp string, ed EmailData) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(tmp)
	if err != nil {
		return "", fmt.Errorf("can't parse the body template %v: %v", name, err)
	}

	var str strings.Builder
	if err := tmpl.Execute(&str, ed); err != nil {
		return "", fmt.Errorf("can't populate the body template %v: %v", name, err)
	}
	return str.String(), nil
}

// RenderFile reads the template at path and renders it with ed.
func RenderFile(path string, ed EmailData) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("can't read the body template: %v", err)
	}
	return Render(filepath.Base(path), string(b), ed)
}
