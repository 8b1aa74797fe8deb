package util

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"
)

// placeholder matches {key} and {key?} where key may carry a scope prefix.
var placeholder = regexp.MustCompile(`\{((?:app:|user:|temp:)?[A-Za-z_][A-Za-z0-9_]*)(\?)?\}`)

// RenderTemplate injects state into an instruction.
//
// Text containing "{{" is executed as a text/template with the state as dot;
// the "state" func reads prefixed keys ({{state "user:name"}}). Otherwise
// single-brace placeholders are substituted: {key} fails when key is absent,
// {key?} renders empty.
func RenderTemplate(text string, state map[string]any) (string, error) {
	if strings.Contains(text, "{{") {
		return renderGoTemplate(text, state)
	}

	if !strings.Contains(text, "{") {
		return text, nil
	}

	var missing []string

	out := placeholder.ReplaceAllStringFunc(text, func(m string) string {
		sub := placeholder.FindStringSubmatch(m)
		key, optional := sub[1], sub[2] == "?"

		v, ok := state[key]
		if !ok {
			if !optional {
				missing = append(missing, key)
			}
			return ""
		}

		return fmt.Sprint(v)
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("instruction references missing state keys: %s", strings.Join(missing, ", "))
	}

	return out, nil
}

func renderGoTemplate(text string, state map[string]any) (string, error) {
	tmpl, err := template.New("instruction").Option("missingkey=zero").Funcs(template.FuncMap{
		"state": func(key string) any { return state[key] },
		"default": func(defaultVal any, val any) any {
			if val == nil || val == "" {
				return defaultVal
			}
			return val
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"join": func(sep string, items []any) string {
			strItems := make([]string, len(items))
			for i, item := range items {
				strItems[i] = fmt.Sprintf("%v", item)
			}
			return strings.Join(strItems, sep)
		},
	}).Parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, state); err != nil {
		return "", err
	}

	return buf.String(), nil
}
