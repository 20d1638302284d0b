// Package parser extracts frontmatter metadata from markdown documents,
// falling back to path-based inference for project, type, and status.
package parser

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Metadata is the parsed frontmatter of a document. Fields left empty in
// the frontmatter are inferred from the path where possible.
type Metadata struct {
	Project string
	Type    string
	Status  string
	Updated string
	Owner   string
	Feature string
	Tags    []string
	// Raw holds the full frontmatter map, including unrecognized keys.
	Raw map[string]any
}

// folderTypeMap maps conventional folder names to document types.
var folderTypeMap = map[string]string{
	"tasks":      "task",
	"plans":      "plan",
	"sessions":   "session",
	"reports":    "report",
	"changelog":  "changelog",
	"references": "reference",
	"scratch":    "scratch",
	"assets":     "asset",
}

// statusPattern matches a "Status: <token>" line in a task body.
var statusPattern = regexp.MustCompile(`(?im)^Status:\s*(\S+)`)

// Parse extracts frontmatter from content and returns the metadata plus
// the body with the frontmatter block removed. relPath is the
// workspace-relative path used for inference (e.g. "project/tasks/001-foo.md").
// Invalid frontmatter is non-fatal: the block is treated as absent.
func Parse(content, relPath string) (Metadata, string) {
	var meta Metadata
	body := content

	if strings.HasPrefix(content, "---") {
		parts := strings.SplitN(content, "---", 3)
		if len(parts) == 3 {
			var raw map[string]any
			if err := yaml.Unmarshal([]byte(parts[1]), &raw); err != nil {
				slog.Debug("invalid frontmatter",
					slog.String("path", relPath),
					slog.String("error", err.Error()))
			} else if raw != nil {
				meta.Raw = raw
				meta.Project = stringValue(raw["project"])
				meta.Type = stringValue(raw["type"])
				meta.Status = stringValue(raw["status"])
				meta.Updated = stringValue(raw["updated"])
				meta.Owner = stringValue(raw["owner"])
				meta.Feature = stringValue(raw["feature"])
				meta.Tags = stringSlice(raw["tags"])
				body = strings.TrimLeft(parts[2], "\n")
			}
		}
	}

	inferFromPath(&meta, relPath)

	if meta.Type == "task" && meta.Status == "" {
		scan := body
		if scan == "" {
			scan = content
		}
		if m := statusPattern.FindStringSubmatch(scan); m != nil {
			meta.Status = strings.ToLower(m[1])
		}
	}

	return meta, body
}

// StripFrontmatter removes the frontmatter block from content, if present.
func StripFrontmatter(content string) string {
	if strings.HasPrefix(content, "---") {
		parts := strings.SplitN(content, "---", 3)
		if len(parts) == 3 {
			return strings.TrimLeft(parts[2], "\n")
		}
	}
	return content
}

func inferFromPath(meta *Metadata, relPath string) {
	parts := strings.Split(filepathToSlash(relPath), "/")
	if len(parts) < 2 {
		return
	}

	if meta.Project == "" {
		meta.Project = parts[0]
	}

	second := parts[1]
	if !strings.HasSuffix(second, ".md") {
		if meta.Type == "" {
			if t, ok := folderTypeMap[second]; ok {
				meta.Type = t
			}
		}
	} else if second == "status.md" && meta.Type == "" {
		meta.Type = "status"
	}
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, stringValue(item))
	}
	return out
}
