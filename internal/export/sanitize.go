package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/clipforge/clipforge/internal/catalog"
)

func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')':
		return true
	default:
		return false
	}
}

// ValidateOutputDir requires an existing, clean directory path without
// traversal. Failures are validation errors.
func ValidateOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return catalog.Invalid("output_dir is required")
	}

	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return catalog.Invalid("output_dir cannot contain path traversal")
		}
	}

	if filepath.Clean(dir) != dir {
		return catalog.Invalid("output_dir must be a clean path")
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return catalog.Invalid("output_dir does not exist")
		}
		return catalog.Invalid("invalid output_dir: %v", err)
	}
	if !info.IsDir() {
		return catalog.Invalid("output_dir is not a directory")
	}
	return nil
}

// WriteFile writes content to dir under a sanitised name with ext, adding a
// numeric suffix instead of overwriting an existing file.
func WriteFile(dir, name, ext, content string) (string, error) {
	base := SanitizeName(name, 100)
	if base == "" {
		base = "timeline"
	}
	for i := 0; i < 1000; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)", base, i)
		}
		p := filepath.Join(dir, candidate+ext)
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.WriteString(content); err != nil {
			f.Close()
			return "", err
		}
		return p, f.Close()
	}
	return "", fmt.Errorf("no free file name for %s%s in %s", base, ext, dir)
}
