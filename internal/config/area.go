package config

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// AreaDefinition is one named storage area an installation's databases can
// place files under (the Data/LogicalLog/System path categories
// ultimately resolve into one of these).
type AreaDefinition struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
}

// areaFile is the on-disk shape of the area definition TOML file.
type areaFile struct {
	Area []AreaDefinition `toml:"area"`
}

// LoadAreaDefinitions reads the area/path definition file at path.
func LoadAreaDefinitions(path string) ([]AreaDefinition, error) {
	var f areaFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("config: decode area file %s: %w", path, err)
	}
	return f.Area, nil
}

// SetAreaPath updates (or appends) the path for the named area in the TOML
// file at path, preserving any commented-out entry and surrounding content
// exactly as written, rather than rewriting the whole file with a fresh
// encoder. Preserves comments when rewriting keys for
// config.yaml, applied to TOML's `key = "value"` syntax.
func SetAreaPath(path, name, newPath string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			content = []byte("")
		} else {
			return fmt.Errorf("config: read area file %s: %w", path, err)
		}
	}

	updated, err := updateAreaPathLine(string(content), name, newPath)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		return fmt.Errorf("config: write area file %s: %w", path, err)
	}
	return nil
}

// updateAreaPathLine finds the `path = "..."` line belonging to the
// `[[area]]` table whose name matches, and rewrites it in place (commented
// or not); if no matching block exists, a fresh `[[area]]` block is
// appended.
func updateAreaPathLine(content, name, newPath string) (string, error) {
	namePattern := regexp.MustCompile(`^\s*(#\s*)?name\s*=\s*"` + regexp.QuoteMeta(name) + `"\s*$`)
	pathPattern := regexp.MustCompile(`^(\s*)(#\s*)?path\s*=\s*".*"\s*$`)

	scanner := bufio.NewScanner(strings.NewReader(content))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	inMatchingBlock := false
	found := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "[[area]]") {
			inMatchingBlock = false
			continue
		}
		if namePattern.MatchString(line) {
			inMatchingBlock = true
			continue
		}
		if inMatchingBlock && pathPattern.MatchString(line) {
			indent := pathPattern.FindStringSubmatch(line)[1]
			lines[i] = fmt.Sprintf("%spath = %q", indent, newPath)
			found = true
			inMatchingBlock = false
		}
	}

	if !found {
		if len(lines) > 0 && lines[len(lines)-1] != "" {
			lines = append(lines, "")
		}
		lines = append(lines, "[[area]]", fmt.Sprintf("name = %q", name), fmt.Sprintf("path = %q", newPath))
	}

	return strings.Join(lines, "\n") + "\n", nil
}
