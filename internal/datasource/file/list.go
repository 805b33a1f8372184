package file

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ReadList reads a partition list file: one name per line, in order. Text
// after '#' is a comment and blank lines are skipped. A name listed twice is
// an error naming both lines.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read list %s: %w", path, err)
	}
	defer f.Close()

	var (
		out  []string
		seen = map[string]int{}
		line int
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line++
		name, _, _ := strings.Cut(sc.Text(), "#")
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		if first, dup := seen[name]; dup {
			return nil, fmt.Errorf("read list %s:%d: %s already listed on line %d", path, line, name, first)
		}
		seen[name] = line
		out = append(out, name)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read list %s: %w", path, err)
	}
	return out, nil
}
