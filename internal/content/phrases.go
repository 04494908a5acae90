package content

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
)

// phraseLogMu guards the recent-phrase log. Only the Content Generator
// within this process ever touches the file, so an in-process
// sync.RWMutex (readers share, the appender excludes) gives the same
// guarantee spec §3's "shared lock for reads, exclusive lock for
// writes" asks for without needing OS-level advisory locks.
var phraseLogMu sync.RWMutex

const maxRotatedPhrases = 500 // size cap before rotation, spec §3

func (g *Generator) phraseLogPath() string {
	return filepath.Join(g.paths.StateDir, "recent_phrases.log")
}

// readRecentPhrases returns the last RecentPhraseLimit lines of the
// phrase log, oldest first, used as negative context for script
// synthesis (spec §4.4 step 2).
func (g *Generator) readRecentPhrases() ([]string, error) {
	phraseLogMu.RLock()
	defer phraseLogMu.RUnlock()

	path := g.phraseLogPath()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("content: open phrase log: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("content: scan phrase log: %w", err)
	}

	limit := g.cfg.RecentPhraseLimit
	if limit <= 0 || len(lines) <= limit {
		return lines, nil
	}
	return lines[len(lines)-limit:], nil
}

// appendRecentPhrases appends newly-used phrases under exclusive lock,
// rotating the log if it grows past maxRotatedPhrases lines.
func (g *Generator) appendRecentPhrases(phrases []string) error {
	if len(phrases) == 0 {
		return nil
	}

	phraseLogMu.Lock()
	defer phraseLogMu.Unlock()

	path := g.phraseLogPath()
	existing, err := readAllLines(path)
	if err != nil {
		return fmt.Errorf("content: read phrase log for append: %w", err)
	}

	existing = append(existing, phrases...)
	if len(existing) > maxRotatedPhrases {
		existing = existing[len(existing)-maxRotatedPhrases:]
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("content: mkdir for phrase log: %w", err)
	}
	data := strings.Join(existing, "\n") + "\n"
	if err := renameio.WriteFile(path, []byte(data), 0o644); err != nil {
		return fmt.Errorf("content: write phrase log: %w", err)
	}
	return nil
}

func readAllLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// extractPhrases splits a generated script into sentence-ish chunks for
// the negative-context log.
func extractPhrases(script string) []string {
	var phrases []string
	for _, raw := range strings.FieldsFunc(script, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	}) {
		p := strings.TrimSpace(raw)
		if p != "" {
			phrases = append(phrases, p)
		}
	}
	return phrases
}
