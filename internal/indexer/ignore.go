package indexer

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/openmined/fsindex/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is read from the watched root when present.
const IgnoreFileName = ".fsindexignore"

var defaultIgnoreLines = []string{
	".git/",
	IgnoreFileName,
}

// IgnoreList matches relative paths against gitignore style rules.
type IgnoreList struct {
	ignore *gitignore.GitIgnore
	rules  int
}

// NewIgnoreList compiles the default rules plus the given lines.
func NewIgnoreList(lines ...string) *IgnoreList {
	all := append(append([]string{}, defaultIgnoreLines...), lines...)
	return &IgnoreList{
		ignore: gitignore.CompileIgnoreLines(all...),
		rules:  len(all),
	}
}

// LoadIgnoreList reads path (usually root/.fsindexignore) on top of the
// default rules. A missing file yields the defaults only.
func LoadIgnoreList(path string, logger *slog.Logger) *IgnoreList {
	if !utils.FileExists(path) {
		return NewIgnoreList()
	}

	file, err := os.Open(path)
	if err != nil {
		logger.Warn("ignore file open", "path", path, "error", err)
		return NewIgnoreList()
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("ignore file read", "path", path, "error", err)
	} else {
		logger.Info("ignore file loaded", "path", path, "rules", len(lines))
	}

	return NewIgnoreList(lines...)
}

// ShouldIgnore reports whether relPath matches any rule.
func (l *IgnoreList) ShouldIgnore(relPath string) bool {
	if l == nil || l.ignore == nil {
		return false
	}
	return l.ignore.MatchesPath(filepath.ToSlash(relPath))
}

// Rules returns the number of compiled rules.
func (l *IgnoreList) Rules() int {
	return l.rules
}
