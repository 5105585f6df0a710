package dirstate

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lanhive/lanhive/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

// defaultExcludeLines are always in effect, even when the monitored root
// carries no .lanhiveignore file.
var defaultExcludeLines = []string{
	// lanhive bookkeeping
	".lanhiveignore",
	"**/*.lanhive-partial",
	"**/*.lanhive-conflict",
	"**/.lanhive-tmp-*",
	".lanhivekeep",
	// VCS / editor noise
	".git",
	".hg",
	".vscode",
	".idea",
	// OS noise
	".DS_Store",
	"Thumbs.db",
	// build/scratch noise
	"__pycache__/",
	"*.py[cod]",
	".ipynb_checkpoints/",
}

// ExcludeSet decides which relative paths are left out of a DirState
// snapshot and, by extension, out of sync entirely. Rules come from
// defaultExcludeLines plus an optional .lanhiveignore file at the root
// of the monitored directory, in gitignore syntax.
type ExcludeSet struct {
	rootDir string
	ignore  *gitignore.GitIgnore
}

// NewExcludeSet returns an ExcludeSet with only the built-in default rules
// loaded. Call Load to pick up a .lanhiveignore file.
func NewExcludeSet(rootDir string) *ExcludeSet {
	e := &ExcludeSet{rootDir: rootDir}
	e.ignore = gitignore.CompileIgnoreLines(defaultExcludeLines...)
	return e
}

// Load (re)reads .lanhiveignore from the root directory, if present, and
// recompiles the rule set from defaults plus its lines. Safe to call again
// after the ignore file changes.
func (e *ExcludeSet) Load() {
	ignorePath := filepath.Join(e.rootDir, ".lanhiveignore")
	lines := append([]string(nil), defaultExcludeLines...)

	if utils.FileExists(ignorePath) {
		file, err := os.Open(ignorePath)
		if err != nil {
			slog.Warn("failed to open exclude file", "path", ignorePath, "error", err)
			e.ignore = gitignore.CompileIgnoreLines(lines...)
			return
		}
		defer file.Close()

		rules := 0
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := scanner.Text()
			if line != "" {
				lines = append(lines, line)
				rules++
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Warn("error reading exclude file", "path", ignorePath, "error", err)
		} else {
			slog.Info("loaded exclude file", "path", ignorePath, "rules", rules)
		}
	}

	e.ignore = gitignore.CompileIgnoreLines(lines...)
}

// ShouldIgnore reports whether relPath (root-relative, forward-slashed)
// should be excluded from the DirState snapshot and from sync.
func (e *ExcludeSet) ShouldIgnore(relPath string) bool {
	return e.ignore.MatchesPath(relPath)
}
