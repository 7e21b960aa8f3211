package sync

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/kvsync/kvsync/internal/manifest"
)

// IgnoreFileName is the default ignore file, read from the asset root and
// from its parent directory.
const IgnoreFileName = ".kvignore"

// defaultIgnoreLines are always active, before any .kvignore rules.
var defaultIgnoreLines = []string{
	// version control
	".git/",
	".svn/",
	".hg/",

	// os noise
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",

	// editor and build leftovers
	"*.tmp",
	"*.swp",
	"*.bak",
	"~$*",
	"node_modules/",

	// kvsync's own files
	IgnoreFileName,
	manifest.DefaultFileName,
	"*.kvsm.lock",
}

// Ignore decides which paths under the asset root take part in a sync.
// Rules follow gitignore syntax. Defaults apply first, then the ignore file
// in the root's parent directory, then the root's own file, so nearer rules
// win and "!" can re-include defaults.
type Ignore struct {
	rootDir  string
	fileName string

	mu      sync.RWMutex
	matcher *gitignore.GitIgnore
}

// NewIgnore builds the matcher for rootDir, loading .kvignore files if
// present.
func NewIgnore(rootDir string) *Ignore {
	return NewIgnoreFile(rootDir, IgnoreFileName)
}

// NewIgnoreFile is NewIgnore with a custom ignore file name.
func NewIgnoreFile(rootDir, fileName string) *Ignore {
	if fileName == "" {
		fileName = IgnoreFileName
	}
	ig := &Ignore{rootDir: rootDir, fileName: fileName}
	ig.Load()
	return ig
}

// Load re-reads the ignore files and rebuilds the matcher.
// Missing files leave only the defaults active.
func (ig *Ignore) Load() {
	lines := make([]string, 0, len(defaultIgnoreLines)+1)
	lines = append(lines, defaultIgnoreLines...)
	if ig.fileName != IgnoreFileName {
		// A renamed ignore file must not sync either.
		lines = append(lines, ig.fileName)
	}

	parent := filepath.Dir(ig.rootDir)
	for _, path := range []string{
		filepath.Join(parent, ig.fileName),
		filepath.Join(ig.rootDir, ig.fileName),
	} {
		lines = append(lines, readIgnoreLines(path)...)
	}

	matcher := gitignore.CompileIgnoreLines(lines...)

	ig.mu.Lock()
	ig.matcher = matcher
	ig.mu.Unlock()
}

func readIgnoreLines(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// ShouldInclude reports whether the root-relative path survives the rules.
// Directory paths must carry a trailing slash so dir patterns match.
func (ig *Ignore) ShouldInclude(relPath string) bool {
	ig.mu.RLock()
	matcher := ig.matcher
	ig.mu.RUnlock()

	return !matcher.MatchesPath(relPath)
}
