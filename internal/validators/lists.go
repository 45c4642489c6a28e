package validators

import (
	"bufio"
	_ "embed"
	"strings"
)

var (
	//go:embed lists/disposable.txt
	disposableList string
	//go:embed lists/free.txt
	freeList string
)

// DefaultDisposableDomains returns the embedded disposable mailbox domains.
func DefaultDisposableDomains() []string { return parseList(disposableList) }

// DefaultFreeProviders returns the embedded free mailbox provider domains.
func DefaultFreeProviders() []string { return parseList(freeList) }

// parseList reads one entry per line, skipping blanks and # comments.
func parseList(s string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
