package services

import (
	"bufio"
	"context"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"authapi/utils"
)

// DomainAllowlist restricts registration to a set of email domains. The set
// is merged from a static list and an optional file that is re-read while
// the process runs. An empty set allows every domain.
type DomainAllowlist struct {
	static   []string
	filePath string
	domains  atomic.Pointer[map[string]struct{}]
	sig      string // owned by the refresher goroutine after construction
}

// NewDomainAllowlist loads the initial set from static and filePath.
func NewDomainAllowlist(static []string, filePath string) *DomainAllowlist {
	a := &DomainAllowlist{static: static, filePath: strings.TrimSpace(filePath)}
	m, sig := a.load()
	a.domains.Store(&m)
	a.sig = sig
	return a
}

// Allows reports whether email may register.
func (a *DomainAllowlist) Allows(email string) bool {
	m := *a.domains.Load()
	if len(m) == 0 {
		return true
	}
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	_, ok := m[normalizeDomain(email[at+1:])]
	return ok
}

// Len returns the number of configured domains.
func (a *DomainAllowlist) Len() int {
	return len(*a.domains.Load())
}

// StartRefresher re-reads the file every interval until ctx is cancelled.
// It is a no-op without a file.
func (a *DomainAllowlist) StartRefresher(ctx context.Context, interval time.Duration) {
	if a.filePath == "" {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.refresh()
			}
		}
	}()
}

// refresh swaps in the current set when it differs from the last one loaded.
func (a *DomainAllowlist) refresh() bool {
	m, sig := a.load()
	if sig == a.sig {
		return false
	}
	a.domains.Store(&m)
	a.sig = sig
	utils.LogInfo("Registration domain allowlist reloaded", "entries", len(m))
	return true
}

// load merges the static list with the file. The returned signature changes
// whenever the effective set does.
func (a *DomainAllowlist) load() (map[string]struct{}, string) {
	m := make(map[string]struct{})
	for _, d := range a.static {
		if d = normalizeDomain(d); d != "" {
			m[d] = struct{}{}
		}
	}

	if a.filePath != "" {
		if f, err := os.Open(a.filePath); err == nil {
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				for _, d := range strings.Split(line, ",") {
					if d = normalizeDomain(d); d != "" {
						m[d] = struct{}{}
					}
				}
			}
			f.Close()
		}
	}

	keys := make([]string, 0, len(m))
	for d := range m {
		keys = append(keys, d)
	}
	sort.Strings(keys)
	return m, strings.Join(keys, ",")
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.Trim(d, "\"'")
	return strings.TrimPrefix(d, "@")
}
