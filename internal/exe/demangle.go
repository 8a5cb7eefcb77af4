package exe

import (
	"strings"
	"sync"

	"github.com/ianlancetaylor/demangle"
)

// demangleCache memoises demangled names; symbol tables repeat the same
// mangled names across listings and the browser.
type demangleCache struct {
	mu    sync.RWMutex
	names map[string]string
}

var cache = &demangleCache{names: make(map[string]string)}

// Demangle returns the demangled form of an Itanium C++ or Rust name, or name
// itself when it is not mangled. A trailing "@plt" is preserved.
func Demangle(name string) string {
	cache.mu.RLock()
	if d, ok := cache.names[name]; ok {
		cache.mu.RUnlock()
		return d
	}
	cache.mu.RUnlock()

	base, suffix := name, ""
	if strings.HasSuffix(name, "@plt") {
		base, suffix = strings.TrimSuffix(name, "@plt"), "@plt"
	}
	d := demangle.Filter(base, demangle.NoClones) + suffix

	cache.mu.Lock()
	cache.names[name] = d
	cache.mu.Unlock()
	return d
}
