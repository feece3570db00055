package plugin

import (
	"fmt"
	"sort"
	"sync"
)

var (
	builtinMu sync.RWMutex
	builtins  = make(map[string]Constructor)
)

// RegisterBuiltin adds a compiled-in plugin to the builtin table. It is
// meant to be called from init functions and panics on a duplicate id.
func RegisterBuiltin(id string, ctor Constructor) {
	builtinMu.Lock()
	defer builtinMu.Unlock()

	if _, exists := builtins[id]; exists {
		panic(fmt.Sprintf("plugin: builtin %s registered twice", id))
	}
	builtins[id] = ctor
}

// Builtins returns the registered builtin ids, sorted.
func Builtins() []string {
	builtinMu.RLock()
	defer builtinMu.RUnlock()

	ids := make([]string, 0, len(builtins))
	for id := range builtins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func lookupBuiltin(id string) (Constructor, bool) {
	builtinMu.RLock()
	defer builtinMu.RUnlock()
	ctor, ok := builtins[id]
	return ctor, ok
}
