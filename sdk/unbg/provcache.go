package unbg

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ardanlabs/unbg/sdk/tools/models"
)

// ProviderCacheKey builds the composite key a provider choice is stored
// under.
func ProviderCacheKey(kind ModelKind, variant models.Variant, goos string, arch string, libPath string) string {
	return strings.Join([]string{cacheLabel(kind), variant.String(), goos, arch, libPath}, "|")
}

func cacheLabel(kind ModelKind) string {
	switch kind {
	case ModelRMBG14:
		return "rmbg14"
	case ModelRMBG20:
		return "rmbg20"
	}

	return "auto"
}

type persistedProviders struct {
	Providers map[string]string `json:"providers"`
}

// ProviderCache remembers the winning provider per composite key. Memory is
// authoritative within the process and the json file under the model root
// carries choices across runs. Lookups that miss memory read the file.
type ProviderCache struct {
	mu     sync.Mutex
	memory map[string]map[string]Provider
}

// NewProviderCache constructs an empty provider cache.
func NewProviderCache() *ProviderCache {
	return &ProviderCache{
		memory: make(map[string]map[string]Provider),
	}
}

// Lookup returns the provider stored under the key for the cache file.
func (pc *ProviderCache) Lookup(file string, key string) (Provider, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if p, exists := pc.memory[file][key]; exists {
		return p, true
	}

	disk := readProviders(file)

	p, ok := ParseProvider(disk.Providers[key])
	if !ok {
		return 0, false
	}

	pc.setLocked(file, key, p)

	return p, true
}

// Store records the provider in memory and then rewrites the cache file.
// The memory copy is updated even when the file write fails.
func (pc *ProviderCache) Store(file string, key string, p Provider) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.setLocked(file, key, p)

	disk := readProviders(file)
	disk.Providers[key] = p.String()

	data, err := json.MarshalIndent(disk, "", "  ")
	if err != nil {
		return fmt.Errorf("provider-cache: unable to marshal: %w", err)
	}

	if err := models.WriteFileAtomic(file, data); err != nil {
		return fmt.Errorf("provider-cache: %w", err)
	}

	return nil
}

func (pc *ProviderCache) setLocked(file string, key string, p Provider) {
	entries, exists := pc.memory[file]
	if !exists {
		entries = make(map[string]Provider)
		pc.memory[file] = entries
	}

	entries[key] = p
}

// readProviders loads the cache file. A missing or unreadable file is an
// empty cache.
func readProviders(file string) persistedProviders {
	var disk persistedProviders

	if data, err := os.ReadFile(file); err == nil {
		json.Unmarshal(data, &disk)
	}

	if disk.Providers == nil {
		disk.Providers = make(map[string]string)
	}

	return disk
}
