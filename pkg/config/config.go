package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	ErrParsingConfig = errors.New("failed to parse environment variables into config")
	ErrNilPointer    = errors.New("nil pointer provided to config loader")
)

var (
	cacheMu sync.RWMutex
	cache   = make(map[string]any)

	dotenvOnce sync.Once
)

// Load populates the config struct from environment variables.
// The first call loads a .env file if one exists; each distinct struct
// type is parsed once and cached, so repeated calls across packages
// see the same values.
func Load[T any](v *T) error {
	dotenvOnce.Do(func() {
		_ = godotenv.Load() // missing .env is fine
	})
	if v == nil {
		return ErrNilPointer
	}

	key := reflect.TypeOf(*v).String()

	cacheMu.RLock()
	cached, ok := cache[key]
	cacheMu.RUnlock()
	if ok {
		*v = cached.(T)
		return nil
	}

	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}

	cacheMu.Lock()
	// Another goroutine may have parsed the same type concurrently; both
	// results come from the same environment, so last write wins safely.
	cache[key] = *v
	cacheMu.Unlock()

	return nil
}

// MustLoad is Load that panics on failure. Use for configuration the
// application cannot start without.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
}
