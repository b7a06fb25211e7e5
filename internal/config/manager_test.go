package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/knadh/koanf/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold-go/internal/config"
)

func TestManager(t *testing.T) {
	t.Run("defaults with struct source overrides", func(t *testing.T) {
		user := config.Config{
			Server: config.Server{
				Address: "https://objects.internal:8443",
				Token:   "t0ken",
			},
			Publish: config.Publish{Server: "edge"},
		}

		manager := config.NewManager(structSource(t, user))

		require.NoError(t, manager.Load())
		assert.Equal(t, defaultWithOverrides(t, user), manager.Config())
		// Untouched sections keep their defaults.
		assert.Equal(t, 30, manager.Config().Server.TimeoutSeconds)
		assert.Equal(t, config.CacheBackendMemory, manager.Config().Cache.Backend)
		assert.Equal(t, "info", manager.Config().Logging.Level)
	})

	t.Run("later sources win", func(t *testing.T) {
		first := structSource(t, config.Config{
			Server:  config.Server{Address: "http://first"},
			Publish: config.Publish{Server: "edge"},
		})
		second := structSource(t, config.Config{
			Server: config.Server{Address: "http://second"},
		})

		manager := config.NewManager(first, second)

		require.NoError(t, manager.Load())
		assert.Equal(t, "http://second", manager.Config().Server.Address)
		// Values the second source does not set survive from the first.
		assert.Equal(t, "edge", manager.Config().Publish.Server)
	})

	t.Run("yaml file source", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "keyfold.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: https://objects.internal:8443
cache:
  backend: filesystem
  dir: /var/cache/keyfold
  ttl_seconds: 600
logging:
  level: debug
`), 0o600))

		manager := config.NewManager(config.NewFileSource(path))

		require.NoError(t, manager.Load())
		assert.Equal(t, "https://objects.internal:8443", manager.Config().Server.Address)
		assert.Equal(t, config.CacheBackendFilesystem, manager.Config().Cache.Backend)
		assert.Equal(t, "/var/cache/keyfold", manager.Config().Cache.Dir)
		assert.Equal(t, 600, manager.Config().Cache.TTLSeconds)
		assert.Equal(t, "debug", manager.Config().Logging.Level)
	})

	t.Run("json file source", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "keyfold.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"publish":{"server":"edge"}}`), 0o600))

		manager := config.NewManager(config.NewFileSource(path))

		require.NoError(t, manager.Load())
		assert.Equal(t, "edge", manager.Config().Publish.Server)
	})

	t.Run("env var source", func(t *testing.T) {
		t.Setenv("KEYFOLD_SERVER__ADDRESS", "http://localhost:9100")
		t.Setenv("KEYFOLD_LOGGING__LEVEL", "warn")

		manager := config.NewManager(config.NewEnvVarSource())

		require.NoError(t, manager.Load())
		assert.Equal(t, "http://localhost:9100", manager.Config().Server.Address)
		assert.Equal(t, "warn", manager.Config().Logging.Level)
	})

	t.Run("invalid cache backend", func(t *testing.T) {
		manager := config.NewManager(structSource(t, config.Config{
			Cache: config.Cache{Backend: "bogus"},
		}))
		assert.ErrorContains(t, manager.Load(), `cache.backend: unsupported cache backend "bogus"`)
	})

	t.Run("filesystem backend requires a directory", func(t *testing.T) {
		manager := config.NewManager(structSource(t, config.Config{
			Cache: config.Cache{Backend: config.CacheBackendFilesystem},
		}))
		assert.ErrorContains(t, manager.Load(), "cache.dir: cannot be empty")
	})

	t.Run("invalid log level", func(t *testing.T) {
		manager := config.NewManager(structSource(t, config.Config{
			Logging: config.Logging{Level: "shouting"},
		}))
		assert.ErrorContains(t, manager.Load(), `logging.level: invalid log level "shouting"`)
	})
}

func TestLoadPrivateKeys(t *testing.T) {
	t.Run("reads configured files", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/keys/alpha.pem", []byte("alpha-pem"), 0o600))
		require.NoError(t, afero.WriteFile(fs, "/keys/beta.pem", []byte("beta-pem"), 0o600))

		identity := config.Identity{PrivateKeyFiles: map[string]string{
			"alpha": "/keys/alpha.pem",
			"beta":  "/keys/beta.pem",
		}}

		keys, err := identity.LoadPrivateKeys(fs)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			"alpha": "alpha-pem",
			"beta":  "beta-pem",
		}, keys)
	})

	t.Run("missing file names the party", func(t *testing.T) {
		identity := config.Identity{PrivateKeyFiles: map[string]string{
			"alpha": "/keys/nope.pem",
		}}

		_, err := identity.LoadPrivateKeys(afero.NewMemMapFs())
		assert.ErrorContains(t, err, `private key for party "alpha"`)
	})
}

func structSource(t *testing.T, cfg config.Config) *config.Source {
	t.Helper()

	source, err := config.NewStructSource(cfg)
	require.NoError(t, err)

	return source
}

func defaultWithOverrides(t *testing.T, overrides config.Config) config.Config {
	t.Helper()

	k := koanf.New(".")
	require.NoError(t, config.LoadStruct(k, config.DefaultConfig()))
	require.NoError(t, config.LoadStruct(k, overrides))

	var merged config.Config
	require.NoError(t, k.Unmarshal("", &merged))

	return merged
}
