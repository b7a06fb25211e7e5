package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/do"
	"github.com/spf13/afero"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/time/rate"

	"github.com/keyfold/keyfold-go/client"
	"github.com/keyfold/keyfold-go/envelope"
	"github.com/keyfold/keyfold-go/internal/config"
	"github.com/keyfold/keyfold-go/internal/logging"
	"github.com/keyfold/keyfold-go/keycache"
	"github.com/keyfold/keyfold-go/vault"
)

func Provide(i *do.Injector) {
	provideFilesystem(i)
	provideClient(i)
	provideCapability(i)
	provideCache(i)
	provideManager(i)
}

func provideFilesystem(i *do.Injector) {
	do.Provide(i, func(_ *do.Injector) (afero.Fs, error) {
		return afero.NewOsFs(), nil
	})
}

func provideClient(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (client.Client, error) {
		cfg, err := do.Invoke[config.Config](i)
		if err != nil {
			return nil, err
		}

		// Environment settings (KEYFOLD_ADDR, KEYFOLD_TOKEN and friends)
		// fill whatever the config leaves empty.
		clientCfg, err := client.DefaultConfig()
		if err != nil {
			return nil, err
		}
		if cfg.Server.Address != "" {
			clientCfg.Address = cfg.Server.Address
		}
		if cfg.Server.Token != "" {
			clientCfg.Token = cfg.Server.Token
		}
		if cfg.Server.TimeoutSeconds > 0 {
			clientCfg.HTTPClient = &http.Client{
				Timeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
			}
		}
		if cfg.Server.RateLimit > 0 {
			burst := cfg.Server.RateBurst
			if burst < 1 {
				burst = 1
			}
			clientCfg.Limiter = rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), burst)
		}

		return client.NewHTTPClient(clientCfg)
	})
}

func provideCapability(i *do.Injector) {
	do.Provide(i, func(_ *do.Injector) (envelope.Capability, error) {
		return envelope.NewCapability("")
	})
}

func provideCache(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (keycache.Cache, error) {
		cfg, err := do.Invoke[config.Config](i)
		if err != nil {
			return nil, err
		}

		cacheCfg := keycache.Config{
			TTL:        time.Duration(cfg.Cache.TTLSeconds) * time.Second,
			MaxEntries: cfg.Cache.MaxEntries,
		}

		switch cfg.Cache.Backend {
		case config.CacheBackendNone:
			return nil, nil

		case config.CacheBackendMemory, "":
			return keycache.NewMemoryCache(cacheCfg), nil

		case config.CacheBackendFilesystem:
			fs, err := do.Invoke[afero.Fs](i)
			if err != nil {
				return nil, err
			}
			return keycache.NewFilesystemCache(fs, cfg.Cache.Dir, cacheCfg), nil

		case config.CacheBackendEtcd:
			logger, err := do.Invoke[zerolog.Logger](i)
			if err != nil {
				return nil, err
			}
			level, err := zerolog.ParseLevel(cfg.Cache.EtcdLogLevel)
			if err != nil {
				return nil, fmt.Errorf("failed to parse etcd log level: %w", err)
			}

			etcdClient, err := clientv3.New(clientv3.Config{
				Endpoints:        cfg.Cache.EtcdEndpoints,
				Logger:           logging.Zap(logger.With().Str("component", "etcd_client").Logger(), level),
				AutoSyncInterval: 5 * time.Minute,
				DialTimeout:      5 * time.Second,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to initialize etcd client: %w", err)
			}
			return keycache.NewEtcdCache(etcdClient, cfg.Cache.Prefix, cacheCfg), nil

		default:
			return nil, fmt.Errorf("unsupported cache backend %q", cfg.Cache.Backend)
		}
	})
}

func provideManager(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*vault.ObjectManager, error) {
		cfg, err := do.Invoke[config.Config](i)
		if err != nil {
			return nil, err
		}
		logger, err := do.Invoke[zerolog.Logger](i)
		if err != nil {
			return nil, err
		}
		storeClient, err := do.Invoke[client.Client](i)
		if err != nil {
			return nil, err
		}
		capability, err := do.Invoke[envelope.Capability](i)
		if err != nil {
			return nil, err
		}
		cache, err := do.Invoke[keycache.Cache](i)
		if err != nil {
			return nil, err
		}
		fs, err := do.Invoke[afero.Fs](i)
		if err != nil {
			return nil, err
		}

		privateKeys, err := cfg.Identity.LoadPrivateKeys(fs)
		if err != nil {
			return nil, err
		}

		return vault.NewObjectManager(vault.ManagerConfig{
			Client:       storeClient,
			Capability:   capability,
			Cache:        cache,
			Logger:       logger,
			PrivateKeys:  privateKeys,
			PublishParty: cfg.Publish.Server,
		})
	})
}
