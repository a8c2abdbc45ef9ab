package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/cloudflare/cfssl/helpers"
	"github.com/rs/zerolog"
	"github.com/yuxki/dytrust"
	"github.com/yuxki/dytrust/pkg/cache"
	"github.com/yuxki/dytrust/pkg/certs"
	"github.com/yuxki/dytrust/pkg/check"
	"github.com/yuxki/dytrust/pkg/config"
	"github.com/yuxki/dytrust/pkg/db"
	"github.com/yuxki/dytrust/pkg/fetch"
	"github.com/yuxki/dytrust/pkg/names"
	"github.com/yuxki/dytrust/pkg/policy"
	"github.com/yuxki/dytrust/pkg/revocation"
	"gopkg.in/yaml.v3"
)

const (
	validatorRole = "validate-chain"
	refresherRole = "refresh-revocation"
	handlerRole   = "handle-validation-request"
)

// loadConfig decodes and verifies the configuration file at path.
func loadConfig(path string) (config.DyTrustConfig, []error) {
	var cfg config.DyTrustConfig

	cfgF, err := os.Open(path)
	if err != nil {
		return cfg, []error{err}
	}
	defer cfgF.Close()

	var cfgYml config.ConfigYAML
	if err := yaml.NewDecoder(cfgF).Decode(&cfgYml); err != nil {
		return cfg, []error{err}
	}

	return cfgYml.Verify(cfg)
}

// readCertificates parses every certificate of a PEM file.
func readCertificates(path string) ([]*certs.Certificate, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	xcs, err := helpers.ParseCertificatesPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	parsed := make([]*certs.Certificate, 0, len(xcs))
	for _, xc := range xcs {
		c, err := certs.FromX509(xc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		parsed = append(parsed, c)
	}
	return parsed, nil
}

var ErrNoTrustAnchor = errors.New("no trust anchor loaded")

func loadTrustAnchors(paths []string) (*certs.Pool, error) {
	pool := certs.NewPool()
	for _, path := range paths {
		anchors, err := readCertificates(path)
		if err != nil {
			return nil, err
		}
		for _, a := range anchors {
			pool.Add(a)
		}
	}
	if pool.Len() == 0 {
		return nil, ErrNoTrustAnchor
	}
	return pool, nil
}

// loadWatch builds the chains the refresher keeps fresh. Each file is a
// bundle whose first certificate is the target.
func loadWatch(paths []string) ([]*certs.Chain, error) {
	chains := make([]*certs.Chain, 0, len(paths))
	for _, path := range paths {
		pemBytes, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		leaf, issuers, err := dytrust.ParseBundle(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		chain, err := certs.Build(leaf, issuers)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		chains = append(chains, chain)
	}
	return chains, nil
}

var ErrRepositoryFileInvalid = errors.New("invalid repository file")

func newBoltRepository(cfg config.DyTrustConfig) (*db.BoltRepository, error) {
	abs, err := filepath.Abs(cfg.FilePath)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		return nil, ErrRepositoryFileInvalid
	}

	return db.OpenBoltRepository(abs)
}

func newDynamoDBRepository(ctx context.Context, cfg config.DyTrustConfig) (db.DynamoDBRepository, error) {
	tableName := cfg.DynamoDBTableName

	aCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.DynamoDBRegion),
		awsconfig.WithRetryMaxAttempts(cfg.DynamoDBRetryMaxAttempts),
	)
	if err != nil {
		var repo db.DynamoDBRepository
		return repo, err
	}

	var client *dynamodb.Client
	if cfg.DynamoDBEndpoint == "" {
		client = dynamodb.NewFromConfig(aCfg)
	} else {
		client = dynamodb.NewFromConfig(aCfg, func(o *dynamodb.Options) {
			o.BaseEndpoint = &cfg.DynamoDBEndpoint
		})
	}

	return db.NewDynamoDBRepository(client, &tableName, cfg.DynamoDBTimeout), nil
}

// repositories holds the revocation repository selected by the
// configuration. sweep is nil for the memory repository, store is nil for
// the others.
type repositories struct {
	repo  revocation.Repository
	sweep db.ScanRepository
	store *cache.Store
	close func() error
}

func newRepositories(ctx context.Context, cfg config.DyTrustConfig) (repositories, error) {
	nop := func() error { return nil }

	switch cfg.RepositoryType {
	case config.MemoryType:
		store := cache.NewStore()
		return repositories{repo: store, store: store, close: nop}, nil
	case config.FileType:
		bolt, err := newBoltRepository(cfg)
		if err != nil {
			return repositories{}, err
		}
		return repositories{repo: bolt, sweep: bolt, close: bolt.Close}, nil
	case config.DynamoDBType:
		dynamo, err := newDynamoDBRepository(ctx, cfg)
		if err != nil {
			return repositories{}, err
		}
		return repositories{repo: dynamo, sweep: dynamo, close: nop}, nil
	}

	return repositories{}, config.MissingParameterError{Param: "repository.<repository-type>"}
}

// fetchMode maps the revocation.online parameter. The second value is false
// for "none".
func fetchMode(online string) (fetch.Mode, bool) {
	switch online {
	case "ocsp":
		return fetch.OCSPOnly, true
	case "crl":
		return fetch.CRLOnly, true
	case "none":
		return fetch.OCSPAndCRL, false
	}
	return fetch.OCSPAndCRL, true
}

// newRepositorySource returns the source that fetches revocation data online
// and caches it in repo, or nil when online fetching is disabled.
func newRepositorySource(
	cfg config.DyTrustConfig, repo revocation.Repository, logger zerolog.Logger,
) *revocation.RepositorySource {
	mode, ok := fetchMode(cfg.Online)
	if !ok {
		return nil
	}

	fetcher := fetch.NewFetcher(
		fetch.WithMode(mode),
		fetch.WithTimeout(cfg.FetchTimeout),
		fetch.WithRetryMax(cfg.FetchRetryMax),
		fetch.WithMaxResponseBytes(int64(cfg.MaxResponseBytes)),
		fetch.WithLogger(logger),
	)
	online := revocation.NewOnline(fetcher, revocation.WithOnlineLogger(logger))

	return revocation.NewRepositorySource(online, repo,
		revocation.WithRepositoryLogger(logger),
		revocation.WithDefaultNextUpdateDelay(time.Second*time.Duration(cfg.DefaultNextUpdateDelay)),
		revocation.WithMaxNextUpdateDelay(time.Second*time.Duration(cfg.MaxNextUpdateDelay)),
		revocation.WithRemoveExpired(cfg.Expired == "remove"),
	)
}

func newConstraints(cfg config.DyTrustConfig) dytrust.Constraints {
	c := dytrust.Constraints{Levels: cfg.Levels}

	if cfg.AcceptablePoliciesLevel != check.Ignore {
		c.AcceptablePolicies = &check.MultiValuesRule{
			LevelRule: check.LevelRule{Level: cfg.AcceptablePoliciesLevel},
			Values:    cfg.AcceptablePolicies,
		}
	}
	if cfg.RevocationMaxAgeLevel != check.Ignore {
		c.RevocationMaxAge = &check.NumericValueRule{
			LevelRule: check.LevelRule{Level: cfg.RevocationMaxAgeLevel},
			Value:     int64(cfg.RevocationMaxAge),
		}
	}

	return c
}

// newValidator wires the evaluators and the constraints of the validation
// section with source. A nil source leaves only offline data.
func newValidator(
	cfg config.DyTrustConfig,
	trust certs.TrustStore,
	source revocation.Source,
	freshness revocation.Freshness,
	logger zerolog.Logger,
) *dytrust.Validator {
	nameOpts := []names.EvaluatorOption{names.WithLogger(logger)}
	if cfg.StrictNameConstraints {
		nameOpts = append(nameOpts, names.WithStrictMode())
	}

	policyOpts := []policy.EvaluatorOption{policy.WithLogger(logger)}
	if cfg.InitialExplicitPolicy {
		policyOpts = append(policyOpts, policy.WithInitialExplicitPolicy())
	}
	if cfg.InitialAnyPolicyInhibit {
		policyOpts = append(policyOpts, policy.WithInitialAnyPolicyInhibit())
	}
	if cfg.InitialPolicyMappingInhibit {
		policyOpts = append(policyOpts, policy.WithInitialPolicyMappingInhibit())
	}

	opts := []dytrust.ValidatorOption{
		dytrust.WithNameEvaluator(names.NewEvaluator(nameOpts...)),
		dytrust.WithPolicyEvaluator(policy.NewEvaluator(policyOpts...)),
		dytrust.WithConstraints(newConstraints(cfg)),
		dytrust.WithFreshness(freshness),
		dytrust.WithLogger(logger),
	}
	if source != nil {
		opts = append(opts, dytrust.WithRevocationSource(source))
	}

	return dytrust.NewValidator(trust, opts...)
}
