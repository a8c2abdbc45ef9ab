package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"github.com/yuxki/dytrust/pkg/check"
)

// The DyTrustConfig struct contains configuration members for creating
// instances of DyTrust. Please refer to the documentation for detailed
// information about each configuration.
type DyTrustConfig struct {
	// From ConfigYAML
	Version   string
	LogLevel  string
	LogFormat string
	// Validation
	ControlTime                 time.Time
	StrictNameConstraints       bool
	InitialExplicitPolicy       bool
	InitialAnyPolicyInhibit     bool
	InitialPolicyMappingInhibit bool
	Levels                      map[string]check.Level
	AcceptablePolicies          []string
	AcceptablePoliciesLevel     check.Level
	RevocationMaxAge            int
	RevocationMaxAgeLevel       check.Level
	// Revocation
	DefaultNextUpdateDelay int
	MaxNextUpdateDelay     int
	Expired                string
	Online                 string
	FetchTimeout           int
	FetchRetryMax          int
	MaxResponseBytes       int
	// Repository
	FilePath                 string
	DynamoDBRegion           string
	DynamoDBTableName        string
	DynamoDBEndpoint         string
	DynamoDBRetryMaxAttempts int
	DynamoDBTimeout          int
	// Trust
	TrustAnchors []string
	// HTTP
	Port              string
	Domain            string
	ReadTimeout       int
	WriteTimeout      int
	ReadHeaderTimeout int
	MaxHeaderBytes    int
	MaxRequestBytes   int
	// Refresh
	RefreshEnabled bool
	Interval       int
	Delay          int
	Watch          []string
	// From this struct
	ZerologLevel   zerolog.Level
	ZerologFormat  LogFormat
	RepositoryType RepositoryType
}

// The ConfigYAML is a configuration file in YAML format.
// To indicate a non-specified status, the member of type int should be a pointer.
// This struct instance verifies the instance's own members and creates a DyTrustConfig
// object based on the instance's attributes.
type ConfigYAML struct {
	Version string `yaml:"version"`
	Log     struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Validation struct {
		ControlTime                 string            `yaml:"control_time"`
		StrictNameConstraints       bool              `yaml:"strict_name_constraints"`
		InitialExplicitPolicy       bool              `yaml:"initial_explicit_policy"`
		InitialAnyPolicyInhibit     bool              `yaml:"initial_any_policy_inhibit"`
		InitialPolicyMappingInhibit bool              `yaml:"initial_policy_mapping_inhibit"`
		Levels                      map[string]string `yaml:"levels"`
		AcceptablePolicies          *struct {
			Level  string   `yaml:"level"`
			Values []string `yaml:"values"`
		} `yaml:"acceptable_policies"`
		RevocationMaxAge *struct {
			Level   string `yaml:"level"`
			Seconds *int   `yaml:"seconds"`
		} `yaml:"revocation_max_age"`
	} `yaml:"validation"`
	Revocation struct {
		DefaultNextUpdateDelay *int   `yaml:"default_next_update_delay"`
		MaxNextUpdateDelay     *int   `yaml:"max_next_update_delay"`
		Expired                string `yaml:"expired"`
		Online                 string `yaml:"online"`
		Timeout                *int   `yaml:"timeout"`
		RetryMax               *int   `yaml:"retry_max"`
		MaxResponseBytes       *int   `yaml:"max_response_bytes"`
	} `yaml:"revocation"`
	Repository struct {
		Memory *struct{} `yaml:"memory"`
		File   *struct {
			Path string `yaml:"path"`
		} `yaml:"file"`
		DynamoDB *struct {
			Region           string `yaml:"region"`
			TableName        string `yaml:"table_name"`
			Endpoint         string `yaml:"endpoint"`
			RetryMaxAttempts *int   `yaml:"retry_max_attempts"`
			Timeout          *int   `yaml:"timeout"`
		} `yaml:"dynamodb"`
	} `yaml:"repository"`
	Trust struct {
		Anchors []string `yaml:"anchors"`
	} `yaml:"trust"`
	HTTP struct {
		Port              string `yaml:"port"`
		Domain            string `yaml:"domain"`
		ReadTimeout       *int   `yaml:"read_timeout"`
		WriteTimeout      *int   `yaml:"write_timeout"`
		ReadHeaderTimeout *int   `yaml:"read_header_timeout"`
		MaxHeaderBytes    *int   `yaml:"max_header_bytes"`
		MaxRequestBytes   *int   `yaml:"max_request_bytes"`
	} `yaml:"http"`
	Refresh *struct {
		Interval *int     `yaml:"interval"`
		Delay    *int     `yaml:"delay"`
		Watch    []string `yaml:"watch"`
	} `yaml:"refresh"`
}

// Supported repository type.
type RepositoryType int

const (
	// In-memory repository.
	MemoryType RepositoryType = iota
	// bbolt file.
	FileType
	// DynamoDB.
	DynamoDBType
)

// Supported log format.
type LogFormat int

const (
	// JSON format.
	JSONFormat LogFormat = iota
	// Pretty format (human readable).
	PrettyFormat
)

// Default values.
const (
	ReadTimeOutDefault       = 30
	WriteTimeOutDefault      = 0
	ReadHeaderTimeoutDefault = 10
	MaxHeaderBytesDefault    = 1048576
	MaxRequestBytesDefault   = 65536
	DynamoDBTimeoutDefault   = 60
	IntervalDefault          = 3600
	DelayDefault             = 5
	FetchTimeoutDefault      = 10
	FetchRetryMaxDefault     = 2
	MaxResponseBytesDefault  = 10485760
	LogLevelDefault          = "info"
	LogFormtDefault          = "json"
	ExpiredDefault           = "remove"
	OnlineDefault            = "both"
)

// MissingParameterError is used when configuration paramemter is missing.
type MissingParameterError struct {
	Param string
}

func (e MissingParameterError) Error() string {
	return fmt.Sprintf(
		"'%s' parameter is not set or contains an empty value.", e.Param,
	)
}

// InvalidParameterError is used when configuration paramemter is invalid.
type InvalidParameterError struct {
	param       string
	description string
}

func (e InvalidParameterError) Error() string {
	return fmt.Sprintf(
		"'%s' parameter is invalid: %s",
		e.param,
		e.description,
	)
}

const (
	errsCap2  = 2
	errsCap4  = 4
	errsCap8  = 8
	errsCap32 = 32
)

func markMissRequiredStr(sp string, spName string, errs []error) (string, []error) {
	if sp == "" {
		errs = append(errs, MissingParameterError{spName})
	}
	return sp, errs
}

func specOrDefInt(i *int, def int) int {
	if i == nil {
		return def
	}
	return *i
}

func verifyNonNegative(i *int, def int, param string, errs []error) (int, []error) {
	switch {
	case i == nil:
		return def, errs
	case *i < 0:
		return def, append(errs, InvalidParameterError{param, "the number must be >= 0"})
	}
	return *i, errs
}

func verifyLevel(s string, param string, errs []error) (check.Level, []error) {
	if s == "" {
		return check.Fail, errs
	}
	level, err := check.ParseLevel(s)
	if err != nil {
		return check.Fail, append(errs, InvalidParameterError{param, "[FAIL|WARN|INFORM|IGNORE]"})
	}
	return level, errs
}

// VerifyLogConfig verifies .Log.
func (y ConfigYAML) VerifyLogConfig(cfg DyTrustConfig) (DyTrustConfig, []error) {
	nCfg := cfg
	errs := make([]error, 0, errsCap2)

	if y.Log.Level == "" {
		nCfg.LogLevel = LogLevelDefault
	} else if matched, _ := regexp.MatchString(`\A(?:error|warn|info|debug)\z`, y.Log.Level); !matched {
		errs = append(errs, InvalidParameterError{"log.level", "[error|warn|info|debug]"})
	} else {
		nCfg.LogLevel = y.Log.Level
	}

	switch nCfg.LogLevel {
	case "debug":
		nCfg.ZerologLevel = zerolog.DebugLevel
	case "info":
		nCfg.ZerologLevel = zerolog.InfoLevel
	case "warn":
		nCfg.ZerologLevel = zerolog.WarnLevel
	case "error":
		nCfg.ZerologLevel = zerolog.ErrorLevel
	}

	if y.Log.Format == "" {
		nCfg.LogFormat = LogFormtDefault
	} else if matched, _ := regexp.MatchString(`\A(?:json|pretty)\z`, y.Log.Format); !matched {
		errs = append(errs, InvalidParameterError{"log.format", "[json|pretty]"})
	} else {
		nCfg.LogFormat = y.Log.Format
	}

	switch nCfg.LogFormat {
	case "json":
		nCfg.ZerologFormat = JSONFormat
	case "pretty":
		nCfg.ZerologFormat = PrettyFormat
	}

	if len(errs) != 0 {
		return cfg, errs
	}
	return nCfg, nil
}

// VerifyValidationConfig verifies .Validation.
func (y ConfigYAML) VerifyValidationConfig(cfg DyTrustConfig) (DyTrustConfig, []error) {
	nCfg := cfg
	errs := make([]error, 0, errsCap8)
	v := y.Validation

	// Validation.ControlTime    Optional (default: the time of each validation)
	nCfg.ControlTime = time.Time{}
	if v.ControlTime != "" {
		t, err := time.Parse(time.RFC3339, v.ControlTime)
		if err != nil {
			errs = append(errs, InvalidParameterError{"validation.control_time", "must be RFC 3339 date and time"})
		} else {
			nCfg.ControlTime = t.UTC()
		}
	}

	nCfg.StrictNameConstraints = v.StrictNameConstraints
	nCfg.InitialExplicitPolicy = v.InitialExplicitPolicy
	nCfg.InitialAnyPolicyInhibit = v.InitialAnyPolicyInhibit
	nCfg.InitialPolicyMappingInhibit = v.InitialPolicyMappingInhibit

	// Validation.Levels         Optional
	nCfg.Levels = make(map[string]check.Level, len(v.Levels))
	for name, s := range v.Levels {
		var level check.Level
		level, errs = verifyLevel(s, "validation.levels."+name, errs)
		nCfg.Levels[name] = level
	}

	// Validation.AcceptablePolicies  Optional
	nCfg.AcceptablePolicies = nil
	nCfg.AcceptablePoliciesLevel = check.Ignore
	if ap := v.AcceptablePolicies; ap != nil {
		if len(ap.Values) == 0 {
			errs = append(errs, MissingParameterError{"validation.acceptable_policies.values"})
		}
		nCfg.AcceptablePolicies = ap.Values
		nCfg.AcceptablePoliciesLevel, errs = verifyLevel(ap.Level, "validation.acceptable_policies.level", errs)
	}

	// Validation.RevocationMaxAge  Optional
	nCfg.RevocationMaxAge = 0
	nCfg.RevocationMaxAgeLevel = check.Ignore
	if ma := v.RevocationMaxAge; ma != nil {
		switch {
		case ma.Seconds == nil:
			errs = append(errs, MissingParameterError{"validation.revocation_max_age.seconds"})
		case *ma.Seconds <= 0:
			errs = append(errs, InvalidParameterError{
				"validation.revocation_max_age.seconds", "the number of seconds must be > 0",
			})
		default:
			nCfg.RevocationMaxAge = *ma.Seconds
		}
		nCfg.RevocationMaxAgeLevel, errs = verifyLevel(ma.Level, "validation.revocation_max_age.level", errs)
	}

	if len(errs) != 0 {
		return cfg, errs
	}
	return nCfg, nil
}

// VerifyRevocationConfig verifies .Revocation.
func (y ConfigYAML) VerifyRevocationConfig(cfg DyTrustConfig) (DyTrustConfig, []error) {
	nCfg := cfg
	errs := make([]error, 0, errsCap8)
	r := y.Revocation

	nCfg.DefaultNextUpdateDelay, errs = verifyNonNegative(
		r.DefaultNextUpdateDelay, 0, "revocation.default_next_update_delay", errs,
	)
	nCfg.MaxNextUpdateDelay, errs = verifyNonNegative(
		r.MaxNextUpdateDelay, 0, "revocation.max_next_update_delay", errs,
	)

	if r.Expired == "" {
		nCfg.Expired = ExpiredDefault
	} else if matched, _ := regexp.MatchString(`\A(?:remove|warn)\z`, r.Expired); !matched {
		errs = append(errs, InvalidParameterError{"revocation.expired", "[remove|warn]"})
	} else {
		nCfg.Expired = r.Expired
	}

	if r.Online == "" {
		nCfg.Online = OnlineDefault
	} else if matched, _ := regexp.MatchString(`\A(?:ocsp|crl|both|none)\z`, r.Online); !matched {
		errs = append(errs, InvalidParameterError{"revocation.online", "[ocsp|crl|both|none]"})
	} else {
		nCfg.Online = r.Online
	}

	switch {
	case r.Timeout == nil:
		nCfg.FetchTimeout = FetchTimeoutDefault
	case *r.Timeout <= 0:
		errs = append(errs, InvalidParameterError{
			"revocation.timeout",
			"the number of seconds for timeout must be > 0",
		})
	default:
		nCfg.FetchTimeout = *r.Timeout
	}

	switch {
	case r.RetryMax == nil:
		nCfg.FetchRetryMax = FetchRetryMaxDefault
	case *r.RetryMax < 0:
		errs = append(errs, InvalidParameterError{
			"revocation.retry_max",
			"the number of retries must be >= 0",
		})
	default:
		nCfg.FetchRetryMax = *r.RetryMax
	}

	switch {
	case r.MaxResponseBytes == nil:
		nCfg.MaxResponseBytes = MaxResponseBytesDefault
	case *r.MaxResponseBytes <= 0:
		errs = append(errs, InvalidParameterError{
			"revocation.max_response_bytes",
			"the number of bytes must be > 0",
		})
	default:
		nCfg.MaxResponseBytes = *r.MaxResponseBytes
	}

	if len(errs) != 0 {
		return cfg, errs
	}
	return nCfg, nil
}

// VerifyDynamoDBConfig verifies .Repository.DynamoDB.
func (y ConfigYAML) VerifyDynamoDBConfig(cfg DyTrustConfig) (DyTrustConfig, []error) {
	nCfg := cfg
	errs := make([]error, 0, errsCap8)

	// Repository.DynamoDB.Region            Required
	nCfg.DynamoDBRegion, errs = markMissRequiredStr(
		y.Repository.DynamoDB.Region, "repository.dynamodb.region", errs,
	)
	// Repository.DynamoDB.TableName         Required
	nCfg.DynamoDBTableName, errs = markMissRequiredStr(
		y.Repository.DynamoDB.TableName, "repository.dynamodb.table_name", errs,
	)

	// Repository.DynamoDB.Endpoint          Optional (default: DynamoDB Cloud)
	if y.Repository.DynamoDB.Endpoint != "" {
		if matched, _ := regexp.MatchString(`\Ahttps?://`, y.Repository.DynamoDB.Endpoint); !matched {
			errs = append(errs, InvalidParameterError{
				"repository.dynamodb.endpoint",
				"url must start from 'http://' or 'https://'",
			})
		}
	}
	nCfg.DynamoDBEndpoint = y.Repository.DynamoDB.Endpoint

	// Repository.DynamoDB.RetryMaxAttempts  Optional (default: 0)
	switch {
	case y.Repository.DynamoDB.RetryMaxAttempts == nil:
		nCfg.DynamoDBRetryMaxAttempts = 0
	case *y.Repository.DynamoDB.RetryMaxAttempts < 0:
		errs = append(errs, InvalidParameterError{
			"repository.dynamodb.retry_max_attempts",
			"the number of retries must be >= 0",
		})
	default:
		nCfg.DynamoDBRetryMaxAttempts = *y.Repository.DynamoDB.RetryMaxAttempts
	}

	// Repository.DynamoDB.Timeout           Optional (default: 60)
	switch {
	case y.Repository.DynamoDB.Timeout == nil:
		nCfg.DynamoDBTimeout = DynamoDBTimeoutDefault
	case *y.Repository.DynamoDB.Timeout <= 0:
		errs = append(errs, InvalidParameterError{
			"repository.dynamodb.timeout",
			"the number of seconds for timeout must be > 0",
		})
	default:
		nCfg.DynamoDBTimeout = *y.Repository.DynamoDB.Timeout
	}

	if len(errs) != 0 {
		return cfg, errs
	}
	return nCfg, nil
}

// VerifyFileConfig verifies .Repository.File.
func (y ConfigYAML) VerifyFileConfig(cfg DyTrustConfig) (DyTrustConfig, []error) {
	nCfg := cfg
	errs := make([]error, 0, errsCap2)

	// .Repository.File.Path
	nCfg.FilePath, errs = markMissRequiredStr(y.Repository.File.Path, "repository.file.path", errs)

	if len(errs) != 0 {
		return cfg, errs
	}
	return nCfg, nil
}

// VerifyRepositoryConfig verifies .Repository. Without any repository, the
// in-memory repository is used.
func (y ConfigYAML) VerifyRepositoryConfig(cfg DyTrustConfig) (DyTrustConfig, []error) {
	nCfg := cfg
	var errs []error

	dupN := 0
	nCfg.RepositoryType = MemoryType

	// .Repository.Memory
	if y.Repository.Memory != nil {
		dupN++
	}

	// .Repository.File
	if y.Repository.File != nil {
		nCfg, errs = y.VerifyFileConfig(nCfg)
		nCfg.RepositoryType = FileType
		dupN++
	}

	// .Repository.DynamoDB
	if y.Repository.DynamoDB != nil {
		nCfg, errs = y.VerifyDynamoDBConfig(nCfg)
		nCfg.RepositoryType = DynamoDBType
		dupN++
	}

	if dupN > 1 {
		errs = []error{InvalidParameterError{"repository.<repository-type>", "repository type is exclusive"}}
		return cfg, errs
	}

	if len(errs) != 0 {
		return cfg, errs
	}
	return nCfg, nil
}

// VerifyTrustConfig verifies .Trust.
func (y ConfigYAML) VerifyTrustConfig(cfg DyTrustConfig) (DyTrustConfig, []error) {
	nCfg := cfg
	errs := make([]error, 0, errsCap2)

	// Trust.Anchors             Required
	if len(y.Trust.Anchors) == 0 {
		errs = append(errs, MissingParameterError{"trust.anchors"})
	}
	for _, a := range y.Trust.Anchors {
		if a == "" {
			errs = append(errs, MissingParameterError{"trust.anchors[]"})
			break
		}
	}
	nCfg.TrustAnchors = y.Trust.Anchors

	if len(errs) != 0 {
		return cfg, errs
	}
	return nCfg, nil
}

// VerifyHTTPConfig verifies .HTTP.
func (y ConfigYAML) VerifyHTTPConfig(cfg DyTrustConfig) (DyTrustConfig, []error) {
	nCfg := cfg
	errs := make([]error, 0, errsCap4)

	// HTTP.Port                 Optional
	if y.HTTP.Port == "" {
		nCfg.Port = "80"
	} else if matched, _ := regexp.MatchString(`\A[1-9][0-9]*\z`, y.HTTP.Port); !matched {
		errs = append(errs, InvalidParameterError{"http.port", "must be the valid port number"})
	} else {
		nCfg.Port = y.HTTP.Port
	}
	// HTTP.Domain               Optional
	nCfg.Domain = y.HTTP.Domain
	// HTTP.ReadTimeout          Optional
	nCfg.ReadTimeout = specOrDefInt(y.HTTP.ReadTimeout, ReadTimeOutDefault)
	// HTTP.WriteTimeout         Optional
	nCfg.WriteTimeout = specOrDefInt(y.HTTP.WriteTimeout, WriteTimeOutDefault)
	// HTTP.ReadHeaderTimeout    Optional
	nCfg.ReadHeaderTimeout = specOrDefInt(y.HTTP.ReadHeaderTimeout, ReadHeaderTimeoutDefault)
	// HTTP.MaxHeaderBytes       Optional
	nCfg.MaxHeaderBytes = specOrDefInt(y.HTTP.MaxHeaderBytes, MaxHeaderBytesDefault)
	// HTTP.MaxRequestBytes      Optional
	nCfg.MaxRequestBytes = specOrDefInt(y.HTTP.MaxRequestBytes, MaxRequestBytesDefault)

	if len(errs) != 0 {
		return cfg, errs
	}
	return nCfg, nil
}

// VerifyRefreshConfig verifies .Refresh. Without the section the refresher
// is disabled.
func (y ConfigYAML) VerifyRefreshConfig(cfg DyTrustConfig) (DyTrustConfig, []error) {
	nCfg := cfg
	errs := make([]error, 0, errsCap4)

	if y.Refresh == nil {
		nCfg.RefreshEnabled = false
		nCfg.Interval = IntervalDefault
		nCfg.Delay = DelayDefault
		return nCfg, nil
	}
	nCfg.RefreshEnabled = true

	switch {
	case y.Refresh.Interval == nil:
		nCfg.Interval = IntervalDefault
	case *y.Refresh.Interval <= 0:
		errs = append(errs, InvalidParameterError{"refresh.interval", "the number of seconds must be > 0"})
	default:
		nCfg.Interval = *y.Refresh.Interval
	}

	switch {
	case y.Refresh.Delay == nil:
		nCfg.Delay = DelayDefault
	case *y.Refresh.Delay < 0:
		errs = append(errs, InvalidParameterError{"refresh.delay", "the number of seconds must be >= 0"})
	case *y.Refresh.Delay > nCfg.Interval:
		errs = append(errs, InvalidParameterError{"refresh.delay", "refresh.delay must be <= refresh.interval"})
	default:
		nCfg.Delay = *y.Refresh.Delay
	}

	nCfg.Watch = y.Refresh.Watch

	if len(errs) != 0 {
		return cfg, errs
	}
	return nCfg, nil
}

// Verify verifies the configuration root '.' using the ConfigYAML.Verify* methods.
// If it detects any invalid parameters, it returns an error slice.
// If there are no errors, it returns nil.
func (y ConfigYAML) Verify(cfg DyTrustConfig) (DyTrustConfig, []error) {
	nCfg := cfg
	errs := make([]error, 0, errsCap32)

	// .Version  Required 0.1 only
	nCfg.Version, errs = markMissRequiredStr(y.Version, "version", errs)
	if y.Version != "" {
		if matched, _ := regexp.MatchString(`\A(?:0.1)\z`, y.Version); !matched {
			errs = append(errs, InvalidParameterError{"version", "[0.1]"})
		}
	}

	verifiers := []func(DyTrustConfig) (DyTrustConfig, []error){
		// .Log.Level  Optional error, warn, info, debug (default: info)
		y.VerifyLogConfig,
		y.VerifyValidationConfig,
		y.VerifyRevocationConfig,
		y.VerifyRepositoryConfig,
		y.VerifyTrustConfig,
		y.VerifyHTTPConfig,
		y.VerifyRefreshConfig,
	}
	for _, verify := range verifiers {
		var vErrs []error
		nCfg, vErrs = verify(nCfg)
		if len(vErrs) != 0 {
			errs = append(errs, vErrs...)
		}
	}

	if len(errs) != 0 {
		return cfg, errs
	}
	return nCfg, nil
}
