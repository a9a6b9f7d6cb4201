package zprune

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	glob "github.com/bmatcuk/doublestar/v4"
	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	zerr "zotregistry.dev/zprune/errors"
	"zotregistry.dev/zprune/pkg/config"
	zlog "zotregistry.dev/zprune/pkg/log"
	"zotregistry.dev/zprune/pkg/registry"
)

const envPrefix = "zprune"

// metadataConfig reports metadata after parsing, which we use to track
// errors.
func metadataConfig(md *mapstructure.Metadata) viper.DecoderConfigOption {
	return func(c *mapstructure.DecoderConfig) {
		c.Metadata = md
	}
}

// setDefaults registers every key so that environment variables can override keys absent from the file.
func setDefaults(viperInstance *viper.Viper, conf *config.Config) {
	viperInstance.SetDefault("registry::backend", conf.Registry.Backend)
	viperInstance.SetDefault("registry::repository", conf.Registry.Repository)
	viperInstance.SetDefault("registry::region", conf.Registry.Region)
	viperInstance.SetDefault("registry::insecure", conf.Registry.Insecure)
	viperInstance.SetDefault("registry::concurrency", conf.Registry.Concurrency)
	viperInstance.SetDefault("registry::deleteRate", conf.Registry.DeleteRate)
	viperInstance.SetDefault("retention::keep", conf.Retention.Keep)
	viperInstance.SetDefault("retention::grace", conf.Retention.Grace)
	viperInstance.SetDefault("log::level", conf.Log.Level)
	viperInstance.SetDefault("log::output", conf.Log.Output)
	viperInstance.SetDefault("log::audit", conf.Log.Audit)
	viperInstance.SetDefault("metrics::pushgateway", conf.Metrics.PushGateway)
	viperInstance.SetDefault("metrics::job", conf.Metrics.Job)
}

func readConfigFile(viperInstance *viper.Viper, configPath string, logger zlog.Logger) error {
	ext := filepath.Ext(configPath)
	ext = strings.Replace(ext, ".", "", 1)

	/* if file extension is not supported, try everything
	it's also possible that the filename is starting with a dot eg: ".config". */
	if !slices.Contains(viper.SupportedExts, ext) {
		ext = ""
	}

	switch ext {
	case "":
		logger.Info().Str("path", configPath).Msg("config file with no extension, trying all supported config types")

		var err error

		for _, configType := range viper.SupportedExts {
			viperInstance.SetConfigType(configType)
			viperInstance.SetConfigFile(configPath)

			err = viperInstance.ReadInConfig()
			if err == nil {
				break
			}
		}

		if err != nil {
			logger.Error().Err(err).Str("path", configPath).
				Msg("failed to read configuration, tried all supported config types")

			return err
		}
	default:
		viperInstance.SetConfigFile(configPath)

		if err := viperInstance.ReadInConfig(); err != nil {
			logger.Error().Err(err).Str("path", configPath).Msg("failed to read configuration")

			return err
		}
	}

	return nil
}

// LoadConfiguration fills conf from defaults, the optional config file, ZPRUNE_ environment variables
// and finally the command line flags that were explicitly set.
func LoadConfiguration(conf *config.Config, configPath string, flags *pflag.FlagSet, logger zlog.Logger) error {
	// glob patterns in per image policies may contain dots
	viperInstance := viper.NewWithOptions(viper.KeyDelimiter("::"))

	setDefaults(viperInstance, conf)

	viperInstance.SetEnvPrefix(envPrefix)
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer("::", "_"))
	viperInstance.AutomaticEnv()

	if configPath != "" {
		if err := readConfigFile(viperInstance, configPath, logger); err != nil {
			return err
		}
	}

	metaData := &mapstructure.Metadata{}

	decoderOpts := []viper.DecoderConfigOption{
		metadataConfig(metaData),
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		),
	}

	if err := viperInstance.UnmarshalExact(&conf, decoderOpts...); err != nil {
		logger.Error().Err(err).Msg("failed to unmarshal new config")

		return fmt.Errorf("%w: %w", zerr.ErrBadConfig, err)
	}

	if len(metaData.Unused) > 0 {
		msg := "failed to load config due to unknown keys"
		logger.Error().Err(zerr.ErrBadConfig).Strs("keys", metaData.Unused).Msg(msg)

		return fmt.Errorf("%w: %s", zerr.ErrBadConfig, msg)
	}

	if flags != nil {
		if err := applyFlags(conf, flags); err != nil {
			return err
		}
	}

	return validateConfiguration(conf, logger)
}

// applyFlags overrides conf with the flags set on the command line.
func applyFlags(conf *config.Config, flags *pflag.FlagSet) error {
	var err error

	if flags.Changed("repo") {
		conf.Registry.Repository, err = flags.GetString("repo")
	}

	if err == nil && flags.Changed("backend") {
		conf.Registry.Backend, err = flags.GetString("backend")
	}

	if err == nil && flags.Changed("region") {
		conf.Registry.Region, err = flags.GetString("region")
	}

	if err == nil && flags.Changed("insecure") {
		conf.Registry.Insecure, err = flags.GetBool("insecure")
	}

	if err == nil && flags.Changed("concurrency") {
		conf.Registry.Concurrency, err = flags.GetInt("concurrency")
	}

	if err == nil && flags.Changed("delete-rate") {
		conf.Registry.DeleteRate, err = flags.GetFloat64("delete-rate")
	}

	if err == nil && flags.Changed("keep") {
		conf.Retention.Keep, err = flags.GetInt("keep")
	}

	if err == nil && flags.Changed("grace") {
		var hours int

		hours, err = flags.GetInt("grace")
		conf.Retention.Grace = time.Duration(hours) * time.Hour
	}

	if err == nil && flags.Changed("log-level") {
		conf.Log.Level, err = flags.GetString("log-level")
	}

	if err != nil {
		return fmt.Errorf("%w: %w", zerr.ErrBadConfig, err)
	}

	return nil
}

func validateConfiguration(conf *config.Config, logger zlog.Logger) error {
	if err := validateRegistry(conf.Registry, logger); err != nil {
		return err
	}

	if err := validateRetention(conf.Retention, logger); err != nil {
		return err
	}

	if _, err := zerolog.ParseLevel(conf.Log.Level); err != nil {
		logger.Error().Err(err).Str("level", conf.Log.Level).Msg("invalid log level")

		return fmt.Errorf("%w: invalid log level %q", zerr.ErrBadConfig, conf.Log.Level)
	}

	if conf.IsMetricsEnabled() && conf.Metrics.Job == "" {
		logger.Error().Err(zerr.ErrBadConfig).Msg("metrics job name can not be empty")

		return fmt.Errorf("%w: metrics job name can not be empty", zerr.ErrBadConfig)
	}

	return nil
}

func validateRegistry(conf config.RegistryConfig, logger zlog.Logger) error {
	if !slices.Contains(registry.Backends(), strings.ToLower(conf.Backend)) {
		logger.Error().Err(zerr.ErrUnknownBackend).Str("backend", conf.Backend).Msg("invalid registry backend")

		return fmt.Errorf("%w: %q, expected one of %s", zerr.ErrUnknownBackend, conf.Backend,
			strings.Join(registry.Backends(), ", "))
	}

	if conf.Concurrency < 1 {
		logger.Error().Err(zerr.ErrBadConfig).Int("concurrency", conf.Concurrency).
			Msg("concurrency must be at least 1")

		return fmt.Errorf("%w: concurrency must be at least 1", zerr.ErrBadConfig)
	}

	if conf.DeleteRate < 0 {
		logger.Error().Err(zerr.ErrBadConfig).Float64("deleteRate", conf.DeleteRate).
			Msg("delete rate can not be negative")

		return fmt.Errorf("%w: delete rate can not be negative", zerr.ErrBadConfig)
	}

	return nil
}

func validateRetention(conf config.RetentionConfig, logger zlog.Logger) error {
	if conf.Keep < 0 || conf.Grace < 0 {
		logger.Error().Err(zerr.ErrBadConfig).Int("keep", conf.Keep).Str("grace", conf.Grace.String()).
			Msg("retention keep and grace can not be negative")

		return fmt.Errorf("%w: retention keep and grace can not be negative", zerr.ErrBadConfig)
	}

	for idx, policy := range conf.Policies {
		if len(policy.Images) == 0 {
			logger.Error().Err(zerr.ErrBadConfig).Int("policy", idx).Msg("retention policy has no images")

			return fmt.Errorf("%w: retention policy %d has no images", zerr.ErrBadConfig, idx)
		}

		for _, pattern := range policy.Images {
			if !glob.ValidatePattern(pattern) {
				logger.Error().Err(glob.ErrBadPattern).Str("pattern", pattern).Msg("invalid retention policy pattern")

				return fmt.Errorf("%w: %w: %q", zerr.ErrBadConfig, glob.ErrBadPattern, pattern)
			}
		}

		if (policy.Keep != nil && *policy.Keep < 0) || (policy.Grace != nil && *policy.Grace < 0) {
			logger.Error().Err(zerr.ErrBadConfig).Int("policy", idx).
				Msg("retention policy keep and grace can not be negative")

			return fmt.Errorf("%w: retention policy %d keep and grace can not be negative", zerr.ErrBadConfig, idx)
		}
	}

	return nil
}
