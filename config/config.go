package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type AppConfig struct {
	App struct {
		Name       string `mapstructure:"NAME"`
		DeviceName string `mapstructure:"DEVICE_NAME"`
		StateDir   string `mapstructure:"STATE_DIR"`
		// UserID and UserName sign the first session in; afterwards the
		// persisted session wins.
		UserID    string `mapstructure:"USER_ID"`
		UserName  string `mapstructure:"USER_NAME"`
		AvatarURL string `mapstructure:"AVATAR_URL"`
	}

	SYNC struct {
		// HeartbeatInterval must stay strictly below StaleThreshold or a
		// healthy device gets swept between its own beats.
		HeartbeatInterval time.Duration `mapstructure:"HEARTBEAT_INTERVAL"`
		StaleThreshold    time.Duration `mapstructure:"STALE_THRESHOLD"`
		// MediaCeilingBytes is the single media size limit. The historical
		// 10MB inline-encoding limit and the 100MB blob limit collapse into
		// this one knob.
		MediaCeilingBytes int64  `mapstructure:"MEDIA_CEILING_BYTES"`
		SuperAdminID      string `mapstructure:"SUPER_ADMIN_ID"`
		SessionSecret     string `mapstructure:"SESSION_SECRET"`
	}

	DATABASE struct {
		Redis struct {
			Addr     string `mapstructure:"ADDR"`
			Password string `mapstructure:"PASSWORD"`
		}
		Mongo struct {
			Url string `mapstructure:"URL"`
		}
	}

	RELAY struct {
		Port string `mapstructure:"PORT"`
		URL  string `mapstructure:"URL"`
	}
}

var Conf *AppConfig

func LoadConfig() error {
	viper.SetConfigName("application")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("SYNCFLOW")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SYNC.HEARTBEAT_INTERVAL", 30*time.Second)
	viper.SetDefault("SYNC.STALE_THRESHOLD", 60*time.Second)
	viper.SetDefault("SYNC.MEDIA_CEILING_BYTES", int64(100<<20))
	viper.SetDefault("APP.NAME", "syncflow")
	viper.SetDefault("APP.STATE_DIR", ".syncflow")
	viper.SetDefault("RELAY.PORT", ":8090")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// defaults plus environment are a valid configuration
	}

	var config AppConfig
	if err := viper.Unmarshal(&config); err != nil {
		return fmt.Errorf("error unmarshalling config: %w", err)
	}

	if config.SYNC.HeartbeatInterval >= config.SYNC.StaleThreshold {
		return fmt.Errorf("heartbeat interval %s must be below stale threshold %s",
			config.SYNC.HeartbeatInterval, config.SYNC.StaleThreshold)
	}

	Conf = &config
	log.Info().Msg("configuration loaded...")
	return nil
}
