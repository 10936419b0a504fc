// Package config handles configuration read before anything else starts:
// where the database is, where to listen, and the wheel timing knobs.
// This is used by both wheeld and wheelctl.
package config

import (
	"encoding/base64"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Init loads ~/.spinwheel.yaml and SPINWHEEL_* from the environment.
func Init() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	viper.SetConfigType("yaml")
	viper.SetConfigName(".spinwheel")
	viper.AddConfigPath(home)
	viper.SetEnvPrefix("spinwheel")
	viper.AutomaticEnv()
	SetDefaults()
	err = viper.ReadInConfig() // ignore error if config file missing
	if err != nil {
		log.Printf("viper can't read config file: %v", err)
	}
	log.Printf("Using sql connector: %s", SQLConnector())
	log.Printf("Using listen address: %s", ListenAddress())
}

// SetDefaults installs the default for every key.  Init calls it; tests
// that don't want to read files can call it alone.
func SetDefaults() {
	viper.SetDefault("db_url", "")
	viper.SetDefault("sql_connector", "memory")
	viper.SetDefault("listen_address", ":8080")
	viper.SetDefault("secure_cookies", false)
	viper.SetDefault("cookie_hash_key", "")
	viper.SetDefault("cookie_block_key", "")
	viper.SetDefault("allowed_origins", "")
	viper.SetDefault("frame_interval", 16*time.Millisecond)
	viper.SetDefault("grace_delay", 2*time.Second)
	viper.SetDefault("min_spin_duration", time.Second)
	viper.SetDefault("max_spin_duration", 5*time.Second)
	viper.SetDefault("default_spin_duration", 3*time.Second)
	viper.SetDefault("cache_size", 128)
	viper.SetDefault("listen_timeout", time.Hour)
}

func DBURL() string {
	return viper.GetString("db_url")
}

// SQLConnector is one of "memory", "pgx" or "connector".
func SQLConnector() string {
	return viper.GetString("sql_connector")
}

func ListenAddress() string {
	return viper.GetString("listen_address")
}

func SecureCookies() bool {
	return viper.GetBool("secure_cookies")
}

// CookieKeys returns the decoded hash and block keys.  Either may be nil
// if unset or unparseable, and the caller should generate one.
func CookieKeys() (hashKey, blockKey []byte) {
	decode := func(k string) []byte {
		v := viper.GetString(k)
		if v == "" {
			return nil
		}
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			log.Printf("warning: can't decode %s: %v", k, err)
			return nil
		}
		return b
	}
	return decode("cookie_hash_key"), decode("cookie_block_key")
}

func AllowedOrigins() []string {
	r := []string{}
	for _, o := range strings.Split(viper.GetString("allowed_origins"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			r = append(r, o)
		}
	}
	return r
}

func FrameInterval() time.Duration {
	return viper.GetDuration("frame_interval")
}

func GraceDelay() time.Duration {
	return viper.GetDuration("grace_delay")
}

func MinSpinDuration() time.Duration {
	return viper.GetDuration("min_spin_duration")
}

func MaxSpinDuration() time.Duration {
	return viper.GetDuration("max_spin_duration")
}

func DefaultSpinDuration() time.Duration {
	return viper.GetDuration("default_spin_duration")
}

func CacheSize() int {
	return viper.GetInt("cache_size")
}

func ListenTimeout() time.Duration {
	return viper.GetDuration("listen_timeout")
}
