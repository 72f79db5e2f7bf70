package zuliprc

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

// Errors returned while resolving configuration.
var (
	ErrMissingCredentials = errors.New("api key or email not specified")
	ErrMissingSite        = errors.New("missing server URL; specify via --site or ~/.zuliprc")
	ErrInvalidInsecure    = errors.New("insecure must be 'true' or 'false'")
	ErrLegacyConfigFile   = errors.New("the API configuration file is now ~/.zuliprc; please run: mv ~/.humbugrc ~/.zuliprc")
	ErrClientKeyNoCert    = errors.New("client cert key specified, but no client cert public part provided")
)

const (
	// DefaultFileName is the configuration file looked up in the home
	// directory.
	DefaultFileName = ".zuliprc"
	legacyFileName  = ".humbugrc"
	section         = "api"
)

// Setting keys, shared by the INI file, viper and the environment.
const (
	keyEmail         = "email"
	keyAPIKey        = "key"
	keySite          = "site"
	keyClientCert    = "client_cert"
	keyClientCertKey = "client_cert_key"
	keyCertBundle    = "cert_bundle"
	keyInsecure      = "insecure"
	keyClient        = "client"
	keyVerbose       = "verbose"
	keyConfigFile    = "config_file"
)

// envNames maps setting keys to their environment variables.
var envNames = map[string]string{
	keyEmail:         "ZULIP_EMAIL",
	keyAPIKey:        "ZULIP_API_KEY",
	keySite:          "ZULIP_SITE",
	keyClientCert:    "ZULIP_CERT",
	keyClientCertKey: "ZULIP_CERT_KEY",
	keyCertBundle:    "ZULIP_CERT_BUNDLE",
	keyInsecure:      "ZULIP_ALLOW_INSECURE",
	keyClient:        "ZULIP_CLIENT",
	keyConfigFile:    "ZULIP_CONFIG",
}

// Config is a fully resolved client configuration.
type Config struct {
	Site          string
	Email         string
	APIKey        string
	ClientName    string
	ClientCert    string
	ClientCertKey string
	CertBundle    string
	Insecure      bool
	Verbose       bool
	// Path is the configuration file that was read, if any.
	Path string
}

// Validate checks the resolved configuration the way the client will use
// it: credentials and site must be present and referenced files must
// exist.
func (c *Config) Validate() error {
	if c.Email == "" || c.APIKey == "" {
		if c.Path == "" {
			return fmt.Errorf("%w and no configuration file exists", ErrMissingCredentials)
		}
		return fmt.Errorf("%w in %s", ErrMissingCredentials, c.Path)
	}
	if c.Site == "" {
		return ErrMissingSite
	}
	if !c.Insecure && c.CertBundle != "" {
		if !isFile(c.CertBundle) {
			return fmt.Errorf("tls bundle %q does not exist", c.CertBundle)
		}
	}
	if c.ClientCert == "" {
		if c.ClientCertKey != "" {
			return fmt.Errorf("%w: %q", ErrClientKeyNoCert, c.ClientCertKey)
		}
		return nil
	}
	if !isFile(c.ClientCert) {
		return fmt.Errorf("client cert %q does not exist", c.ClientCert)
	}
	if c.ClientCertKey != "" && !isFile(c.ClientCertKey) {
		return fmt.Errorf("client cert key %q does not exist", c.ClientCertKey)
	}
	return nil
}

// DefaultPath returns ~/.zuliprc. It fails when only the legacy
// ~/.humbugrc exists.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	path := filepath.Join(home, DefaultFileName)
	if !exists(path) && exists(filepath.Join(home, legacyFileName)) {
		return "", ErrLegacyConfigFile
	}
	return path, nil
}

// Load resolves the configuration with precedence flag > environment >
// file. flags may be nil; otherwise it must hold the flags added by
// AddFlags with the same prefix.
func Load(flags *pflag.FlagSet, prefix string) (*Config, error) {
	v := viper.New()
	for key, env := range envNames {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	if flags != nil {
		if err := bindFlags(v, flags, prefix); err != nil {
			return nil, err
		}
	}

	path := v.GetString(keyConfigFile)
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	path = expandHome(path)

	var loadedFrom string
	if exists(path) {
		settings, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := v.MergeConfigMap(settings); err != nil {
			return nil, fmt.Errorf("merge %s: %w", path, err)
		}
		loadedFrom = path
	}

	insecure, err := parseInsecure(v.GetString(keyInsecure), loadedFrom)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Site:          v.GetString(keySite),
		Email:         v.GetString(keyEmail),
		APIKey:        v.GetString(keyAPIKey),
		ClientName:    v.GetString(keyClient),
		ClientCert:    expandHome(v.GetString(keyClientCert)),
		ClientCertKey: expandHome(v.GetString(keyClientCertKey)),
		CertBundle:    expandHome(v.GetString(keyCertBundle)),
		Insecure:      insecure,
		Verbose:       v.GetBool(keyVerbose),
		Path:          loadedFrom,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads and validates a single zuliprc file, ignoring flags and
// the environment.
func LoadFile(path string) (*Config, error) {
	settings, err := readFile(path)
	if err != nil {
		return nil, err
	}
	str := func(key string) string {
		s, _ := settings[key].(string)
		return s
	}
	insecure, err := parseInsecure(str(keyInsecure), path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		Site:          str(keySite),
		Email:         str(keyEmail),
		APIKey:        str(keyAPIKey),
		ClientCert:    expandHome(str(keyClientCert)),
		ClientCertKey: expandHome(str(keyClientCertKey)),
		CertBundle:    expandHome(str(keyCertBundle)),
		Insecure:      insecure,
		Path:          path,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFiles loads KEY=value files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if !exists(path) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// readFile parses the [api] section of an INI file.
func readFile(path string) (map[string]any, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	sec, err := file.GetSection(section)
	if err != nil {
		return nil, fmt.Errorf("%s: no [%s] section", path, section)
	}
	settings := make(map[string]any, len(sec.Keys()))
	for _, key := range sec.Keys() {
		settings[key.Name()] = key.String()
	}
	return settings, nil
}

// parseInsecure accepts only "true" or "false" (any case) so security is
// never disabled by a typo.
func parseInsecure(value, path string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "false":
		return false, nil
	case "true":
		return true, nil
	}
	if path == "" {
		return false, fmt.Errorf("%w: got %q", ErrInvalidInsecure, value)
	}
	return false, fmt.Errorf("%w: got %q in %s", ErrInvalidInsecure, value, path)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
