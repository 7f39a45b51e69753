// Package config loads and hot-reloads the proxy's YAML configuration
// document. The two top-level sections, `config` and `debug`, follow
// predoxy's LoadYAMLConfig / api.Config nesting (gopkg.in/yaml.v3,
// os.ReadFile + yaml.Unmarshal into a typed struct tree).
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Debug holds the log-verbosity subset that is hot-reloadable on the fixed
// poll interval; every other field requires a restart to take effect.
type Debug struct {
	Info      bool `yaml:"info"`
	Warn      bool `yaml:"warn"`
	Err       bool `yaml:"err"`
	Pkt       bool `yaml:"pkt"`
	PktSecure bool `yaml:"pktsecure"`
	Net       bool `yaml:"net"`
	Cache     bool `yaml:"cache"`
	Cache2    bool `yaml:"cache2"`
	Filter    bool `yaml:"filter"`
}

// Config is the `config:` top-level section.
type Config struct {
	Listen         string   `yaml:"listen"`
	SSL            bool     `yaml:"ssl"`
	UpstreamLDAP   string   `yaml:"upstream_ldap"`
	UpstreamSSL    bool     `yaml:"upstream_ssl"`
	OutFilters     []string `yaml:"outfilter_dir"`
	InFilters      []string `yaml:"infilter_dir"`
	FilterValidate bool     `yaml:"filtervalidate"`
	LogSyslog      bool     `yaml:"log_syslog"`
	LogStderr      bool     `yaml:"log_stderr"`
	LogFile        string   `yaml:"log_file"`
	UseCache       bool     `yaml:"usecache"`
	CacheExpire    int      `yaml:"cacheexpire"`
	YAMLAttributes bool     `yaml:"yaml_attributes"`
	YAMLDir        string   `yaml:"yaml_dir"`
	OverlayPrefix  string   `yaml:"overlay_prefix"`

	// TLSCertFile/TLSKeyFile and UpstreamTLSCAFile are provisioning
	// details the proxy engine itself doesn't need, but something must
	// still tell Listen/Dial which files to read; they are consumed only
	// by cmd/ldapdoxy, never by the proxy core itself.
	TLSCertFile       string `yaml:"tls_cert_file"`
	TLSKeyFile        string `yaml:"tls_key_file"`
	UpstreamTLSCAFile string `yaml:"upstream_tls_ca_file"`
}

// Document is the full two-section YAML file.
type Document struct {
	Config Config `yaml:"config"`
	Debug  Debug  `yaml:"debug"`
}

// Load reads and parses path.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
