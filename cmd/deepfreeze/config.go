package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/deepfreeze/pkg/cluster"
	"github.com/cuemby/deepfreeze/pkg/objectstore"
)

// fileConfig is the `--config FILE` YAML document: connection details and
// default flag values. It is loaded first and every explicit CLI flag
// overrides it unconditionally -- never the reverse, sidestepping the
// "explicit kwarg wins only if truthy" ambiguity the Python source had.
type fileConfig struct {
	Elasticsearch struct {
		Addresses []string `yaml:"addresses"`
		Username  string   `yaml:"username"`
		Password  string   `yaml:"password"`
		CACert    string   `yaml:"ca_cert_file"`
	} `yaml:"elasticsearch"`

	S3 struct {
		Region          string `yaml:"region"`
		Endpoint        string `yaml:"endpoint"`
		AccessKeyID     string `yaml:"access_key_id"`
		SecretAccessKey string `yaml:"secret_access_key"`
	} `yaml:"s3"`

	RepoNamePrefix   string `yaml:"repo_name_prefix"`
	BucketNamePrefix string `yaml:"bucket_name_prefix"`
	BasePathPrefix   string `yaml:"base_path_prefix"`
}

// loadFileConfig reads and parses path; a missing path is not an error --
// every field simply keeps its flag-default value.
func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c fileConfig) clusterConfig() cluster.Config {
	var caCert []byte
	if c.Elasticsearch.CACert != "" {
		if data, err := os.ReadFile(c.Elasticsearch.CACert); err == nil {
			caCert = data
		}
	}
	return cluster.Config{
		Addresses: c.Elasticsearch.Addresses,
		Username:  c.Elasticsearch.Username,
		Password:  c.Elasticsearch.Password,
		CACert:    caCert,
	}
}

func (c fileConfig) objectStoreConfig() objectstore.AWSConfig {
	return objectstore.AWSConfig{
		Region:          c.S3.Region,
		Endpoint:        c.S3.Endpoint,
		AccessKeyID:     c.S3.AccessKeyID,
		SecretAccessKey: c.S3.SecretAccessKey,
	}
}
