// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package config

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// UploadBehavior selects whether an upload work item updates an existing
// Study in place or always inserts a new version.
type UploadBehavior string

const (
	UploadUpdate    UploadBehavior = "update"
	UploadInsertNew UploadBehavior = "insert_new"
)

// UploadMetadataMode selects the field-merge policy that
// store.applyBaseStudyMetadata applies when a BaseStudy is resolved.
type UploadMetadataMode string

const (
	MetadataFill      UploadMetadataMode = "fill"
	MetadataOverwrite UploadMetadataMode = "overwrite"
)

// sshConfig is a contract-only stanza: the SSH tunnel implementation
// itself is out of scope, but the fields are still parsed so a config
// file written against this schema round-trips. validateConfig does not
// check them.
type sshConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	User    string `yaml:"user"`
	KeyPath string `yaml:"key_path"`
	Port    int    `yaml:"port"`
}

// llmConfig names the LLM provider/model used by the create-analyses stage
// and the environment variable holding its API key.
type llmConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// pipelineConfig holds every pipeline-wide setting recognized from YAML,
// environment, or CLI override (precedence CLI > YAML > env > default).
type pipelineConfig struct {
	// root directories, created on startup
	DataRoot   string `yaml:"data_root"`
	CacheRoot  string `yaml:"cache_root"`
	NsPondRoot string `yaml:"ns_pond_root"`

	// stage selection
	Stages          []string `yaml:"stages"`
	UseCachedInputs bool     `yaml:"use_cached_inputs"`
	ManifestPath    string   `yaml:"manifest_path"`

	// bibliographic search queries seeding the gather stage, alongside
	// (or instead of) the manifest
	SearchQueries []string `yaml:"search_queries"`

	// source ordering
	DownloadSources   []string `yaml:"download_sources"`
	MetadataProviders []string `yaml:"metadata_providers"`

	// cache behavior
	CacheOnlyMode     bool     `yaml:"cache_only_mode"`
	ForceRedownload   bool     `yaml:"force_redownload"`
	ForceReextract    bool     `yaml:"force_reextract"`
	IgnoreCacheStages []string `yaml:"ignore_cache_stages"`

	// worker pool sizes
	MaxWorkers    int `yaml:"max_workers"`
	AceMaxWorkers int `yaml:"ace_max_workers"`
	NLLMWorkers   int `yaml:"n_llm_workers"`

	// export / sync behavior
	Export          bool `yaml:"export"`
	ExportOverwrite bool `yaml:"export_overwrite"`
	SyncOverwrite   bool `yaml:"sync_overwrite"`

	// upload behavior
	UploadBehavior     UploadBehavior     `yaml:"upload_behavior"`
	UploadMetadataOnly bool               `yaml:"upload_metadata_only"`
	UploadMetadataMode UploadMetadataMode `yaml:"upload_metadata_mode"`
	UploadUseSSH       bool               `yaml:"upload_use_ssh"`
	SSH                sshConfig          `yaml:"ssh"`

	// database DSN for the pgx-backed store
	DatabaseURL string `yaml:"database_url"`

	LLM llmConfig `yaml:"llm"`

	// debug logging toggle
	Debug bool `yaml:"debug"`

	// address the Prometheus /metrics handler listens on; empty disables it
	MetricsAddr string `yaml:"metrics_addr"`
}

// global config variables, set by Init and read by every package in the
// pipeline
var Pipeline pipelineConfig
var MessageQueues map[string]messageQueueConfig

// CanonicalStages is the fixed execution order; Pipeline.Stages is always
// validated and filtered against this order, never interpreted literally.
var CanonicalStages = []string{"gather", "download", "extract", "create_analyses", "upload", "sync"}

type configFile struct {
	Pipeline      pipelineConfig                `yaml:"pipeline"`
	MessageQueues map[string]messageQueueConfig `yaml:"message_queues"`
}

// readConfig expands ${ENV_VAR} references in the YAML bytes before
// unmarshalling, then copies the
// result into the package globals.
func readConfig(bytes []byte) error {
	bytes = []byte(os.ExpandEnv(string(bytes)))

	var conf configFile
	conf.Pipeline.CacheRoot = "cache"
	conf.Pipeline.DataRoot = "data"
	conf.Pipeline.NsPondRoot = "ns_pond"
	conf.Pipeline.Stages = CanonicalStages
	conf.Pipeline.DownloadSources = []string{"pubget", "elsevier", "ace"}
	conf.Pipeline.MetadataProviders = []string{"semantic_scholar", "pubmed"}
	conf.Pipeline.MaxWorkers = 4
	conf.Pipeline.AceMaxWorkers = 2
	conf.Pipeline.NLLMWorkers = 4
	conf.Pipeline.UploadBehavior = UploadUpdate
	conf.Pipeline.UploadMetadataMode = MetadataFill

	if err := yaml.Unmarshal(bytes, &conf); err != nil {
		log.Printf("Couldn't parse configuration data: %s\n", err)
		return err
	}

	Pipeline = conf.Pipeline
	MessageQueues = conf.MessageQueues
	return nil
}

func validateStages(stages []string) error {
	canonicalIndex := make(map[string]int, len(CanonicalStages))
	for i, s := range CanonicalStages {
		canonicalIndex[s] = i
	}
	for _, s := range stages {
		if _, ok := canonicalIndex[s]; !ok {
			return fmt.Errorf("unrecognized stage: %s", s)
		}
	}
	return nil
}

func validatePools(p pipelineConfig) error {
	if p.MaxWorkers <= 0 {
		return fmt.Errorf("invalid max_workers: %d (must be positive)", p.MaxWorkers)
	}
	if p.AceMaxWorkers <= 0 {
		return fmt.Errorf("invalid ace_max_workers: %d (must be positive)", p.AceMaxWorkers)
	}
	if p.NLLMWorkers <= 0 {
		return fmt.Errorf("invalid n_llm_workers: %d (must be positive)", p.NLLMWorkers)
	}
	return nil
}

func validateUpload(p pipelineConfig) error {
	switch p.UploadBehavior {
	case UploadUpdate, UploadInsertNew, "":
	default:
		return fmt.Errorf("invalid upload_behavior: %s", p.UploadBehavior)
	}
	switch p.UploadMetadataMode {
	case MetadataFill, MetadataOverwrite, "":
	default:
		return fmt.Errorf("invalid upload_metadata_mode: %s", p.UploadMetadataMode)
	}
	return nil
}

func validateConfig() error {
	if err := validateStages(Pipeline.Stages); err != nil {
		return err
	}
	if err := validatePools(Pipeline); err != nil {
		return err
	}
	return validateUpload(Pipeline)
}

// Init parses and validates the pipeline configuration from YAML bytes,
// populating the package globals on success.
func Init(yamlData []byte) error {
	if err := readConfig(yamlData); err != nil {
		return err
	}
	return validateConfig()
}

// OrderedStages returns Pipeline.Stages filtered and reordered to match
// CanonicalStages, so operator-supplied order never overrides the fixed
// pipeline sequence.
func OrderedStages() []string {
	selected := make(map[string]bool, len(Pipeline.Stages))
	for _, s := range Pipeline.Stages {
		selected[s] = true
	}
	out := make([]string, 0, len(CanonicalStages))
	for _, s := range CanonicalStages {
		if selected[s] {
			out = append(out, s)
		}
	}
	return out
}

// StageIgnoresCache reports whether the named stage should treat its cache
// as empty for this run (force_redownload/force_reextract plus the general
// ignore_cache_stages list).
func StageIgnoresCache(stage string) bool {
	switch stage {
	case "download":
		if Pipeline.ForceRedownload {
			return true
		}
	case "extract":
		if Pipeline.ForceReextract {
			return true
		}
	}
	for _, s := range Pipeline.IgnoreCacheStages {
		if s == stage {
			return true
		}
	}
	return false
}
