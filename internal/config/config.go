// Package config handles loading of ports, toolchain commands, limits, etc.
// Values come from an optional YAML file and are overridden by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// HTTP server port for the runner
	HTTPPort int

	// Write timeout for HTTP responses. Must cover a full pipeline run.
	HTTPWriteTimeout time.Duration

	// Execution backend for toolchain stages: "exec" or "docker"
	Runtime string

	// Image used by the docker runtime
	DockerImage string

	// Directory under which per-job workspaces are created
	WorkspaceRoot string

	// Name prefix of every workspace directory
	WorkspacePrefix string

	// Path (relative to the workspace) the submitted source is written to
	SourcePath string

	// Path (relative to the workspace) of the toolchain manifest
	ManifestPath string

	// Optional file whose contents replace the built-in manifest
	ManifestTemplate string

	// Toolchain stages
	CompileCommand []string
	CodegenCommand []string
	StageTimeout   time.Duration

	// Directories (relative to the workspace) scanned for artifacts
	OutputRoots []string

	// Upper bound on simultaneously running jobs
	MaxConcurrentJobs int

	// Limits
	MaxSourceBytes        int64
	MaxOutputBytes        int
	MaxArtifactBytes      int64
	MaxTotalArtifactBytes int64

	// Per-client request rate. 0 disables limiting.
	RateLimit      float64
	RateLimitBurst int

	// Optional API keys. Empty disables authentication.
	APIKeys []string

	// OTLP gRPC collector address. Empty disables tracing export.
	OTELEndpoint string
}

var validRuntimes = map[string]bool{
	"exec":   true,
	"docker": true,
}

// Load reads configuration from the given file path (if any) and environment variables.
// Environment variables take precedence over file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("templerunner")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{
		HTTPPort:              v.GetInt("http_port"),
		HTTPWriteTimeout:      v.GetDuration("http_write_timeout"),
		Runtime:               strings.ToLower(strings.TrimSpace(v.GetString("runtime"))),
		DockerImage:           v.GetString("docker_image"),
		WorkspaceRoot:         v.GetString("workspace_root"),
		WorkspacePrefix:       v.GetString("workspace_prefix"),
		SourcePath:            v.GetString("source_path"),
		ManifestPath:          v.GetString("manifest_path"),
		ManifestTemplate:      v.GetString("manifest_template"),
		CompileCommand:        v.GetStringSlice("compile_command"),
		CodegenCommand:        v.GetStringSlice("codegen_command"),
		StageTimeout:          v.GetDuration("stage_timeout"),
		OutputRoots:           v.GetStringSlice("output_roots"),
		MaxConcurrentJobs:     v.GetInt("max_concurrent_jobs"),
		MaxSourceBytes:        v.GetInt64("max_source_bytes"),
		MaxOutputBytes:        v.GetInt("max_output_bytes"),
		MaxArtifactBytes:      v.GetInt64("max_artifact_bytes"),
		MaxTotalArtifactBytes: v.GetInt64("max_total_artifact_bytes"),
		RateLimit:             v.GetFloat64("rate_limit"),
		RateLimitBurst:        v.GetInt("rate_limit_burst"),
		APIKeys:               v.GetStringSlice("api_keys"),
		OTELEndpoint:          v.GetString("otel_endpoint"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 3000)
	v.SetDefault("http_write_timeout", 15*time.Minute)
	v.SetDefault("runtime", "exec")
	v.SetDefault("docker_image", "aztecprotocol/aztec:0.82.3")
	v.SetDefault("workspace_root", os.TempDir())
	v.SetDefault("workspace_prefix", "texcoco-")
	v.SetDefault("source_path", "src/main.nr")
	v.SetDefault("manifest_path", "Nargo.toml")
	v.SetDefault("manifest_template", "")
	v.SetDefault("compile_command", []string{"/usr/src/aztec-nargo/compile_then_postprocess.sh", "compile"})
	v.SetDefault("codegen_command", []string{
		"node", "--no-warnings", "/usr/src/yarn-project/aztec/dest/bin/index.js",
		"codegen", "target", "--outdir", "src/artifacts",
	})
	v.SetDefault("stage_timeout", 5*time.Minute)
	v.SetDefault("output_roots", []string{"src/artifacts", "target"})
	v.SetDefault("max_concurrent_jobs", runtime.NumCPU())
	v.SetDefault("max_source_bytes", 1<<20)
	v.SetDefault("max_output_bytes", 4<<20)
	v.SetDefault("max_artifact_bytes", 8<<20)
	v.SetDefault("max_total_artifact_bytes", 32<<20)
	v.SetDefault("rate_limit", 0)
	v.SetDefault("rate_limit_burst", 5)
	v.SetDefault("api_keys", []string{})
	v.SetDefault("otel_endpoint", "")
}

// bindEnv maps config keys to their environment variables.
func bindEnv(v *viper.Viper) {
	binds := map[string]string{
		"http_port":                "PORT",
		"http_write_timeout":       "HTTP_WRITE_TIMEOUT",
		"runtime":                  "RUNTIME",
		"docker_image":             "DOCKER_IMAGE",
		"workspace_root":           "WORKSPACE_ROOT",
		"workspace_prefix":         "WORKSPACE_PREFIX",
		"source_path":              "SOURCE_PATH",
		"manifest_path":            "MANIFEST_PATH",
		"manifest_template":        "MANIFEST_TEMPLATE",
		"compile_command":          "COMPILE_COMMAND",
		"codegen_command":          "CODEGEN_COMMAND",
		"stage_timeout":            "STAGE_TIMEOUT",
		"output_roots":             "OUTPUT_ROOTS",
		"max_concurrent_jobs":      "MAX_CONCURRENT_JOBS",
		"max_source_bytes":         "MAX_SOURCE_BYTES",
		"max_output_bytes":         "MAX_OUTPUT_BYTES",
		"max_artifact_bytes":       "MAX_ARTIFACT_BYTES",
		"max_total_artifact_bytes": "MAX_TOTAL_ARTIFACT_BYTES",
		"rate_limit":               "RATE_LIMIT",
		"rate_limit_burst":         "RATE_LIMIT_BURST",
		"api_keys":                 "API_KEYS",
		"otel_endpoint":            "OTEL_EXPORTER_OTLP_ENDPOINT",
	}
	for key, env := range binds {
		_ = v.BindEnv(key, env)
	}
}

func (c *Config) validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d (env: PORT)", c.HTTPPort)
	}
	if !validRuntimes[c.Runtime] {
		return fmt.Errorf("invalid runtime %q: must be exec or docker (env: RUNTIME)", c.Runtime)
	}
	if c.Runtime == "docker" && c.DockerImage == "" {
		return fmt.Errorf("docker_image is required for docker runtime (env: DOCKER_IMAGE)")
	}
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("workspace_root is required (env: WORKSPACE_ROOT)")
	}
	if len(c.CompileCommand) == 0 {
		return fmt.Errorf("compile_command is required (env: COMPILE_COMMAND)")
	}
	if len(c.CodegenCommand) == 0 {
		return fmt.Errorf("codegen_command is required (env: CODEGEN_COMMAND)")
	}
	if c.StageTimeout <= 0 {
		return fmt.Errorf("stage_timeout must be positive (env: STAGE_TIMEOUT)")
	}
	// Both stages must fit inside one response window.
	if c.HTTPWriteTimeout <= 2*c.StageTimeout {
		return fmt.Errorf("http_write_timeout %s must exceed twice stage_timeout %s (env: HTTP_WRITE_TIMEOUT)",
			c.HTTPWriteTimeout, c.StageTimeout)
	}
	if c.MaxSourceBytes <= 0 {
		return fmt.Errorf("max_source_bytes must be positive (env: MAX_SOURCE_BYTES)")
	}
	if err := checkPrefix(c.WorkspacePrefix); err != nil {
		return fmt.Errorf("invalid workspace_prefix: %w", err)
	}
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("max_concurrent_jobs must be positive (env: MAX_CONCURRENT_JOBS)")
	}
	for key, p := range map[string]string{"source_path": c.SourcePath, "manifest_path": c.ManifestPath} {
		if err := checkRelative(p); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	for _, root := range c.OutputRoots {
		if err := checkRelative(root); err != nil {
			return fmt.Errorf("invalid output_roots entry: %w", err)
		}
	}
	return nil
}

// checkPrefix requires a plain name fragment so workspaces stay directly under the root.
func checkPrefix(p string) error {
	if p == "" {
		return fmt.Errorf("prefix is empty")
	}
	if strings.ContainsAny(p, `/\`) || strings.Contains(p, "..") {
		return fmt.Errorf("%q must not contain path separators or ..", p)
	}
	return nil
}

// checkRelative rejects paths that would escape the workspace.
func checkRelative(p string) error {
	if p == "" {
		return fmt.Errorf("path is empty")
	}
	if filepath.IsAbs(p) {
		return fmt.Errorf("%q must be relative", p)
	}
	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%q escapes the workspace", p)
	}
	return nil
}
