// Package config loads service configuration from the environment.
// A .env file in the working directory is honoured when present.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	envcfg "github.com/pravindurgani/agent-sutra/internal/config"
)

// Config is the full runtime configuration. Loaded once at startup and
// passed down; packages never read the environment directly.
type Config struct {
	// Workspace layout
	BaseDir         string
	UploadsDir      string
	OutputsDir      string
	ProjectsDir     string
	PipCacheDir     string
	DBPath          string
	SchedulerDBPath string

	// Filesystem boundary for sandboxed execution
	HostHome string

	// Credentials and operator access
	AnthropicAPIKey string
	ChatToken       string
	AllowedUserIDs  []int64

	// Environment stripping for child processes
	ProtectedEnvKeys       map[string]bool
	ProtectedEnvSubstrings []string

	// Models
	DefaultModel       string
	ComplexModel       string
	OllamaBaseURL      string
	OllamaDefaultModel string
	EnableThinking     bool

	// Execution limits
	ExecutionTimeout        time.Duration
	MaxCodeExecutionTimeout time.Duration
	LongTimeout             time.Duration

	// Retry limits
	MaxRetries    int
	APIMaxRetries int

	// File limits
	MaxFileSizeBytes int64

	// Resource guards
	MaxConcurrentTasks  int
	RAMThresholdPercent float64
	UserCooldown        time.Duration

	// Budget controls (0 = unlimited)
	DailyBudgetUSD        float64
	MonthlyBudgetUSD      float64
	BudgetEscalationRatio float64

	// Container sandbox
	DockerEnabled     bool
	DockerImage       string
	DockerMemoryLimit string
	DockerCPULimit    float64
	DockerPidsLimit   int
	DockerNetwork     string

	// Pipeline tuning
	BigDataRowThreshold    int
	ArtifactSanityLimit    int
	LiveOutputLines        int
	FileInjectionCharCap   int
	CodingStandardsPath    string
	CodingStandardsCharCap int

	// Chat platform
	ChatMaxMessageLength int

	// Control plane
	ListenAddr string
}

// Load reads configuration from the environment, creating workspace
// directories as a side effect.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env not loaded: %v", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}

	baseDir := envcfg.ParseStringEnv("AGENTSUTRA_DIR", filepath.Join(home, ".agentsutra"))
	workspace := filepath.Join(baseDir, "workspace")

	cfg := &Config{
		BaseDir:         baseDir,
		UploadsDir:      filepath.Join(workspace, "uploads"),
		OutputsDir:      filepath.Join(workspace, "outputs"),
		ProjectsDir:     filepath.Join(workspace, "projects"),
		PipCacheDir:     filepath.Join(workspace, ".pip-cache"),
		DBPath:          filepath.Join(baseDir, "storage", "agentsutra.db"),
		SchedulerDBPath: filepath.Join(baseDir, "storage", "scheduler.db"),

		HostHome: home,

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		ChatToken:       os.Getenv("CHAT_BOT_TOKEN"),
		AllowedUserIDs:  parseUserIDs(os.Getenv("ALLOWED_USER_IDS")),

		ProtectedEnvKeys: map[string]bool{
			"ANTHROPIC_API_KEY": true,
			"CHAT_BOT_TOKEN":    true,
		},
		ProtectedEnvSubstrings: []string{"KEY", "TOKEN", "SECRET", "PASSWORD", "CREDENTIAL"},

		DefaultModel:       envcfg.ParseStringEnv("DEFAULT_MODEL", "claude-sonnet-4-6"),
		ComplexModel:       envcfg.ParseStringEnv("COMPLEX_MODEL", "claude-opus-4-6"),
		OllamaBaseURL:      envcfg.ParseStringEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaDefaultModel: envcfg.ParseStringEnv("OLLAMA_DEFAULT_MODEL", "llama3.1:8b"),
		EnableThinking:     envcfg.ParseBoolEnv("ENABLE_THINKING", true),

		ExecutionTimeout:        envcfg.ParseSecondsEnv("EXECUTION_TIMEOUT", 120*time.Second),
		MaxCodeExecutionTimeout: envcfg.ParseSecondsEnv("MAX_CODE_EXECUTION_TIMEOUT", 600*time.Second),
		LongTimeout:             envcfg.ParseSecondsEnv("LONG_TIMEOUT", 900*time.Second),

		MaxRetries:    envcfg.ParseIntEnv("MAX_RETRIES", 3),
		APIMaxRetries: envcfg.ParseIntEnv("API_MAX_RETRIES", 5),

		MaxFileSizeBytes: int64(envcfg.ParseIntEnv("MAX_FILE_SIZE_MB", 50)) * 1024 * 1024,

		MaxConcurrentTasks:  envcfg.ParseIntEnv("MAX_CONCURRENT_TASKS", 3),
		RAMThresholdPercent: envcfg.ParseFloatEnv("RAM_THRESHOLD_PERCENT", 90),
		UserCooldown:        envcfg.ParseSecondsEnv("USER_COOLDOWN", 5*time.Second),

		DailyBudgetUSD:        envcfg.ParseFloatEnv("DAILY_BUDGET_USD", 0),
		MonthlyBudgetUSD:      envcfg.ParseFloatEnv("MONTHLY_BUDGET_USD", 0),
		BudgetEscalationRatio: envcfg.ParseFloatEnv("BUDGET_ESCALATION_RATIO", 0.7),

		DockerEnabled:     envcfg.ParseBoolEnv("DOCKER_ENABLED", false),
		DockerImage:       envcfg.ParseStringEnv("DOCKER_IMAGE", "agentsutra-sandbox"),
		DockerMemoryLimit: envcfg.ParseStringEnv("DOCKER_MEMORY_LIMIT", "2g"),
		DockerCPULimit:    envcfg.ParseFloatEnv("DOCKER_CPU_LIMIT", 2),
		DockerPidsLimit:   envcfg.ParseIntEnv("DOCKER_PIDS_LIMIT", 256),
		DockerNetwork:     envcfg.ParseStringEnv("DOCKER_NETWORK", "bridge"),

		BigDataRowThreshold:    envcfg.ParseIntEnv("BIG_DATA_ROW_THRESHOLD", 500),
		ArtifactSanityLimit:    envcfg.ParseIntEnv("ARTIFACT_SANITY_LIMIT", 20),
		LiveOutputLines:        envcfg.ParseIntEnv("LIVE_OUTPUT_LINES", 50),
		FileInjectionCharCap:   envcfg.ParseIntEnv("FILE_INJECTION_CHAR_CAP", 10000),
		CodingStandardsPath:    envcfg.ParseStringEnv("CODING_STANDARDS_PATH", filepath.Join(baseDir, "coding_standards.txt")),
		CodingStandardsCharCap: envcfg.ParseIntEnv("CODING_STANDARDS_CHAR_CAP", 4000),

		ChatMaxMessageLength: envcfg.ParseIntEnv("CHAT_MAX_MESSAGE_LENGTH", 4096),

		ListenAddr: envcfg.ParseStringEnv("LISTEN_ADDR", "127.0.0.1:8811"),
	}

	for _, dir := range []string{
		cfg.UploadsDir, cfg.OutputsDir, cfg.ProjectsDir, cfg.PipCacheDir,
		filepath.Dir(cfg.DBPath),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	return cfg, nil
}

func parseUserIDs(raw string) []int64 {
	ids := make([]int64, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var id int64
		if _, err := fmt.Sscanf(part, "%d", &id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Allowed reports whether the given operator id is on the allow list.
// An empty allow list admits nobody.
func (c *Config) Allowed(userID int64) bool {
	for _, id := range c.AllowedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
