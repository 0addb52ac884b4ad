package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/agentd-ai/agentd/internal/capability"
)

// Config is the full agentd configuration.
type Config struct {
	Schema string `json:"$schema,omitempty"`
	// Model is the completion model, e.g. "anthropic/claude-sonnet-4".
	Model string `json:"model,omitempty"`
	// Instructions is the system prompt shared by every agent; a
	// per-agent value overrides it.
	Instructions string `json:"instructions,omitempty"`

	Provider map[string]ProviderConfig          `json:"provider,omitempty"`
	Agents   AgentsConfig                       `json:"agents,omitempty"`
	MCP      map[string]capability.ServerConfig `json:"mcp,omitempty"`
	Watcher  WatcherConfig                      `json:"watcher,omitempty"`
	Section  SectionConfig                      `json:"section,omitempty"`
	Limits   LimitsConfig                       `json:"limits,omitempty"`
}

// ProviderConfig carries credentials and model selection for one
// completion provider.
type ProviderConfig struct {
	APIKey   string `json:"apiKey,omitempty"`
	BaseURL  string `json:"baseUrl,omitempty"`
	Model    string `json:"model,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// AgentsConfig maps attached resources to their session settings,
// keyed by document id or channel id.
type AgentsConfig struct {
	Documents map[string]AgentConfig `json:"documents,omitempty"`
	Channels  map[string]AgentConfig `json:"channels,omitempty"`
}

// AgentConfig is the per-resource session configuration. The
// conversation id is the only field agentd writes back.
type AgentConfig struct {
	ConversationID string `json:"conversationId,omitempty"`
	Instructions   string `json:"instructions,omitempty"`
}

// WatcherConfig tunes the polling loops.
type WatcherConfig struct {
	// PollIntervalSeconds is the wait between poll cycles.
	PollIntervalSeconds int `json:"pollIntervalSeconds,omitempty"`
	// DebounceSeconds is the minimum gap between document-change
	// notifications. Independent of the poll interval.
	DebounceSeconds int `json:"debounceSeconds,omitempty"`
	// HistoryLimit is how many channel messages each cycle fetches.
	HistoryLimit int `json:"historyLimit,omitempty"`
}

// SectionConfig tunes the section protocol.
type SectionConfig struct {
	MaxChunkSize int `json:"maxChunkSize,omitempty"`
}

// LimitsConfig bounds the controller's loops.
type LimitsConfig struct {
	MaxIterations int `json:"maxIterations,omitempty"`
	MaxToolLoops  int `json:"maxToolLoops,omitempty"`
}

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.agentd/)
// 2. Global config (~/.config/agentd/ - XDG compatible)
// 3. Project config (.agentd/)
// 4. AGENTD_CONFIG file
// 5. AGENTD_CONFIG_CONTENT inline JSON
// 6. Environment variables
func Load(directory string) (*Config, error) {
	config := &Config{
		Provider: make(map[string]ProviderConfig),
		MCP:      make(map[string]capability.ServerConfig),
	}

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	// 1. Home-directory global config (~/.agentd/)
	home := os.Getenv("HOME")
	if home != "" {
		homeConfigDir := filepath.Join(home, ".agentd")
		loadOnce(filepath.Join(homeConfigDir, "agentd.json"), homeConfigDir)
		loadOnce(filepath.Join(homeConfigDir, "agentd.jsonc"), homeConfigDir)
	}

	// 2. XDG-compatible global config (~/.config/agentd/)
	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "agentd.json"), globalPath)
	loadOnce(filepath.Join(globalPath, "agentd.jsonc"), globalPath)

	// 3. Project config
	if directory != "" {
		projectConfigDir := filepath.Join(directory, ".agentd")
		loadOnce(filepath.Join(directory, "agentd.json"), directory)
		loadOnce(filepath.Join(directory, "agentd.jsonc"), directory)
		loadOnce(filepath.Join(projectConfigDir, "agentd.json"), projectConfigDir)
		loadOnce(filepath.Join(projectConfigDir, "agentd.jsonc"), projectConfigDir)
	}

	// 4. AGENTD_CONFIG file override
	if configPath := os.Getenv("AGENTD_CONFIG"); configPath != "" {
		configDir := filepath.Dir(configPath)
		loadOnce(configPath, configDir)
	}

	// 5. AGENTD_CONFIG_CONTENT inline JSON
	if configContent := os.Getenv("AGENTD_CONFIG_CONTENT"); configContent != "" {
		var inlineConfig Config
		if err := json.Unmarshal([]byte(configContent), &inlineConfig); err == nil {
			mergeConfig(config, &inlineConfig)
		}
	}

	// 6. Environment variables (highest priority)
	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	// Strip JSONC comments using tidwall/jsonc
	data = jsonc.ToJSON(data)

	// Apply interpolation
	data = interpolate(data, baseDir)

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	// Handle {env:VAR_NAME} placeholders
	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	// Handle {file:path} placeholders
	filePattern := regexp.MustCompile(`\{file:([^}]+)\}`)
	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		// Resolve path
		if strings.HasPrefix(filePath, "~/") {
			home := os.Getenv("HOME")
			filePath = filepath.Join(home, filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		// Escape for JSON string
		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")

		return escaped
	})

	return []byte(str)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.Instructions != "" {
		target.Instructions = source.Instructions
	}

	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}

	if source.Agents.Documents != nil {
		if target.Agents.Documents == nil {
			target.Agents.Documents = make(map[string]AgentConfig)
		}
		for k, v := range source.Agents.Documents {
			target.Agents.Documents[k] = v
		}
	}
	if source.Agents.Channels != nil {
		if target.Agents.Channels == nil {
			target.Agents.Channels = make(map[string]AgentConfig)
		}
		for k, v := range source.Agents.Channels {
			target.Agents.Channels[k] = v
		}
	}

	if source.MCP != nil {
		if target.MCP == nil {
			target.MCP = make(map[string]capability.ServerConfig)
		}
		for k, v := range source.MCP {
			target.MCP[k] = v
		}
	}

	if source.Watcher.PollIntervalSeconds != 0 {
		target.Watcher.PollIntervalSeconds = source.Watcher.PollIntervalSeconds
	}
	if source.Watcher.DebounceSeconds != 0 {
		target.Watcher.DebounceSeconds = source.Watcher.DebounceSeconds
	}
	if source.Watcher.HistoryLimit != 0 {
		target.Watcher.HistoryLimit = source.Watcher.HistoryLimit
	}
	if source.Section.MaxChunkSize != 0 {
		target.Section.MaxChunkSize = source.Section.MaxChunkSize
	}
	if source.Limits.MaxIterations != 0 {
		target.Limits.MaxIterations = source.Limits.MaxIterations
	}
	if source.Limits.MaxToolLoops != 0 {
		target.Limits.MaxToolLoops = source.Limits.MaxToolLoops
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *Config) {
	providerEnvMap := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
	}

	for provider, envVar := range providerEnvMap {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			if config.Provider == nil {
				config.Provider = make(map[string]ProviderConfig)
			}
			p := config.Provider[provider]
			if p.APIKey == "" {
				p.APIKey = apiKey
				config.Provider[provider] = p
			}
		}
	}

	if model := os.Getenv("AGENTD_MODEL"); model != "" {
		config.Model = model
	}
}

// SetConversationID records the durable conversation handle for an
// attached resource so the next run resumes the same conversation.
func (c *Config) SetConversationID(documentID, channelID, conversationID string) {
	if documentID != "" {
		if c.Agents.Documents == nil {
			c.Agents.Documents = make(map[string]AgentConfig)
		}
		agent := c.Agents.Documents[documentID]
		agent.ConversationID = conversationID
		c.Agents.Documents[documentID] = agent
		return
	}
	if channelID != "" {
		if c.Agents.Channels == nil {
			c.Agents.Channels = make(map[string]AgentConfig)
		}
		agent := c.Agents.Channels[channelID]
		agent.ConversationID = conversationID
		c.Agents.Channels[channelID] = agent
	}
}

// Save saves the configuration to a file.
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
