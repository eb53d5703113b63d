package pipeline

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// builtinFS holds the scenario definitions embedded in the binary. They
// are extracted to the scenario directory on first boot and act as the
// last-resort fallback when that directory is missing or empty.
//
//go:embed scenarios/*.yaml
var builtinFS embed.FS

// defaultGreeting is the opening phrase when a scenario sets none.
const defaultGreeting = "Hallo, waarmee kan ik je helpen?"

// Scenario configures one conversational flow: the agent's system
// prompt and the fixed greeting. Files are YAML; plain JSON parses too.
type Scenario struct {
	Name          string `yaml:"name"`
	Prompt        string `yaml:"prompt"`
	GreetingText  string `yaml:"greeting_text"`
	GreetingAudio string `yaml:"greeting_audio"`
}

// Greeting returns the scenario's opening phrase.
func (s Scenario) Greeting() string {
	if s.GreetingText != "" {
		return s.GreetingText
	}
	return defaultGreeting
}

// Instructions returns the system prompt for the agent.
func (s Scenario) Instructions() string {
	if s.Prompt != "" {
		return strings.TrimSpace(s.Prompt)
	}
	return strings.TrimSpace(builtinScenario().Prompt)
}

// GreetingAudioPath resolves the optional pre-recorded greeting file
// relative to the scenario directory. It returns "" when no playable
// file is configured.
func (s Scenario) GreetingAudioPath(dir string) string {
	if s.GreetingAudio == "" {
		return ""
	}
	p := s.GreetingAudio
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
		return p
	}
	return ""
}

// scenarioExts is the resolution order within one scenario name.
var scenarioExts = []string{".yaml", ".yml", ".json"}

// LoadScenario loads the named scenario from dir, trying
// <name>.yaml/.yml/.json, then the default scenario on disk, then the
// embedded default. It never fails; a misconfigured scenario directory
// degrades to the built-in conversation.
func LoadScenario(dir, name string) Scenario {
	if name == "" {
		name = "default"
	}
	names := []string{name}
	if name != "default" {
		names = append(names, "default")
	}

	if dir != "" {
		for _, base := range names {
			for _, ext := range scenarioExts {
				path := filepath.Join(dir, base+ext)
				sc, err := readScenarioFile(path)
				if err == nil {
					return sc
				}
				if !errors.Is(err, fs.ErrNotExist) {
					slog.Warn("skipping unreadable scenario file", "path", path, "error", err)
				}
			}
		}
	}

	return builtinScenario()
}

func readScenarioFile(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, err
	}
	return parseScenario(data, path)
}

func parseScenario(data []byte, source string) (Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("parsing scenario %s: %w", source, err)
	}
	return sc, nil
}

func builtinScenario() Scenario {
	data, err := builtinFS.ReadFile("scenarios/default.yaml")
	if err == nil {
		if sc, perr := parseScenario(data, "embedded default"); perr == nil {
			return sc
		}
	}
	return Scenario{Name: "default", GreetingText: defaultGreeting}
}

// ExtractScenarios writes the embedded scenario definitions into dir so
// operators can edit them. Files that already exist on disk are left
// alone, preserving local changes.
func ExtractScenarios(dir string) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating scenario directory: %w", err)
	}

	entries, err := builtinFS.ReadDir("scenarios")
	if err != nil {
		return fmt.Errorf("reading embedded scenarios: %w", err)
	}

	for _, entry := range entries {
		dest := filepath.Join(dir, entry.Name())

		if _, err := os.Stat(dest); err == nil {
			slog.Debug("scenario already exists, skipping", "file", entry.Name())
			continue
		}

		data, err := builtinFS.ReadFile("scenarios/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading embedded scenario %s: %w", entry.Name(), err)
		}

		if err := os.WriteFile(dest, data, 0640); err != nil {
			return fmt.Errorf("writing scenario %s: %w", entry.Name(), err)
		}

		slog.Info("extracted scenario", "file", entry.Name(), "path", dest)
	}

	return nil
}
