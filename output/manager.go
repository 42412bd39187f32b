package output

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Template is one output-file template. Its target path is itself a
// template, rendered per event so time-stamped filenames work.
type Template struct {
	// Name distinguishes multiple templates when their generated paths
	// are passed on to commands. Taken from a leading [name] in the
	// target filename, or the template index.
	Name string

	// TargetPath is the path template, relative to the output path.
	TargetPath string

	// Body is the template content after the settings header.
	Body string

	// Events is the event filter parsed from the %!event setting.
	// "all" and "*" match every event.
	Events []string

	// GeneratedPath is the most recently written output path.
	GeneratedPath string
}

// RegisteredToEvent reports whether the template should be generated
// for the given event.
func (t *Template) RegisteredToEvent(event string) bool {
	for _, e := range t.Events {
		if e == "all" || e == "*" || e == event {
			return true
		}
	}
	return false
}

// Manager owns the loaded templates and runs event commands.
type Manager struct {
	OutputPath string

	templates []*Template
	log       *zap.SugaredLogger
}

// NewManager creates a dispatcher writing under outputPath.
func NewManager(outputPath string, log *zap.SugaredLogger) *Manager {
	if outputPath == "" {
		outputPath = "."
	}
	return &Manager{OutputPath: outputPath, log: log}
}

// Templates returns the loaded templates.
func (m *Manager) Templates() []*Template {
	return m.templates
}

// AddTemplate parses the settings header of content and registers the
// template under the given target path.
func (m *Manager) AddTemplate(content, targetPath string) error {
	t := &Template{
		TargetPath: filepath.Base(targetPath),
	}

	// A target filename starting with [name] names the template, so
	// external programs can tell multiple generated files apart.
	if strings.HasPrefix(t.TargetPath, "[") {
		if end := strings.IndexByte(t.TargetPath, ']'); end > 0 {
			t.Name = t.TargetPath[1:end]
			t.TargetPath = t.TargetPath[end+1:]
		}
	}
	if t.Name == "" {
		t.Name = fmt.Sprintf("%d", len(m.templates))
	}

	body, err := parseSettings(t, content)
	if err != nil {
		return fmt.Errorf("template %s: %w", targetPath, err)
	}
	t.Body = body

	if len(t.Events) == 0 {
		m.log.Errorw("output template has no event filter, nothing will be generated",
			"template", t.TargetPath)
	}

	m.templates = append(m.templates, t)
	return nil
}

// LoadTemplateFile reads one template file and registers it.
func (m *Manager) LoadTemplateFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read template file %s: %w", path, err)
	}
	return m.AddTemplate(string(content), path)
}

// LoadTemplateFiles registers all given template files.
func (m *Manager) LoadTemplateFiles(paths []string) error {
	for _, p := range paths {
		if err := m.LoadTemplateFile(p); err != nil {
			return err
		}
	}
	return nil
}

// parseSettings consumes leading %!key value lines and returns the
// remaining template body.
func parseSettings(t *Template, content string) (string, error) {
	rest := content
	for {
		trimmed := strings.TrimLeft(rest, " \t\r\n")
		if !strings.HasPrefix(trimmed, "%!") {
			return rest, nil
		}
		rest = trimmed

		line := rest
		body := ""
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			line = rest[:nl]
			body = rest[nl+1:]
		}

		setting := strings.TrimSpace(line[2:])
		switch {
		case strings.HasPrefix(setting, "event"):
			value := strings.TrimSpace(strings.TrimPrefix(setting, "event"))
			for _, ev := range strings.Split(value, ",") {
				if ev = strings.TrimSpace(ev); ev != "" {
					t.Events = append(t.Events, ev)
				}
			}
		case strings.HasPrefix(setting, "nop"):
			// Recognized and ignored.
		default:
			return "", fmt.Errorf("unknown template setting %q", setting)
		}

		rest = body
	}
}

// GenerateForEvent renders every template registered to the event and
// writes the results under the output path. The generated paths are
// remembered so later renderings can refer to them via template_path.
func (m *Manager) GenerateForEvent(res Resolver, event string) error {
	if err := os.MkdirAll(m.OutputPath, 0o755); err != nil {
		return fmt.Errorf("failed to create output path %s: %w", m.OutputPath, err)
	}

	for _, t := range m.templates {
		t.GeneratedPath = ""
	}

	for _, t := range m.templates {
		if !t.RegisteredToEvent(event) {
			continue
		}

		path, err := Render(res, t.TargetPath)
		if err != nil {
			return fmt.Errorf("failed to render target path for template %s: %w", t.TargetPath, err)
		}
		full := filepath.Join(m.OutputPath, SanitizePath(path))

		body, err := Render(res, t.Body)
		if err != nil {
			return fmt.Errorf("failed to render template %s: %w", t.TargetPath, err)
		}

		if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
			return fmt.Errorf("failed to write template output %s: %w", full, err)
		}

		t.GeneratedPath = full
	}

	return nil
}

// GeneratedPath resolves the template_path variable: an empty name
// means the first template, otherwise the template with that name.
func (m *Manager) GeneratedPath(name string) (string, error) {
	if name == "" {
		if len(m.templates) == 0 {
			return "", fmt.Errorf("no output templates loaded")
		}
		return m.templates[0].GeneratedPath, nil
	}
	for _, t := range m.templates {
		if t.Name == name {
			return t.GeneratedPath, nil
		}
	}
	return "", fmt.Errorf("no output template named %q", name)
}

// Execute renders the templates registered to event, then renders the
// command line and runs it through the shell. Render errors skip the
// command but never affect the machine state.
func (m *Manager) Execute(res Resolver, event, command string) {
	if command == "" {
		return
	}

	if err := m.GenerateForEvent(res, event); err != nil {
		m.log.Errorw("failed to generate templates", "event", event, "error", err)
		return
	}

	line, err := Render(res, command)
	if err != nil {
		m.log.Errorw("failed to render command", "event", event, "error", err)
		return
	}

	m.run(event, line)
}

// ExecuteArgs substitutes positional %0..%N placeholders and runs the
// command. This is the pre-template command style kept for backwards
// compatible setups.
func (m *Manager) ExecuteArgs(event, command string, args ...string) {
	if command == "" {
		return
	}

	line := command
	for i := len(args) - 1; i >= 0; i-- {
		line = strings.ReplaceAll(line, fmt.Sprintf("%%%d", i), args[i])
	}

	m.run(event, line)
}

func (m *Manager) run(event, line string) {
	cmd := exec.Command("sh", "-c", line)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		m.log.Errorw("failed to start event command", "event", event, "command", line, "error", err)
		return
	}

	// Reap in the background; a slow hook must not stall the frame loop.
	go func() {
		if err := cmd.Wait(); err != nil {
			m.log.Errorw("event command failed", "event", event, "command", line, "error", err)
		}
	}()
}
