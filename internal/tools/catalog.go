package tools

import (
	"fmt"
	"time"

	"github.com/animus-coder/codevet/internal/config"
)

// Schema describes a catalog entry for clients.
type Schema struct {
	Name        string        `json:"name"`
	Kind        Kind          `json:"kind"`
	Description string        `json:"description"`
	Command     []string      `json:"command,omitempty"`
	Parameters  []SchemaField `json:"parameters"`
}

// SchemaField describes a single parameter.
type SchemaField struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// Catalog maps tool kinds to configured command templates.
type Catalog struct {
	commands   map[Kind][]string
	enabled    []Kind
	timeout    time.Duration
	runTimeout time.Duration
	fileExt    string
	workDir    string
}

// NewCatalog builds a catalog from tools and sandbox config.
func NewCatalog(toolsCfg config.ToolsConfig, sandboxCfg config.SandboxConfig) (*Catalog, error) {
	c := &Catalog{
		commands: map[Kind][]string{
			KindFormat:    toolsCfg.Format,
			KindLint:      toolsCfg.Lint,
			KindTypecheck: toolsCfg.Typecheck,
		},
		timeout:    time.Duration(toolsCfg.TimeoutSeconds) * time.Second,
		runTimeout: time.Duration(sandboxCfg.RunTimeoutSeconds) * time.Second,
		fileExt:    toolsCfg.FileExtension,
		workDir:    sandboxCfg.WorkingDir,
	}
	seen := make(map[Kind]struct{})
	for _, name := range toolsCfg.Enabled {
		kind, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		if !kind.Static() {
			return nil, fmt.Errorf("tool kind %q cannot be enabled as a static tool", name)
		}
		if len(c.commands[kind]) == 0 {
			return nil, fmt.Errorf("tool %q has no command configured", kind)
		}
		if _, ok := seen[kind]; ok {
			continue
		}
		seen[kind] = struct{}{}
		c.enabled = append(c.enabled, kind)
	}
	sortKinds(c.enabled)
	return c, nil
}

// Enabled returns the static kinds run on every fragment, in reporting order.
func (c *Catalog) Enabled() []Kind {
	return append([]Kind(nil), c.enabled...)
}

// Spec builds the invocation for a static kind.
func (c *Catalog) Spec(kind Kind) (InvocationSpec, error) {
	if !kind.Static() {
		return InvocationSpec{}, fmt.Errorf("kind %q has no catalog command", kind)
	}
	cmd := c.commands[kind]
	if len(cmd) == 0 {
		return InvocationSpec{}, fmt.Errorf("tool %q has no command configured", kind)
	}
	return InvocationSpec{
		Kind:    kind,
		Command: append([]string(nil), cmd...),
		Timeout: c.timeout,
		FileExt: c.fileExt,
	}, nil
}

// RunSpec builds the invocation for a detected run command.
func (c *Catalog) RunSpec(command string) (InvocationSpec, error) {
	argv := SplitCommand(command)
	if len(argv) == 0 {
		return InvocationSpec{}, fmt.Errorf("run command is empty")
	}
	return InvocationSpec{
		Kind:    KindRun,
		Command: argv,
		WorkDir: c.workDir,
		Timeout: c.runTimeout,
	}, nil
}

// Schemas describes the catalog for the tools endpoint.
func (c *Catalog) Schemas() []Schema {
	out := make([]Schema, 0, len(c.enabled)+1)
	for _, kind := range c.enabled {
		out = append(out, Schema{
			Name:        "pipeline." + string(kind),
			Kind:        kind,
			Description: fmt.Sprintf("Run %s on a code fragment written to a temporary %s file", c.commands[kind][0], c.fileExt),
			Command:     append([]string(nil), c.commands[kind]...),
			Parameters: []SchemaField{
				{Name: "body", Type: "string", Description: "Fragment source", Required: true},
				{Name: "language", Type: "string", Required: false},
			},
		})
	}
	out = append(out, Schema{
		Name:        "pipeline.run",
		Kind:        KindRun,
		Description: "Execute the run command detected in an assistant message",
		Parameters: []SchemaField{
			{Name: "text", Type: "string", Description: "Assistant message containing a run marker", Required: true},
		},
	})
	return out
}

// Schema returns the schema for a given name if present.
func (c *Catalog) Schema(name string) (Schema, bool) {
	for _, s := range c.Schemas() {
		if s.Name == name {
			return s, true
		}
	}
	return Schema{}, false
}

func sortKinds(kinds []Kind) {
	for i := 1; i < len(kinds); i++ {
		for j := i; j > 0 && kinds[j].Order() < kinds[j-1].Order(); j-- {
			kinds[j], kinds[j-1] = kinds[j-1], kinds[j]
		}
	}
}
