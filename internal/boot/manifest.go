package boot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

// KernelScheduler is the scheduler name that keeps a process on kernel scheduling.
const KernelScheduler = "kernel"

// Manifest is the boot image: the system processes started with the kernel.
type Manifest struct {
	// Manager names the process that delegates scheduling. Defaults to "pm".
	Manager string `yaml:"manager" toml:"manager" json:"manager"`
	// Include lists further manifests, as globs relative to this file.
	Include   []string      `yaml:"include" toml:"include" json:"include,omitempty"`
	Processes []ProcessSpec `yaml:"processes" toml:"processes" json:"processes"`
}

// ProcessSpec describes one boot process.
type ProcessSpec struct {
	Name       string   `yaml:"name" toml:"name" json:"name"`
	Privileges []string `yaml:"privileges" toml:"privileges" json:"privileges,omitempty"`
	MemorySize uint64   `yaml:"memory_size" toml:"memory_size" json:"memory_size,omitempty"`

	// Serve runs a scheduling server in this process.
	Serve bool `yaml:"serve" toml:"serve" json:"serve,omitempty"`
	// Forward makes the server hand every request to the named scheduler.
	Forward string `yaml:"forward" toml:"forward" json:"forward,omitempty"`

	// Scheduler names the serving process responsible for this one, or "kernel".
	Scheduler string `yaml:"scheduler" toml:"scheduler" json:"scheduler,omitempty"`
	Priority  int    `yaml:"priority" toml:"priority" json:"priority,omitempty"`
	Quantum   int    `yaml:"quantum" toml:"quantum" json:"quantum,omitempty"`
	CPU       int    `yaml:"cpu" toml:"cpu" json:"cpu,omitempty"`
}

var privilegeNames = map[string]kernel.Privilege{
	"magic_grant": kernel.PrivMagicGrant,
	"sched_ctl":   kernel.PrivSchedCtl,
	"system":      kernel.PrivSystem,
}

// PrivilegeMask converts the privilege names to a kernel mask.
func (p ProcessSpec) PrivilegeMask() (kernel.Privilege, error) {
	var mask kernel.Privilege
	for _, name := range p.Privileges {
		bit, ok := privilegeNames[strings.ToLower(name)]
		if !ok {
			return 0, fmt.Errorf("process %q: unknown privilege %q: %w", p.Name, name, errno.ErrInvalid)
		}
		mask |= bit
	}
	return mask, nil
}

// Default is the boot image used when no manifest is configured.
func Default() *Manifest {
	return &Manifest{
		Manager: "pm",
		Processes: []ProcessSpec{
			{Name: "pm", Privileges: []string{"system"}},
			{Name: "sched", Privileges: []string{"sched_ctl"}, Serve: true},
			{Name: "rs", Privileges: []string{"magic_grant"}, Scheduler: "sched", Priority: 4, Quantum: 200},
			{Name: "vfs", Privileges: []string{"magic_grant"}, Scheduler: "sched", Priority: 5, Quantum: 200},
			{Name: "tty", Scheduler: "sched", Priority: 1, Quantum: 200},
			{Name: "init", Scheduler: KernelScheduler, Priority: 7, Quantum: 200},
		},
	}
}

// Load reads a manifest and everything it includes. The format follows the extension:
// .yaml, .yml or .toml.
func Load(path string) (*Manifest, error) {
	m := &Manifest{}
	if err := load(path, m, make(map[string]bool)); err != nil {
		return nil, err
	}
	if m.Manager == "" {
		m.Manager = "pm"
	}
	m.Include = nil
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// load decodes path into a fresh manifest and appends its processes, includes first.
func load(path string, into *Manifest, seen map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("manifest %s: %w", path, err)
	}
	if seen[abs] {
		return fmt.Errorf("manifest %s included twice: %w", path, errno.ErrLoop)
	}
	seen[abs] = true

	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := decode(abs, data, &m); err != nil {
		return err
	}

	for _, pattern := range m.Include {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(filepath.Dir(abs), pattern)
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return fmt.Errorf("include pattern %q: %w", pattern, err)
		}
		for _, match := range matches {
			if err := load(match, into, seen); err != nil {
				return err
			}
		}
	}

	if m.Manager != "" {
		into.Manager = m.Manager
	}
	into.Processes = append(into.Processes, m.Processes...)
	return nil
}

func decode(path string, data []byte, m *Manifest) error {
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, m)
	case ".toml":
		err = toml.Unmarshal(data, m)
	default:
		return fmt.Errorf("manifest %s: unsupported format: %w", path, errno.ErrInvalid)
	}
	if err != nil {
		return fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return nil
}

// Validate checks names and references between processes.
func (m *Manifest) Validate() error {
	byName := make(map[string]ProcessSpec, len(m.Processes))
	for _, p := range m.Processes {
		if p.Name == "" {
			return fmt.Errorf("process without a name: %w", errno.ErrInvalid)
		}
		if _, dup := byName[p.Name]; dup {
			return fmt.Errorf("process %q declared twice: %w", p.Name, errno.ErrInvalid)
		}
		if _, err := p.PrivilegeMask(); err != nil {
			return err
		}
		byName[p.Name] = p
	}

	needManager := false
	for _, p := range m.Processes {
		if p.Forward != "" {
			if !p.Serve {
				return fmt.Errorf("process %q forwards but does not serve: %w", p.Name, errno.ErrInvalid)
			}
			if t, ok := byName[p.Forward]; !ok || !t.Serve {
				return fmt.Errorf("process %q forwards to %q, not a scheduler: %w", p.Name, p.Forward, errno.ErrInvalid)
			}
		}
		switch p.Scheduler {
		case "":
			continue
		case KernelScheduler:
		default:
			if t, ok := byName[p.Scheduler]; !ok || !t.Serve {
				return fmt.Errorf("process %q scheduled by %q, not a scheduler: %w", p.Name, p.Scheduler, errno.ErrInvalid)
			}
		}
		needManager = true
	}

	for _, p := range m.Processes {
		seen := map[string]bool{p.Name: true}
		for next := p.Forward; next != ""; next = byName[next].Forward {
			if seen[next] {
				return fmt.Errorf("process %q forwards back to %q: %w", p.Name, next, errno.ErrLoop)
			}
			seen[next] = true
		}
	}

	if needManager {
		mgr, ok := byName[m.Manager]
		if !ok {
			return fmt.Errorf("manager %q not declared: %w", m.Manager, errno.ErrInvalid)
		}
		mask, _ := mgr.PrivilegeMask()
		if !mask.Has(kernel.PrivSchedCtl) {
			return fmt.Errorf("manager %q lacks sched_ctl: %w", m.Manager, errno.ErrInvalid)
		}
	}
	for _, p := range m.Processes {
		if !p.Serve {
			continue
		}
		mask, _ := p.PrivilegeMask()
		if !mask.Has(kernel.PrivSchedCtl) {
			return fmt.Errorf("scheduler %q lacks sched_ctl: %w", p.Name, errno.ErrInvalid)
		}
	}
	return nil
}
