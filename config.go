package jackrabbit

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/hboutemy/jackrabbit/utils"
)

// ConfigResource is the optional repository configuration file, looked
// up in the repository home.
const ConfigResource = "repository.yaml"

const (
	metaDir       = "meta"
	workspacesDir = "workspaces"
	versionDir    = "version"
)

// Duration lets durations appear in the config file in their usual text
// form ("90s", "15m").
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// WorkspaceOptions configures one named workspace. An empty Driver
// inherits the repository-wide one; an empty Access list admits every
// authenticated user.
type WorkspaceOptions struct {
	Name   string   `yaml:"name"`
	Driver string   `yaml:"driver,omitempty"`
	Access []string `yaml:"access,omitempty"`
}

// SecurityOptions is the login policy. With no users configured the
// repository is open: any identity is accepted as presented.
type SecurityOptions struct {
	Users          map[string]string `yaml:"users,omitempty"`
	AllowAnonymous bool              `yaml:"allow_anonymous,omitempty"`
}

type Options struct {
	DefaultWorkspace string             `yaml:"default_workspace,omitempty"`
	Driver           string             `yaml:"driver,omitempty"`
	MaxIdleTime      Duration           `yaml:"max_idle_time,omitempty"`
	Workspaces       []WorkspaceOptions `yaml:"workspaces,omitempty"`
	Security         SecurityOptions    `yaml:"security,omitempty"`

	Logger     utils.Logger          `yaml:"-"`
	Registerer prometheus.Registerer `yaml:"-"`
}

func (o *Options) SetDefaults() {
	if o.DefaultWorkspace == "" {
		o.DefaultWorkspace = "default"
	}
	if o.Driver == "" {
		o.Driver = "pebble"
	}
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
	if len(o.Security.Users) == 0 {
		o.Security.AllowAnonymous = true
	}
}

// LoadConfig reads <home>/repository.yaml. A missing file is not an
// error; the zero Options with SetDefaults applied describe a usable
// repository.
func LoadConfig(home string) (Options, error) {
	var opts Options
	raw, err := os.ReadFile(filepath.Join(home, ConfigResource))
	if os.IsNotExist(err) {
		return opts, nil
	}
	if err != nil {
		return opts, err
	}
	if err := yaml.Unmarshal(raw, &opts); err != nil {
		return opts, fmt.Errorf("%w: %s: %v", ErrCorruptMetadata, ConfigResource, err)
	}
	return opts, nil
}
