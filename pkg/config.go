package pkg

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/ManouchehrRasoulli/fswatchd/pkg/model"
	"github.com/ManouchehrRasoulli/fswatchd/pkg/pool"
)

type Backend string

const (
	FSNotifyBackend Backend = "fsnotify"
	NotifyBackend   Backend = "notify"
)

type LogConfig struct {
	File       string `yaml:"file"`
	Prefix     string `yaml:"prefix"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// Rule registers its actions for every listed event kind on Path.
type Rule struct {
	Path      string   `yaml:"path"`
	Events    []string `yaml:"events"`
	Recursive bool     `yaml:"recursive"`
	Command   []string `yaml:"command"`
	Index     bool     `yaml:"index"`
}

// Kinds parses the rule events; an empty list means every kind.
func (r Rule) Kinds() ([]model.EventKind, error) {
	if len(r.Events) == 0 {
		return model.Kinds, nil
	}
	kinds := make([]model.EventKind, 0, len(r.Events))
	for _, e := range r.Events {
		k, err := model.ParseEventKind(e)
		if err != nil {
			return nil, errors.Wrapf(err, "rule %q", r.Path)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

type Config struct {
	Workers        int       `yaml:"workers"`
	QueueSize      int       `yaml:"queue_size"`
	MailboxSize    int       `yaml:"mailbox_size"`
	BufferSize     int       `yaml:"buffer_size"`
	WalkLimit      int       `yaml:"walk_limit"`
	Backend        Backend   `yaml:"backend"`
	MetricsAddress string    `yaml:"metrics_address"`
	Log            LogConfig `yaml:"log"`
	Rules          []Rule    `yaml:"rules"`
}

// DefaultConfig holds the values used for fields a config file leaves out.
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		QueueSize:   64,
		MailboxSize: 256,
		BufferSize:  128,
		Backend:     FSNotifyBackend,
		Log: LogConfig{
			Prefix:     "fswatchd --> ",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

func ReadConfig(file string) (*Config, error) {
	yfile, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %q", file)
	}

	c := DefaultConfig()
	err = yaml.Unmarshal(yfile, &c)
	if err != nil {
		return nil, errors.Wrapf(err, "parse config %q", file)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports the first invalid field. An invalid worker count wraps
// pool.ErrConfiguration.
func (c *Config) Validate() error {
	if c.Workers < pool.MinWorkers {
		return errors.Wrapf(pool.ErrConfiguration, "workers must be at least %d, got %d", pool.MinWorkers, c.Workers)
	}
	switch c.Backend {
	case FSNotifyBackend, NotifyBackend:
	default:
		return errors.Errorf("unknown backend %q", c.Backend)
	}
	for i, r := range c.Rules {
		if r.Path == "" {
			return errors.Errorf("rule %d: empty path", i)
		}
		if _, err := r.Kinds(); err != nil {
			return err
		}
		if len(r.Command) == 0 && !r.Index {
			return errors.Errorf("rule %q: neither command nor index set", r.Path)
		}
	}
	return nil
}
