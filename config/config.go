// Package config holds the compile-time table capacities and clock
// parameters for the OSAL. Defaults are embedded as yaml; a deployment
// can override them by pointing OSALCFG at a yaml file.
package config

import (
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	op "osal/osalp"
	"osal/oserr"
)

var defaults = `
tables:
  max_tasks: 64
  max_queues: 64
  max_bin_sems: 32
  max_count_sems: 32
  max_mutexes: 32
  max_streams: 32
  max_dirs: 8
  max_timebases: 8
  max_timers: 32
  max_modules: 8
  max_filesys: 8
  max_consoles: 2

clock:
  microsec_per_tick: 10000
  ticks_per_second: 100

limits:
  max_api_name: 20
  max_queue_depth: 64
  max_count_sem_value: 1024
  console_buf_depth: 256
`

type Config struct {
	Tables struct {
		MAX_TASKS      int `yaml:"max_tasks"`
		MAX_QUEUES     int `yaml:"max_queues"`
		MAX_BIN_SEMS   int `yaml:"max_bin_sems"`
		MAX_COUNT_SEMS int `yaml:"max_count_sems"`
		MAX_MUTEXES    int `yaml:"max_mutexes"`
		MAX_STREAMS    int `yaml:"max_streams"`
		MAX_DIRS       int `yaml:"max_dirs"`
		MAX_TIMEBASES  int `yaml:"max_timebases"`
		MAX_TIMERS     int `yaml:"max_timers"`
		MAX_MODULES    int `yaml:"max_modules"`
		MAX_FILESYS    int `yaml:"max_filesys"`
		MAX_CONSOLES   int `yaml:"max_consoles"`
	} `yaml:"tables"`
	Clock struct {
		// Duration of one OS tick, in microseconds.
		MICROSEC_PER_TICK int `yaml:"microsec_per_tick"`
		TICKS_PER_SECOND  int `yaml:"ticks_per_second"`
	} `yaml:"clock"`
	Limits struct {
		MAX_API_NAME        int `yaml:"max_api_name"`
		MAX_QUEUE_DEPTH     int `yaml:"max_queue_depth"`
		MAX_COUNT_SEM_VALUE int `yaml:"max_count_sem_value"`
		CONSOLE_BUF_DEPTH   int `yaml:"console_buf_depth"`
	} `yaml:"limits"`
}

var Conf *Config

func init() {
	Reset()
}

// Reset reloads the configuration from the embedded defaults, then
// applies the OSALCFG override if one is set. Used at init time and by
// tests that need a pristine configuration.
func Reset() {
	Conf = ReadConfig(defaults)
	if path := os.Getenv("OSALCFG"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("Read config %v err %v", path, err)
		}
		Conf = ReadConfig(string(b))
	}
}

func ReadConfig(params string) *Config {
	config := &Config{}
	d := yaml.NewDecoder(strings.NewReader(params))
	if err := d.Decode(&config); err != nil {
		log.Fatalf("Yaml decode %v err %v\n", params, err)
	}
	return config
}

// Capacity returns the configured table size for a resource class.
func (c *Config) Capacity(cl op.Tclass) int {
	switch cl {
	case op.CLASS_TASK:
		return c.Tables.MAX_TASKS
	case op.CLASS_QUEUE:
		return c.Tables.MAX_QUEUES
	case op.CLASS_BINSEM:
		return c.Tables.MAX_BIN_SEMS
	case op.CLASS_COUNTSEM:
		return c.Tables.MAX_COUNT_SEMS
	case op.CLASS_MUTEX:
		return c.Tables.MAX_MUTEXES
	case op.CLASS_STREAM:
		return c.Tables.MAX_STREAMS
	case op.CLASS_DIR:
		return c.Tables.MAX_DIRS
	case op.CLASS_TIMEBASE:
		return c.Tables.MAX_TIMEBASES
	case op.CLASS_TIMECB:
		return c.Tables.MAX_TIMERS
	case op.CLASS_MODULE:
		return c.Tables.MAX_MODULES
	case op.CLASS_FILESYS:
		return c.Tables.MAX_FILESYS
	case op.CLASS_CONSOLE:
		return c.Tables.MAX_CONSOLES
	default:
		return 0
	}
}

// Validate rejects unusable configurations: every class must have a
// positive capacity, and the tick parameters must describe exactly one
// second ( microsec_per_tick * ticks_per_second == 1e6 ); approximate
// products silently skew every tick<->time conversion.
func (c *Config) Validate() error {
	for cl := op.CLASS_TASK; cl < op.CLASS_MAX; cl++ {
		if c.Capacity(cl) <= 0 {
			return oserr.NewErr(oserr.TErrError, cl)
		}
	}
	if c.Clock.MICROSEC_PER_TICK <= 0 || c.Clock.TICKS_PER_SECOND <= 0 {
		return oserr.NewErr(oserr.TErrError, "tick configuration")
	}
	if int64(c.Clock.MICROSEC_PER_TICK)*int64(c.Clock.TICKS_PER_SECOND) != 1_000_000 {
		return oserr.NewErr(oserr.TErrError, "microsec_per_tick * ticks_per_second != 1e6")
	}
	if c.Limits.MAX_API_NAME <= 0 || c.Limits.MAX_QUEUE_DEPTH <= 0 ||
		c.Limits.MAX_COUNT_SEM_VALUE <= 0 || c.Limits.CONSOLE_BUF_DEPTH <= 0 {
		return oserr.NewErr(oserr.TErrError, "limits")
	}
	return nil
}
