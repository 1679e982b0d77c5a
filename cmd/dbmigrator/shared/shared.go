package shared

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/dbmigrator/dbmigrator"
)

// ConfigFileName is looked up in the working directory and then at the root
// of the enclosing git repository.
const ConfigFileName = ".dbmigrator.yaml"

type Flags struct {
	LogFormat       *string // see logger.go
	Database        *string // see root.go
	Migrations      *string // see root.go
	TableName       *string // see root.go
	ConfigFile      *string // see root.go
	Comparator      *string // see root.go
	AppliedBy       *string // see root.go
	LockTimeout     *string // see root.go
	TargetVersion   *string // see root.go
	BaselineVersion *string // see root.go
	AllowOutOfOrder *bool   // see root.go
	NoFixes         *bool   // see root.go
}

type Config struct {
	Database        string    `yaml:"database"`
	Migrations      string    `yaml:"migrations"`
	LogFormat       LogFormat `yaml:"log_format"`
	TableName       string    `yaml:"table_name"`
	Comparator      string    `yaml:"comparator"`
	AppliedBy       string    `yaml:"applied_by"`
	LockTimeout     string    `yaml:"lock_timeout"`
	TargetVersion   string    `yaml:"target_version"`
	BaselineVersion string    `yaml:"baseline_version"`
	AllowOutOfOrder bool      `yaml:"allow_out_of_order"`
	NoFixes         bool      `yaml:"no_fixes"`
}

type StateT struct {
	Flags  Flags
	Config Config
}

var State StateT //nolint:gochecknoglobals

func (state *StateT) Parse() {
	cf := state.Configfile()
	if !cf.IsSet() {
		return
	}
	contents, err := os.ReadFile(cf.Value())
	if err != nil {
		panic(fmt.Errorf("read config: %w", err))
	}
	if err := yaml.Unmarshal(contents, &state.Config); err != nil {
		panic(fmt.Errorf("parse config: %w", err))
	}
}

func (state StateT) Configfile() Variable[string] {
	return NewVariable(
		"configfile",
		flag(state.Flags.ConfigFile),
		os.Getenv(EnvName("configfile")),
		CheckPath(ConfigFileName), // in cwd
		RepoPath(ConfigFileName),  // in repo root
		"",                        // default to missing
	)
}

func (state StateT) Database() Variable[string] {
	return NewVariable(
		"database",
		flag(state.Flags.Database),
		os.Getenv(EnvName("database")),
		state.Config.Database,
		"", // default to missing
	)
}

func (state StateT) LogFormat() Variable[LogFormat] {
	return NewVariable(
		"log-format",
		LogFormat(flag(state.Flags.LogFormat)),
		LogFormat(os.Getenv(EnvName("log-format"))),
		state.Config.LogFormat,
		LogFormatText, // default
	)
}

func (state StateT) Migrations() Variable[string] {
	return NewVariable(
		"migrations",
		flag(state.Flags.Migrations),
		os.Getenv(EnvName("migrations")),
		state.Config.Migrations,
		"", // default to missing
	)
}

func (state StateT) TableName() Variable[string] {
	return NewVariable(
		"table-name",
		flag(state.Flags.TableName),
		os.Getenv(EnvName("table-name")),
		state.Config.TableName,
		dbmigrator.DefaultTableName, // default
	)
}

func (state StateT) Comparator() Variable[string] {
	return NewVariable(
		"comparator",
		flag(state.Flags.Comparator),
		os.Getenv(EnvName("comparator")),
		state.Config.Comparator,
		"simple", // default
	)
}

func (state StateT) AppliedBy() Variable[string] {
	return NewVariable(
		"applied-by",
		flag(state.Flags.AppliedBy),
		os.Getenv(EnvName("applied-by")),
		state.Config.AppliedBy,
		dbmigrator.DefaultAppliedBy, // default
	)
}

func (state StateT) LockTimeout() Variable[string] {
	return NewVariable(
		"lock-timeout",
		flag(state.Flags.LockTimeout),
		os.Getenv(EnvName("lock-timeout")),
		state.Config.LockTimeout,
		dbmigrator.DefaultLockTimeout.String(), // default
	)
}

func (state StateT) TargetVersion() Variable[string] {
	return NewVariable(
		"target-version",
		flag(state.Flags.TargetVersion),
		os.Getenv(EnvName("target-version")),
		state.Config.TargetVersion,
		"", // default to every recipe
	)
}

func (state StateT) BaselineVersion() Variable[string] {
	return NewVariable(
		"baseline-version",
		flag(state.Flags.BaselineVersion),
		os.Getenv(EnvName("baseline-version")),
		state.Config.BaselineVersion,
		"", // default to the highest baseline
	)
}

func (state StateT) AllowOutOfOrder() Variable[bool] {
	return NewVariable(
		"allow-out-of-order",
		flag(state.Flags.AllowOutOfOrder),
		os.Getenv(EnvName("allow-out-of-order")) == "true",
		state.Config.AllowOutOfOrder,
	)
}

func (state StateT) NoFixes() Variable[bool] {
	return NewVariable(
		"no-fixes",
		flag(state.Flags.NoFixes),
		os.Getenv(EnvName("no-fixes")) == "true",
		state.Config.NoFixes,
	)
}

func (state StateT) Logger() (*log.Logger, LogAdapter) {
	format := state.LogFormat().Value()
	logger, err := NewLogger(os.Stdout, format)
	if err != nil {
		panic(err)
	}
	return logger, LogAdapter{logger}
}

// Recipes loads every recipe from the migrations directory.
func (state StateT) Recipes() ([]dbmigrator.Recipe, error) {
	migrations := state.Migrations()
	if err := Validate(migrations); err != nil {
		return nil, err
	}
	return dbmigrator.Load(os.DirFS(migrations.Value()))
}

// Migrator builds a [dbmigrator.Migrator] for the recipes in dir, configured
// from the flags, environment and config file.
func (state StateT) Migrator(dir fs.FS, logger dbmigrator.Logger) (*dbmigrator.Migrator, error) {
	recipes, err := dbmigrator.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("load recipes: %w", err)
	}
	cmp, err := dbmigrator.ComparatorByName(state.Comparator().Value())
	if err != nil {
		return nil, err
	}
	timeout, err := time.ParseDuration(state.LockTimeout().Value())
	if err != nil {
		return nil, fmt.Errorf("invalid lock-timeout: %w", err)
	}
	m := dbmigrator.NewMigrator(recipes)
	m.Logger = logger
	m.Comparator = cmp
	m.LockTimeout = timeout
	m.AppliedBy = state.AppliedBy().Value()
	m.TargetVersion = state.TargetVersion().Value()
	m.BaselineVersion = state.BaselineVersion().Value()
	m.AllowOutOfOrder = state.AllowOutOfOrder().Value()
	m.AllowFixes = !state.NoFixes().Value()
	return m, nil
}

// Open parses the configuration and returns a migrator for the configured
// recipes, a connection to the configured database, and the logger for the
// command's own output. The caller closes the connection.
func (state *StateT) Open(ctx context.Context) (*dbmigrator.Migrator, Conn, *log.Logger, error) {
	state.Parse()
	database := state.Database()
	migrations := state.Migrations()
	if err := Validate(database, migrations); err != nil {
		return nil, nil, nil, err
	}
	slogger, mlogger := state.Logger()
	m, err := state.Migrator(os.DirFS(migrations.Value()), mlogger)
	if err != nil {
		return nil, nil, nil, err
	}
	conn, err := state.OpenConn(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return m, conn, slogger, nil
}

func RepoPath(p string) string {
	root, err := exec.Command("git", "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return ""
	}
	rootConfig := path.Join(strings.TrimSpace(string(root)), p)
	return CheckPath(rootConfig)
}

func CheckPath(p string) string {
	p, err := filepath.Abs(p)
	if err != nil {
		return ""
	}
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// flag dereferences a flag that may not have been registered.
func flag[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
