package configstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kaspa-aio/controller/pkg/errdefs"
	"github.com/kaspa-aio/controller/pkg/log"
	"github.com/kaspa-aio/controller/pkg/types"
)

// Well-known artifact names under the project root.
const (
	EnvFileName     = ".env"
	ComposeFileName = "docker-compose.yml"
	stateDirName    = ".kaspa-aio"
	installFileName = "installation-state.json"
	wizardFileName  = "wizard-state.json"
)

// Store reads and writes the project's declarative artifacts: the
// environment file, the compose file, and the persisted state documents.
// Reads are total (a missing file yields an empty value); writes are
// two-phase for crash safety.
type Store struct {
	root   string
	mu     sync.Mutex
	logger zerolog.Logger
}

// New creates a store rooted at the project directory.
func New(projectRoot string) *Store {
	return &Store{
		root:   projectRoot,
		logger: log.WithComponent("configstore"),
	}
}

// Root returns the project root.
func (s *Store) Root() string { return s.root }

// EnvPath returns the environment file path.
func (s *Store) EnvPath() string { return filepath.Join(s.root, EnvFileName) }

// ComposePath returns the compose file path.
func (s *Store) ComposePath() string { return filepath.Join(s.root, ComposeFileName) }

func (s *Store) installPath() string {
	return filepath.Join(s.root, stateDirName, installFileName)
}

func (s *Store) wizardPath() string {
	return filepath.Join(s.root, stateDirName, wizardFileName)
}

// LoadEnv reads the environment file; missing yields an empty file.
func (s *Store) LoadEnv() (*EnvFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.EnvPath())
	if os.IsNotExist(err) {
		return NewEnvFile(), nil
	}
	if err != nil {
		return nil, err
	}
	return ParseEnv(data), nil
}

// SaveEnv writes the environment file atomically.
func (s *Store) SaveEnv(env *EnvFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return AtomicWrite(s.EnvPath(), env.Serialize())
}

// LoadCompose reads the compose file; missing yields an empty document.
func (s *Store) LoadCompose() (*ComposeFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.ComposePath())
	if os.IsNotExist(err) {
		return &ComposeFile{}, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseCompose(data)
}

// SaveCompose writes the compose file atomically.
func (s *Store) SaveCompose(cf *ComposeFile) error {
	data, err := cf.Serialize()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return AtomicWrite(s.ComposePath(), data)
}

// SetImageTag rewrites one service's image tag in the compose file.
func (s *Store) SetImageTag(serviceName, tag string) error {
	cf, err := s.LoadCompose()
	if err != nil {
		return err
	}
	if err := cf.SetImageTag(serviceName, tag); err != nil {
		return err
	}
	return s.SaveCompose(cf)
}

// LoadInstallationState reads the installation record; missing yields zero.
func (s *Store) LoadInstallationState() (types.InstallationState, error) {
	var state types.InstallationState
	err := s.loadJSON(s.installPath(), &state)
	return state, err
}

// SaveInstallationState persists the installation record.
func (s *Store) SaveInstallationState(state types.InstallationState) error {
	return s.saveJSON(s.installPath(), state)
}

// LoadWizardState reads the wizard progress; missing yields zero.
func (s *Store) LoadWizardState() (types.WizardState, error) {
	var state types.WizardState
	err := s.loadJSON(s.wizardPath(), &state)
	return state, err
}

// SaveWizardState persists the wizard progress.
func (s *Store) SaveWizardState(state types.WizardState) error {
	return s.saveJSON(s.wizardPath(), state)
}

// ClearWizardState removes the wizard progress file.
func (s *Store) ClearWizardState() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.wizardPath())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *Store) loadJSON(path string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errdefs.Wrap(err, errdefs.KindValidation, "%s is malformed", filepath.Base(path))
	}
	return nil
}

func (s *Store) saveJSON(path string, in any) error {
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return AtomicWrite(path, append(data, '\n'))
}

// AtomicWrite is the two-phase write: temp file in the target directory,
// fsync, then rename over the destination.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
