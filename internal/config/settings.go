package config

import (
	"os"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Settings holds the values operators may change while the server runs.
// It satisfies dicomuid.OrgRootSource.
type Settings struct {
	orgRoot atomic.Pointer[string]
	v       *viper.Viper
}

// NewSettings seeds live settings from a loaded Config.
func NewSettings(cfg *Config) *Settings {
	s := &Settings{}
	s.setOrgRoot(cfg.DicomUIDOrgRoot)
	return s
}

// DicomUIDOrgRoot returns the current organization UID root.
func (s *Settings) DicomUIDOrgRoot() string {
	if p := s.orgRoot.Load(); p != nil {
		return *p
	}
	return ""
}

func (s *Settings) setOrgRoot(root string) {
	root = strings.TrimSpace(root)
	s.orgRoot.Store(&root)
}

// Watch reloads the .env file on change and picks up a new org root.
// Environment variables still take precedence over the file.
func (s *Settings) Watch(logger zerolog.Logger) {
	s.watchFile(envFile, logger)
}

func (s *Settings) watchFile(file string, logger zerolog.Logger) {
	if _, err := os.Stat(file); err != nil {
		return
	}
	v := newViper(file)
	s.v = v
	v.OnConfigChange(func(e fsnotify.Event) {
		s.reload()
		logger.Info().
			Str("file", e.Name).
			Str("dicom_uid_org_root", s.DicomUIDOrgRoot()).
			Msg("configuration reloaded")
	})
	v.WatchConfig()
}

func (s *Settings) reload() {
	if s.v == nil {
		return
	}
	s.setOrgRoot(s.v.GetString(KeyDicomUIDOrgRoot))
}
