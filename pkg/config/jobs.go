package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/errdefs"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/log"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
)

// JobFile is the on-disk layout of backup.yaml
type JobFile struct {
	Servers []types.JobDefinition `yaml:"servers"`
}

// JobSet is a parsed job file. Invalid holds one configuration error per
// job that failed validation; those jobs are not in Jobs.
type JobSet struct {
	Jobs    []types.JobDefinition
	Invalid []error
}

// ParseJobs decodes and validates job definitions
func ParseJobs(data []byte) (JobSet, error) {
	var file JobFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return JobSet{}, fmt.Errorf("failed to parse job file: %w", err)
	}

	var set JobSet
	for i, job := range file.Servers {
		job.Class = types.JobClass(strings.ToLower(string(job.Class)))
		if err := validate.Struct(&job); err != nil {
			set.Invalid = append(set.Invalid, errdefs.Configuration(
				fmt.Errorf("job %d (%s): %s", i+1, job.Target, describeValidation(err))))
			continue
		}
		set.Jobs = append(set.Jobs, job)
	}
	return set, nil
}

// LoadJobs reads and parses a job file
func LoadJobs(path string) (JobSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return JobSet{}, fmt.Errorf("failed to read job file: %w", err)
	}
	return ParseJobs(data)
}

// SaveJobs writes job definitions as YAML
func SaveJobs(path string, jobs []types.JobDefinition) error {
	data, err := yaml.Marshal(JobFile{Servers: jobs})
	if err != nil {
		return fmt.Errorf("failed to encode jobs: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, ", ")
}

// JobSource keeps the current job set of a file, reloading it when the
// file changes
type JobSource struct {
	path   string
	logger zerolog.Logger

	mu      sync.RWMutex
	set     JobSet
	loadErr error

	watcher *fsnotify.Watcher
}

// NewJobSource loads path once. A load failure is kept and returned by Jobs
// until a later reload succeeds.
func NewJobSource(path string) *JobSource {
	s := &JobSource{
		path:   path,
		logger: log.WithComponent("jobs"),
	}
	_ = s.Reload()
	return s
}

// Jobs returns the last successfully parsed job set, or the load error
func (s *JobSource) Jobs() (JobSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.loadErr != nil {
		return JobSet{}, s.loadErr
	}
	return s.set, nil
}

// Reload re-reads the file
func (s *JobSource) Reload() error {
	set, err := LoadJobs(s.path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.loadErr = err
		return err
	}
	s.set = set
	s.loadErr = nil
	return nil
}

// Watch reloads the job file on change until ctx is done. The parent
// directory is watched so editors that replace the file are noticed.
func (s *JobSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(s.path), err)
	}
	s.watcher = watcher

	go func() {
		defer watcher.Close()
		name := filepath.Clean(s.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != name {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if err := s.Reload(); err != nil {
					s.logger.Error().Err(err).Str("file", s.path).Msg("Failed to reload job file")
					continue
				}
				set, _ := s.Jobs()
				s.logger.Info().Int("jobs", len(set.Jobs)).Int("invalid", len(set.Invalid)).Msg("Job file reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn().Err(err).Msg("Job file watcher error")
			}
		}
	}()
	return nil
}
