// Package scheduler runs text commands on cron schedules.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kbrgb-controller/internal/core"
)

// Controller is what scheduled commands act on.
type Controller interface {
	core.CommandChannel
	SetEffect(ctx context.Context, kind core.EffectKind, dir core.Direction, script string) error
	SaveProfile(ctx context.Context, name string) error
	LoadProfile(ctx context.Context, name string, overwrite bool) error
}

// ScheduleEntry defines the structure for a saved schedule.
type ScheduleEntry struct {
	Spec    string `json:"spec"`
	Command string `json:"command"`
}

// Scheduler manages all cron-related tasks.
type Scheduler struct {
	cron          *cron.Cron
	store         map[cron.EntryID]ScheduleEntry
	controller    Controller
	mu            sync.RWMutex
	schedulesFile string
	logger        zerolog.Logger
}

// NewScheduler creates and loads a scheduler.
func NewScheduler(ctrl Controller, schedulesFile string) *Scheduler {
	s := &Scheduler{
		cron:          cron.New(),
		store:         make(map[cron.EntryID]ScheduleEntry),
		controller:    ctrl,
		schedulesFile: schedulesFile,
		logger:        log.With().Str("component", "scheduler").Logger(),
	}
	s.load()
	return s
}

// Start begins the cron job ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("Cron scheduler started.")
}

// Stop halts the cron job ticker and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Cron scheduler stopped.")
}

// Add validates the command and creates a new cron job.
func (s *Scheduler) Add(spec, command string) (cron.EntryID, error) {
	command = strings.TrimSpace(command)
	if err := Validate(command); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, func() { s.execute(command) })
	if err != nil {
		return 0, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.store[id] = ScheduleEntry{Spec: spec, Command: command}
	s.save()
	s.logger.Info().Int("id", int(id)).Str("spec", spec).Str("command", command).Msg("Added schedule")
	return id, nil
}

// Remove deletes a cron job.
func (s *Scheduler) Remove(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID := cron.EntryID(id)
	if _, ok := s.store[entryID]; !ok {
		return fmt.Errorf("no schedule with id %d", id)
	}
	s.cron.Remove(entryID)
	delete(s.store, entryID)
	s.save()
	s.logger.Info().Int("id", id).Msg("Removed schedule")
	return nil
}

// GetAll returns a copy of the current schedules in a thread-safe way.
func (s *Scheduler) GetAll() map[cron.EntryID]ScheduleEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	newMap := make(map[cron.EntryID]ScheduleEntry, len(s.store))
	for k, v := range s.store {
		newMap[k] = v
	}
	return newMap
}

// Validate checks a scheduled command without running it.
func Validate(command string) error {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return fmt.Errorf("%w: empty command", core.ErrInvalidCommand)
	}
	switch strings.ToLower(parts[0]) {
	case "save", "load":
		if len(parts) != 2 {
			return fmt.Errorf("%w: %s needs a profile name", core.ErrInvalidCommand, parts[0])
		}
		return nil
	}
	_, err := core.ParseCommand(parts)
	return err
}

func (s *Scheduler) execute(command string) {
	s.logger.Info().Str("command", command).Msg("Executing scheduled command")
	if err := s.run(context.Background(), command); err != nil {
		s.logger.Error().Err(err).Str("command", command).Msg("Scheduled command failed")
	}
}

func (s *Scheduler) run(ctx context.Context, command string) error {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return nil
	}
	switch strings.ToLower(parts[0]) {
	case "save":
		if len(parts) != 2 {
			return fmt.Errorf("%w: save needs a profile name", core.ErrInvalidCommand)
		}
		return s.controller.SaveProfile(ctx, parts[1])
	case "load":
		if len(parts) != 2 {
			return fmt.Errorf("%w: load needs a profile name", core.ErrInvalidCommand)
		}
		return s.controller.LoadProfile(ctx, parts[1], false)
	}

	cmd, err := core.ParseCommand(parts)
	if err != nil {
		return err
	}
	if cmd.Type == core.CmdSetEffect {
		return s.controller.SetEffect(ctx, cmd.Effect, cmd.Direction, cmd.Script)
	}
	return s.controller.Send(cmd)
}

func (s *Scheduler) save() {
	data, err := json.MarshalIndent(s.store, "", "  ")
	if err != nil {
		s.logger.Error().Err(err).Msg("Error marshalling schedules")
		return
	}
	if err := os.WriteFile(s.schedulesFile, data, 0o644); err != nil {
		s.logger.Error().Err(err).Str("file", s.schedulesFile).Msg("Error writing schedule file")
	}
}

func (s *Scheduler) load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.schedulesFile); os.IsNotExist(err) {
		return
	}
	data, err := os.ReadFile(s.schedulesFile)
	if err != nil {
		s.logger.Error().Err(err).Msg("Error reading schedule file")
		return
	}

	tempStore := make(map[cron.EntryID]ScheduleEntry)
	if err := json.Unmarshal(data, &tempStore); err != nil {
		s.logger.Error().Err(err).Msg("Error unmarshalling schedule file")
		return
	}

	s.logger.Info().Int("count", len(tempStore)).Str("file", s.schedulesFile).Msg("Loading schedules")
	for _, entry := range tempStore {
		jobEntry := entry
		if err := Validate(jobEntry.Command); err != nil {
			s.logger.Warn().Err(err).Str("command", jobEntry.Command).Msg("Skipping invalid schedule")
			continue
		}
		newID, err := s.cron.AddFunc(jobEntry.Spec, func() { s.execute(jobEntry.Command) })
		if err != nil {
			s.logger.Warn().Err(err).Msg("Error re-adding schedule from file")
			continue
		}
		s.store[newID] = jobEntry
	}
}
