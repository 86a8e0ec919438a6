package statemanager

import (
	"context"
	"sync"
	"time"

	"github.com/Giafferri/neo-rl-exec/internal/models"
	"github.com/Giafferri/neo-rl-exec/internal/persistence"

	"go.uber.org/zap"
)

// EventType defines the type of a normalized event
type EventType int

const (
	EpisodeStartEvent EventType = iota
	StepRecordedEvent
	EpisodeFinishedEvent
	flushEvent
)

// NormalizedEvent is a standardized internal representation of an event
type NormalizedEvent struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// persistRequest carries one write to the persistence loop: an episode header
// (without steps) or the steps recorded for episodeID. A request with only a
// done channel is a flush marker.
type persistRequest struct {
	header    *models.EpisodeState
	episodeID string
	steps     []models.StepRecord
	done      chan struct{}
}

// StateManager is responsible for all episode state mutations and persistence.
// It ensures that all state changes are processed serially.
type StateManager struct {
	mu              sync.RWMutex
	state           *models.EpisodeState
	repo            persistence.EpisodeRepository
	eventChannel    chan NormalizedEvent
	persistenceChan chan persistRequest
	stopChan        chan struct{}
	stopOnce        sync.Once
	logger          *zap.Logger
}

// NewStateManager creates a new StateManager. repo may be nil, in which case
// state is kept in memory only.
func NewStateManager(initialState *models.EpisodeState, repo persistence.EpisodeRepository, logger *zap.Logger) *StateManager {
	return &StateManager{
		state:           initialState,
		repo:            repo,
		eventChannel:    make(chan NormalizedEvent, 1024),
		persistenceChan: make(chan persistRequest, 128),
		stopChan:        make(chan struct{}),
		logger:          logger,
	}
}

// Start begins the state manager's event processing and persistence loops.
func (sm *StateManager) Start() {
	go sm.eventLoop()
	go sm.persistenceLoop()
	sm.logger.Sugar().Debug("StateManager started.")
}

// Stop gracefully shuts down the StateManager. Call Flush first to make sure
// pending snapshots reach the repository.
func (sm *StateManager) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stopChan)
		sm.logger.Sugar().Debug("StateManager stopped.")
	})
}

// DispatchEvent sends an event to the StateManager for processing.
func (sm *StateManager) DispatchEvent(event NormalizedEvent) {
	sm.eventChannel <- event
}

// Flush blocks until every event dispatched before the call has been processed
// and its state snapshot handed to the repository.
func (sm *StateManager) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case sm.eventChannel <- NormalizedEvent{Type: flushEvent, Timestamp: time.Now(), Data: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetStateSnapshot returns a deep copy of the current state for safe, concurrent reading.
func (sm *StateManager) GetStateSnapshot() *models.EpisodeState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.deepCopy()
}

// headerCopy 复制回合头, 不包含步骤。Must be called with mu held.
func (sm *StateManager) headerCopy() *models.EpisodeState {
	header := *sm.state
	header.Steps = nil
	if sm.state.Summary != nil {
		summaryCopy := *sm.state.Summary
		header.Summary = &summaryCopy
	}
	return &header
}

// deepCopy creates a deep copy of the EpisodeState. Must be called with mu held.
func (sm *StateManager) deepCopy() *models.EpisodeState {
	if sm.state == nil {
		return nil
	}

	stateCopy := *sm.state
	if sm.state.Steps != nil {
		stateCopy.Steps = make([]models.StepRecord, len(sm.state.Steps))
		copy(stateCopy.Steps, sm.state.Steps)
	}
	if sm.state.Summary != nil {
		summaryCopy := *sm.state.Summary
		stateCopy.Summary = &summaryCopy
	}
	return &stateCopy
}

// eventLoop is the core processing loop that handles all incoming events serially.
func (sm *StateManager) eventLoop() {
	for {
		select {
		case event := <-sm.eventChannel:
			sm.processEvent(event)
		case <-sm.stopChan:
			return
		}
	}
}

// persistenceLoop handles the asynchronous saving of state snapshots.
func (sm *StateManager) persistenceLoop() {
	for {
		select {
		case req := <-sm.persistenceChan:
			sm.persist(req)
			if req.done != nil {
				close(req.done)
			}
		case <-sm.stopChan:
			return
		}
	}
}

func (sm *StateManager) persist(req persistRequest) {
	if sm.repo == nil {
		return
	}
	if req.header != nil {
		if err := sm.repo.SaveEpisode(req.header); err != nil {
			sm.logger.Sugar().Errorf("CRITICAL: Failed to save episode %s: %v", req.header.EpisodeID, err)
		}
	}
	if len(req.steps) > 0 {
		if err := sm.repo.AppendSteps(req.episodeID, req.steps); err != nil {
			sm.logger.Sugar().Errorf("CRITICAL: Failed to save %d steps of episode %s: %v", len(req.steps), req.episodeID, err)
		}
	}
}

// processEvent contains the logic to mutate the state based on an event.
func (sm *StateManager) processEvent(event NormalizedEvent) {
	if event.Type == flushEvent {
		if done, ok := event.Data.(chan struct{}); ok {
			sm.persistenceChan <- persistRequest{done: done}
		}
		return
	}

	sm.mu.Lock()
	changed := sm.apply(event)
	if !changed || sm.state == nil {
		sm.mu.Unlock()
		return
	}
	sm.state.LastUpdateTime = time.Now()

	// 步骤只写入新增的一条, 回合头在开始和结束时写入
	var req persistRequest
	if step, ok := event.Data.(models.StepRecord); ok && event.Type == StepRecordedEvent {
		req = persistRequest{episodeID: sm.state.EpisodeID, steps: []models.StepRecord{step}}
	} else {
		req = persistRequest{header: sm.headerCopy()}
	}
	sm.mu.Unlock()

	sm.persistenceChan <- req
}

// apply mutates the state and reports whether anything changed. Must be called with mu held.
func (sm *StateManager) apply(event NormalizedEvent) bool {
	switch event.Type {
	case EpisodeStartEvent:
		if newState, ok := event.Data.(*models.EpisodeState); ok {
			sm.state = newState
			sm.logger.Sugar().Debugf("Episode %s started.", newState.EpisodeID)
			return true
		}
		sm.logger.Sugar().Warnf("Received EpisodeStartEvent with unexpected data type: %T", event.Data)
	case StepRecordedEvent:
		step, ok := event.Data.(models.StepRecord)
		if !ok {
			sm.logger.Sugar().Warnf("Received StepRecordedEvent with unexpected data type: %T", event.Data)
			return false
		}
		if sm.state == nil {
			sm.logger.Sugar().Warnf("Dropping step %d: no episode started.", step.Step)
			return false
		}
		sm.state.Steps = append(sm.state.Steps, step)
		return true
	case EpisodeFinishedEvent:
		summary, ok := event.Data.(models.EpisodeSummary)
		if !ok {
			sm.logger.Sugar().Warnf("Received EpisodeFinishedEvent with unexpected data type: %T", event.Data)
			return false
		}
		if sm.state == nil {
			return false
		}
		sm.state.Summary = &summary
		return true
	}
	return false
}
