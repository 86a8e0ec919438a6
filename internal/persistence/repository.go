package persistence

import "github.com/Giafferri/neo-rl-exec/internal/models"

// EpisodeRepository defines the interface for episode persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
//
// 回合头 (参数和汇总) 与步骤分开存储, 每一步只写入一次。
type EpisodeRepository interface {
	// SaveEpisode atomically saves the episode header under its ID.
	// state.Steps is ignored; steps are written with AppendSteps.
	SaveEpisode(state *models.EpisodeState) error

	// AppendSteps stores steps of an episode, keyed by step number.
	AppendSteps(id string, steps []models.StepRecord) error

	// LoadEpisode loads one episode together with its steps.
	// If no episode is stored under id, it should return (nil, nil).
	LoadEpisode(id string) (*models.EpisodeState, error)

	// ListEpisodes returns every stored episode header, ordered by key.
	// Steps are not loaded.
	ListEpisodes() ([]*models.EpisodeState, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
