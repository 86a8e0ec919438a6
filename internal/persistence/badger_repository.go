package persistence

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Giafferri/neo-rl-exec/internal/models"

	"github.com/dgraph-io/badger/v3"
)

var (
	episodePrefix = []byte("episode/")
	stepPrefix    = []byte("step/")
)

// badgerRepository is the BadgerDB implementation of the EpisodeRepository.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (EpisodeRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging would interleave with the simulator output.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerRepository{db: db}, nil
}

func episodeKey(id string) []byte {
	return append(append([]byte{}, episodePrefix...), id...)
}

// stepsKeyPrefix 是 step/<id>/
func stepsKeyPrefix(id string) []byte {
	return append(append(append([]byte{}, stepPrefix...), id...), '/')
}

// stepKey 是 step/<id>/<n>, n 补零到 10 位以保证按步骤排序
func stepKey(id string, n int) []byte {
	return append(stepsKeyPrefix(id), fmt.Sprintf("%010d", n)...)
}

// SaveEpisode marshals the episode header into JSON and saves it under episode/<id>.
func (r *badgerRepository) SaveEpisode(state *models.EpisodeState) error {
	if state == nil || state.EpisodeID == "" {
		return errors.New("episode state without id")
	}
	header := *state
	header.Steps = nil
	data, err := json.Marshal(&header)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(episodeKey(state.EpisodeID), data)
	})
}

// AppendSteps saves each step under step/<id>/<n> in one transaction.
func (r *badgerRepository) AppendSteps(id string, steps []models.StepRecord) error {
	if id == "" {
		return errors.New("steps without episode id")
	}
	if len(steps) == 0 {
		return nil
	}
	return r.db.Update(func(txn *badger.Txn) error {
		for _, step := range steps {
			data, err := json.Marshal(step)
			if err != nil {
				return err
			}
			if err := txn.Set(stepKey(id, step.Step), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadEpisode loads one episode.
// If the key is not found, it returns (nil, nil) to indicate no episode is present.
func (r *badgerRepository) LoadEpisode(id string) (*models.EpisodeState, error) {
	var state models.EpisodeState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(episodeKey(id))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("episode value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	steps, err := r.loadSteps(id)
	if err != nil {
		return nil, err
	}
	state.Steps = steps
	return &state, nil
}

func (r *badgerRepository) loadSteps(id string) ([]models.StepRecord, error) {
	var steps []models.StepRecord
	prefix := stepsKeyPrefix(id)

	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var step models.StepRecord
				if err := json.Unmarshal(val, &step); err != nil {
					return fmt.Errorf("decode %s: %w", item.Key(), err)
				}
				steps = append(steps, step)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return steps, err
}

// ListEpisodes scans the episode/ prefix. Only headers are decoded.
func (r *badgerRepository) ListEpisodes() ([]*models.EpisodeState, error) {
	var out []*models.EpisodeState

	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(episodePrefix); it.ValidForPrefix(episodePrefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var state models.EpisodeState
				if err := json.Unmarshal(val, &state); err != nil {
					return fmt.Errorf("decode %s: %w", item.Key(), err)
				}
				out = append(out, &state)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
