package statemanager

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Giafferri/neo-rl-exec/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockEpisodeRepository is a mock implementation of the EpisodeRepository interface for testing.
type mockEpisodeRepository struct {
	sync.Mutex
	saved        map[string]*models.EpisodeState
	steps        map[string][]models.StepRecord
	saveCalls    int
	appendCalls  int
	bytesWritten int
	maxWrite     int
	saveError    error
	saveDoneChan chan bool // Channel to signal when SaveEpisode is done
}

func newMockEpisodeRepository() *mockEpisodeRepository {
	return &mockEpisodeRepository{
		saved:        make(map[string]*models.EpisodeState),
		steps:        make(map[string][]models.StepRecord),
		saveDoneChan: make(chan bool, 16),
	}
}

// record 统计一次写入的 JSON 大小. Must be called with the lock held.
func (m *mockEpisodeRepository) record(v interface{}) {
	data, _ := json.Marshal(v)
	m.bytesWritten += len(data)
	if len(data) > m.maxWrite {
		m.maxWrite = len(data)
	}
}

func (m *mockEpisodeRepository) SaveEpisode(state *models.EpisodeState) error {
	m.Lock()
	defer m.Unlock()

	copied := *state
	copied.Steps = nil
	m.record(&copied)
	m.saved[state.EpisodeID] = &copied
	m.saveCalls++

	select {
	case m.saveDoneChan <- true:
	default:
	}
	return m.saveError
}

func (m *mockEpisodeRepository) AppendSteps(id string, steps []models.StepRecord) error {
	m.Lock()
	defer m.Unlock()

	for _, step := range steps {
		m.record(step)
	}
	m.steps[id] = append(m.steps[id], steps...)
	m.appendCalls++
	return nil
}

func (m *mockEpisodeRepository) LoadEpisode(id string) (*models.EpisodeState, error) {
	m.Lock()
	defer m.Unlock()
	header, ok := m.saved[id]
	if !ok {
		return nil, nil
	}
	loaded := *header
	loaded.Steps = append([]models.StepRecord(nil), m.steps[id]...)
	return &loaded, nil
}

func (m *mockEpisodeRepository) ListEpisodes() ([]*models.EpisodeState, error) {
	m.Lock()
	defer m.Unlock()
	var out []*models.EpisodeState
	for _, s := range m.saved {
		out = append(out, s)
	}
	return out, nil
}

func (m *mockEpisodeRepository) Close() error {
	return nil
}

func (m *mockEpisodeRepository) calls() (saves, appends int) {
	m.Lock()
	defer m.Unlock()
	return m.saveCalls, m.appendCalls
}

func (m *mockEpisodeRepository) written() (total, largest int) {
	m.Lock()
	defer m.Unlock()
	return m.bytesWritten, m.maxWrite
}

func waitSave(t *testing.T, repo *mockEpisodeRepository) {
	t.Helper()
	select {
	case <-repo.saveDoneChan:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for episode to be saved")
	}
}

// TestNewStateManager verifies that the StateManager is initialized correctly.
func TestNewStateManager(t *testing.T) {
	sm := NewStateManager(&models.EpisodeState{EpisodeID: "ep-1"}, newMockEpisodeRepository(), zap.NewNop())
	require.NotNil(t, sm)

	snapshot := sm.GetStateSnapshot()
	require.NotNil(t, snapshot)
	assert.Equal(t, "ep-1", snapshot.EpisodeID)

	assert.NotNil(t, sm.eventChannel)
	assert.NotNil(t, sm.persistenceChan)
	assert.NotNil(t, sm.stopChan)

	assert.Nil(t, NewStateManager(nil, nil, zap.NewNop()).GetStateSnapshot())
}

// TestEpisodeLifecycle 依次处理开始、步骤和结束事件
func TestEpisodeLifecycle(t *testing.T) {
	repo := newMockEpisodeRepository()
	sm := NewStateManager(nil, repo, zap.NewNop())
	sm.Start()
	defer sm.Stop()

	sm.DispatchEvent(NormalizedEvent{
		Type:      EpisodeStartEvent,
		Timestamp: time.Now(),
		Data:      &models.EpisodeState{EpisodeID: "ep-2", Version: 1},
	})
	for i := 1; i <= 3; i++ {
		sm.DispatchEvent(NormalizedEvent{
			Type:      StepRecordedEvent,
			Timestamp: time.Now(),
			Data:      models.StepRecord{Step: i, Reward: float64(i)},
		})
	}
	sm.DispatchEvent(NormalizedEvent{
		Type:      EpisodeFinishedEvent,
		Timestamp: time.Now(),
		Data:      models.EpisodeSummary{Steps: 3, FinalReward: -1},
	})
	require.NoError(t, sm.Flush(context.Background()))

	snapshot := sm.GetStateSnapshot()
	require.NotNil(t, snapshot)
	require.Len(t, snapshot.Steps, 3)
	assert.Equal(t, 3, snapshot.Steps[2].Step)
	require.NotNil(t, snapshot.Summary)
	assert.Equal(t, -1.0, snapshot.Summary.FinalReward)
	assert.False(t, snapshot.LastUpdateTime.IsZero())

	saves, appends := repo.calls()
	assert.Equal(t, 2, saves)
	assert.Equal(t, 3, appends)
	saved, err := repo.LoadEpisode("ep-2")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Len(t, saved.Steps, 3)
	assert.NotNil(t, saved.Summary)
}

// runEpisode 记录 n 步并返回写入的总字节数和最大单次写入
func runEpisode(t *testing.T, n int) (int, int) {
	t.Helper()
	repo := newMockEpisodeRepository()
	sm := NewStateManager(nil, repo, zap.NewNop())
	sm.Start()
	defer sm.Stop()

	sm.DispatchEvent(NormalizedEvent{Type: EpisodeStartEvent, Timestamp: time.Now(), Data: &models.EpisodeState{EpisodeID: "long"}})
	for i := 1; i <= n; i++ {
		sm.DispatchEvent(NormalizedEvent{
			Type:      StepRecordedEvent,
			Timestamp: time.Now(),
			Data:      models.StepRecord{Step: i, TimestampNs: int64(i) * 1e9, Reward: -1, SumRewards: float64(-i)},
		})
	}
	sm.DispatchEvent(NormalizedEvent{Type: EpisodeFinishedEvent, Timestamp: time.Now(), Data: models.EpisodeSummary{Steps: n}})
	require.NoError(t, sm.Flush(context.Background()))

	saved, err := repo.LoadEpisode("long")
	require.NoError(t, err)
	require.Len(t, saved.Steps, n)
	assert.Equal(t, n, saved.Steps[n-1].Step)
	return repo.written()
}

// TestPersistedBytesGrowLinearly 每一步只写入新增的步骤
func TestPersistedBytesGrowLinearly(t *testing.T) {
	small, smallMax := runEpisode(t, 200)
	large, largeMax := runEpisode(t, 2000)

	// 单次写入的大小不随步数增长
	assert.Less(t, largeMax, 1024)
	assert.InDelta(t, smallMax, largeMax, 64)
	// 10 倍的步数, 写入量约为 10 倍
	assert.Less(t, large, 11*small)
	assert.Greater(t, large, 9*small)
}

// TestSnapshotIsDeepCopy 修改快照不会影响内部状态
func TestSnapshotIsDeepCopy(t *testing.T) {
	sm := NewStateManager(&models.EpisodeState{
		EpisodeID: "ep-3",
		Steps:     []models.StepRecord{{Step: 1}},
		Summary:   &models.EpisodeSummary{Steps: 1},
	}, nil, zap.NewNop())

	snap := sm.GetStateSnapshot()
	snap.Steps[0].Step = 99
	snap.Summary.Steps = 99

	again := sm.GetStateSnapshot()
	assert.Equal(t, 1, again.Steps[0].Step)
	assert.Equal(t, 1, again.Summary.Steps)
}

// TestStepWithoutEpisodeIsDropped 没有开始回合时的步骤不会持久化
func TestStepWithoutEpisodeIsDropped(t *testing.T) {
	repo := newMockEpisodeRepository()
	sm := NewStateManager(nil, repo, zap.NewNop())
	sm.Start()
	defer sm.Stop()

	sm.DispatchEvent(NormalizedEvent{Type: StepRecordedEvent, Timestamp: time.Now(), Data: models.StepRecord{Step: 1}})
	sm.DispatchEvent(NormalizedEvent{Type: StepRecordedEvent, Timestamp: time.Now(), Data: "bogus"})
	require.NoError(t, sm.Flush(context.Background()))

	saves, appends := repo.calls()
	assert.Zero(t, saves)
	assert.Zero(t, appends)
	assert.Nil(t, sm.GetStateSnapshot())
}

// TestAsyncPersistence verifies that state persistence happens asynchronously.
func TestAsyncPersistence(t *testing.T) {
	repo := newMockEpisodeRepository()
	repo.Lock() // 阻塞 SaveEpisode 直到检查完成
	sm := NewStateManager(nil, repo, zap.NewNop())
	sm.Start()
	defer sm.Stop()

	sm.DispatchEvent(NormalizedEvent{
		Type:      EpisodeStartEvent,
		Timestamp: time.Now(),
		Data:      &models.EpisodeState{EpisodeID: "new-state"},
	})

	// DispatchEvent 返回时保存尚未发生
	assert.Equal(t, 0, repo.saveCalls)
	repo.Unlock()

	waitSave(t, repo)
	saved, err := repo.LoadEpisode("new-state")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "new-state", saved.EpisodeID)
}

func TestFlushHonoursContext(t *testing.T) {
	sm := NewStateManager(nil, nil, zap.NewNop())
	// 未启动的事件循环不会处理 flush
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sm.Flush(ctx), context.DeadlineExceeded)
}
