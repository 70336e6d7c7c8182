package service

import (
	"context"
	"sync"
	"time"

	"SalesForecast/internal/model"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TaskStatus 异步任务状态
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// RetrainTask 异步重训任务快照
type RetrainTask struct {
	ID         string            `json:"task_id"`
	Status     TaskStatus        `json:"status"`
	Trigger    model.TriggerType `json:"trigger"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Outcome    *RetrainOutcome   `json:"outcome,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// TaskManager 异步重训任务管理：HTTP触发后立即返回task_id，结果轮询获取。
// 任务记录只存内存，进程重启后丢失（审计以数据库重训日志为准）。
type TaskManager struct {
	mu         sync.RWMutex
	tasks      map[string]*RetrainTask
	retraining *RetrainingService
	logger     *logrus.Logger
}

// NewTaskManager 创建 TaskManager 实例
func NewTaskManager(retraining *RetrainingService, logger *logrus.Logger) *TaskManager {
	return &TaskManager{
		tasks:      make(map[string]*RetrainTask),
		retraining: retraining,
		logger:     logger,
	}
}

// StartRetrain 启动一次异步重训，立即返回任务快照。
// 实际执行仍受 RetrainingService 的全局单飞约束：并发任务会共享同一次重训。
func (m *TaskManager) StartRetrain(trigger model.TriggerType, opts RetrainOptions) *RetrainTask {
	task := &RetrainTask{
		ID:        uuid.NewString(),
		Status:    TaskRunning,
		Trigger:   trigger,
		StartedAt: time.Now(),
	}
	m.mu.Lock()
	m.tasks[task.ID] = task
	m.mu.Unlock()

	go func() {
		// 重训生命周期独立于HTTP请求，不继承请求context
		outcome, err := m.retraining.Retrain(context.Background(), trigger, opts)
		now := time.Now()
		m.mu.Lock()
		defer m.mu.Unlock()
		task.FinishedAt = &now
		if err != nil {
			task.Status = TaskFailed
			task.Error = err.Error()
			m.logger.WithError(err).WithField("task_id", task.ID).Error("异步重训任务失败")
			return
		}
		task.Status = TaskCompleted
		task.Outcome = outcome
	}()
	return m.snapshot(task)
}

// Get 按任务ID获取快照
func (m *TaskManager) Get(taskID string) (*RetrainTask, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, false
	}
	return m.snapshotLocked(task), true
}

func (m *TaskManager) snapshot(task *RetrainTask) *RetrainTask {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(task)
}

func (m *TaskManager) snapshotLocked(task *RetrainTask) *RetrainTask {
	cp := *task
	return &cp
}
