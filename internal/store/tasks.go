package store

import (
	"context"
	"errors"
	"fmt"

	"taskmanager/internal/model"

	"gorm.io/gorm"
)

// TaskStore 是按所有者隔离的任务仓库。
//
// 列表顺序取决于数据库的自然检索顺序，不保证稳定。
type TaskStore struct {
	db *gorm.DB
}

// NewTaskStore 创建 TaskStore。
func NewTaskStore(db *gorm.DB) *TaskStore {
	return &TaskStore{db: db}
}

// ListTasks 返回 ownerID 的全部任务。
func (s *TaskStore) ListTasks(ctx context.Context, ownerID uint) ([]model.Task, error) {
	tasks := []model.Task{}
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// ListAllTasks 返回所有用户的任务，不做过滤。
func (s *TaskStore) ListAllTasks(ctx context.Context) ([]model.Task, error) {
	tasks := []model.Task{}
	if err := s.db.WithContext(ctx).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list all tasks: %w", err)
	}
	return tasks, nil
}

// CreateTask 插入任务，成功后 task.ID 与 task.CreatedAt 被回填。
func (s *TaskStore) CreateTask(ctx context.Context, task *model.Task) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(task).Error; err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		return nil
	})
}

// UpdateTask 对 (id, ownerID) 命中的任务应用部分更新并返回更新后的记录。
//
// 任务不存在或不属于 ownerID 时都返回 ErrTaskNotFound。
func (s *TaskStore) UpdateTask(ctx context.Context, id, ownerID uint, patch model.TaskPatch) (*model.Task, error) {
	var task model.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := findOwned(tx, id, ownerID, &task); err != nil {
			return err
		}
		if patch.Empty() {
			return nil
		}
		if err := tx.Model(&model.Task{}).Where("id = ? AND owner_id = ?", id, ownerID).Updates(patch.Columns()).Error; err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		var updated model.Task
		if err := findOwned(tx, id, ownerID, &updated); err != nil {
			return err
		}
		task = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// DeleteTask 删除 (id, ownerID) 命中的任务。
func (s *TaskStore) DeleteTask(ctx context.Context, id, ownerID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task model.Task
		if err := findOwned(tx, id, ownerID, &task); err != nil {
			return err
		}
		if err := tx.Delete(&task).Error; err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		return nil
	})
}

func findOwned(tx *gorm.DB, id, ownerID uint, task *model.Task) error {
	err := tx.Where("id = ? AND owner_id = ?", id, ownerID).First(task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTaskNotFound
	}
	if err != nil {
		return fmt.Errorf("query task: %w", err)
	}
	return nil
}
