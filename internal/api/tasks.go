package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"taskmanager/internal/api/middleware"
	"taskmanager/internal/model"
	"taskmanager/internal/pkg/cache"
	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/store"

	"github.com/gin-gonic/gin"
)

const (
	cacheStatusHeader = "X-Cache"
	// taskListTTL 是任务列表缓存的过期时间，与全局默认 TTL 无关。
	taskListTTL = 60 * time.Second
	// invalidateTimeout 限制写后删除缓存的等待时间。
	invalidateTimeout = 2 * time.Second
)

var errInvalidTaskID = errors.New("invalid task id")

// optional 区分 JSON 中缺失的字段与显式的 null。
type optional[T any] struct {
	Set   bool
	Valid bool
	Value T
}

func (o *optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Valid = false
		return nil
	}
	if err := json.Unmarshal(data, &o.Value); err != nil {
		return err
	}
	o.Valid = true
	return nil
}

type createTaskRequest struct {
	Title       string  `json:"title" binding:"required"`
	Description *string `json:"description"`
}

type updateTaskRequest struct {
	Title       optional[string] `json:"title"`
	Description optional[string] `json:"description"`
	IsCompleted optional[bool]   `json:"is_completed"`
}

// patch 校验请求并转换为 TaskPatch；title 与 is_completed 不允许为 null。
// 标题非空的约束优先于“按原样写入显式 null 或空值”。
func (r updateTaskRequest) patch() (model.TaskPatch, error) {
	var p model.TaskPatch
	if r.Title.Set {
		if !r.Title.Valid || r.Title.Value == "" {
			return p, errors.New("title must be a non-empty string")
		}
		title := r.Title.Value
		p.Title = &title
	}
	if r.Description.Set {
		if r.Description.Valid {
			desc := r.Description.Value
			p.Description = &desc
		} else {
			p.ClearDescription = true
		}
	}
	if r.IsCompleted.Set {
		if !r.IsCompleted.Valid {
			return p, errors.New("is_completed must be a boolean")
		}
		done := r.IsCompleted.Value
		p.IsCompleted = &done
	}
	return p, nil
}

type taskResponse struct {
	ID          uint      `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	IsCompleted bool      `json:"is_completed"`
	OwnerID     uint      `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

func newTaskResponse(t *model.Task) taskResponse {
	return taskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		IsCompleted: t.IsCompleted,
		OwnerID:     t.OwnerID,
		CreatedAt:   t.CreatedAt.UTC(),
	}
}

func newTaskResponses(tasks []model.Task) []taskResponse {
	resp := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		resp = append(resp, newTaskResponse(&tasks[i]))
	}
	return resp
}

func parseTaskID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errInvalidTaskID
	}
	return uint(id), nil
}

// handleListTasks 返回当前用户的任务列表。
//
// 先读缓存，未命中时查询数据库并回填。缓存读失败按未命中处理，回填失败只记录日志。
func (s *Server) handleListTasks(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
		return
	}
	ctx := c.Request.Context()
	key := cache.TaskListKey(user.ID)

	var cached []taskResponse
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.Warn("task list cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		hit = false
	}
	if hit {
		if cached == nil {
			cached = []taskResponse{}
		}
		s.logger.Info("task list cache hit", slog.Uint64("user_id", uint64(user.ID)))
		c.Header(cacheStatusHeader, "HIT")
		c.JSON(http.StatusOK, cached)
		return
	}

	tasks, err := s.taskStore.ListTasks(ctx, user.ID)
	if err != nil {
		s.logger.Error("list tasks failed", slog.Uint64("user_id", uint64(user.ID)), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "list tasks failed"})
		return
	}
	resp := newTaskResponses(tasks)

	if err := s.cache.Set(ctx, key, resp, taskListTTL); err != nil {
		s.logger.Warn("task list cache fill failed", slog.String("key", key), slog.String("error", err.Error()))
	}

	s.logger.Info("task list cache miss", slog.Uint64("user_id", uint64(user.ID)), slog.Int("count", len(resp)))
	c.Header(cacheStatusHeader, "MISS")
	c.JSON(http.StatusOK, resp)
}

// handleCreateTask 为当前用户创建任务，owner 总是取自认证身份。
func (s *Server) handleCreateTask(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
		return
	}

	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	task := model.Task{
		Title:       req.Title,
		Description: req.Description,
		OwnerID:     user.ID,
	}
	if err := s.taskStore.CreateTask(c.Request.Context(), &task); err != nil {
		s.logger.Error("create task failed", slog.Uint64("user_id", uint64(user.ID)), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "create task failed"})
		return
	}

	s.invalidateTaskList(c.Request.Context(), user.ID)
	metrics.TaskMutationsTotal.WithLabelValues("create").Inc()
	s.logger.Info("task created", slog.Uint64("task_id", uint64(task.ID)), slog.Uint64("user_id", uint64(user.ID)))
	c.JSON(http.StatusCreated, newTaskResponse(&task))
}

// handleUpdateTask 部分更新当前用户的任务。
func (s *Server) handleUpdateTask(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
		return
	}
	id, err := parseTaskID(c)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	patch, err := req.patch()
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	task, err := s.taskStore.UpdateTask(c.Request.Context(), id, user.ID, patch)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Task not found"})
			return
		}
		s.logger.Error("update task failed", slog.Uint64("task_id", uint64(id)), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "update task failed"})
		return
	}

	s.invalidateTaskList(c.Request.Context(), user.ID)
	metrics.TaskMutationsTotal.WithLabelValues("update").Inc()
	s.logger.Info("task updated", slog.Uint64("task_id", uint64(id)), slog.Uint64("user_id", uint64(user.ID)))
	c.JSON(http.StatusOK, newTaskResponse(task))
}

// handleDeleteTask 删除当前用户的任务。
func (s *Server) handleDeleteTask(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
		return
	}
	id, err := parseTaskID(c)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	if err := s.taskStore.DeleteTask(c.Request.Context(), id, user.ID); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Task not found"})
			return
		}
		s.logger.Error("delete task failed", slog.Uint64("task_id", uint64(id)), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "delete task failed"})
		return
	}

	s.invalidateTaskList(c.Request.Context(), user.ID)
	metrics.TaskMutationsTotal.WithLabelValues("delete").Inc()
	s.logger.Info("task deleted", slog.Uint64("task_id", uint64(id)), slog.Uint64("user_id", uint64(user.ID)))
	c.Status(http.StatusNoContent)
}

// handleListAllTasks 返回所有用户的任务，仅管理员可用，不经过缓存。
func (s *Server) handleListAllTasks(c *gin.Context) {
	tasks, err := s.taskStore.ListAllTasks(c.Request.Context())
	if err != nil {
		s.logger.Error("list all tasks failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "list tasks failed"})
		return
	}
	c.JSON(http.StatusOK, newTaskResponses(tasks))
}

// invalidateTaskList 在写操作提交后删除缓存。
//
// 写入已提交，客户端断开也必须删除，因此不继承请求的取消信号。
// 删除失败不会回滚已提交的写入，过期数据最多保留一个 TTL。
func (s *Server) invalidateTaskList(ctx context.Context, ownerID uint) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()

	key := cache.TaskListKey(ownerID)
	if err := s.cache.Delete(ctx, key); err != nil {
		s.logger.Error("task list cache invalidation failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}
