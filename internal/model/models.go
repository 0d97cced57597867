package model

import (
	"time"
)

// Task 表示一条待办事项。
//
// 每个任务有且只有一个所有者，只能由所有者读取和修改（管理员可通过全量列表查看）。
type Task struct {
	ID          uint      `gorm:"primaryKey" json:"id"`                       // 任务唯一标识
	Title       string    `gorm:"not null" json:"title"`                      // 标题（必填）
	Description *string   `json:"description"`                                // 描述（可为空）
	IsCompleted bool      `gorm:"not null;default:false" json:"is_completed"` // 是否完成
	OwnerID     uint      `gorm:"not null;index" json:"owner_id"`             // 所属用户 ID
	CreatedAt   time.Time `json:"created_at"`                                 // 创建时间 (UTC)

	Owner *User `gorm:"foreignKey:OwnerID" json:"-"`
}

// TaskPatch 描述一次部分更新。
//
// nil 字段表示请求中未出现，保持原值。ClearDescription 表示显式传入 null。
type TaskPatch struct {
	Title            *string
	Description      *string
	ClearDescription bool
	IsCompleted      *bool
}

// Empty 报告补丁是否不包含任何字段。
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && !p.ClearDescription && p.IsCompleted == nil
}

// Columns 把补丁转换为 gorm Updates 使用的列映射。
func (p TaskPatch) Columns() map[string]interface{} {
	updates := map[string]interface{}{}
	if p.Title != nil {
		updates["title"] = *p.Title
	}
	if p.ClearDescription {
		updates["description"] = nil
	} else if p.Description != nil {
		updates["description"] = *p.Description
	}
	if p.IsCompleted != nil {
		updates["is_completed"] = *p.IsCompleted
	}
	return updates
}
