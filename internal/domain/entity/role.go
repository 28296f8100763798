// Package entity 定义领域实体
package entity

// Role 对话角色枚举
type Role string

const (
	RoleSystem    Role = "system"
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// RoleForIndex 历史消息按下标交替：偶数为提问，奇数为回答
func RoleForIndex(i int) Role {
	if i%2 == 0 {
		return RoleHuman
	}
	return RoleAssistant
}
