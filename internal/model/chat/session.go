package chat

import "time"

// SessionSummary 描述侧边栏中的一个会话条目。
type SessionSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	LastMessage string    `json:"lastMessage"`
	Timestamp   time.Time `json:"timestamp"`
	Persistent  bool      `json:"persistent"`
}

// TodayTitle 是当天持久会话在侧边栏中的标题。
const TodayTitle = "Today's Chat"
