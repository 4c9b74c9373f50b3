package model

import "time"

// 以下为各来源业务表。它们由其他子系统维护，同步引擎只读取，
// 行可能随时被删除（即来源孤儿）。

// LibraryDocument 顾问资料库中的文件
type LibraryDocument struct {
	ID           string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	ConsultantID string    `json:"consultant_id" gorm:"type:varchar(36);index"`
	Title        string    `json:"title" gorm:"type:varchar(255)"`
	FileName     string    `json:"file_name" gorm:"type:varchar(255)"`
	FilePath     string    `json:"file_path" gorm:"type:varchar(500)"` // 文件存储中的路径
	MimeType     string    `json:"mime_type" gorm:"type:varchar(100)"`
	Content      string    `json:"content" gorm:"type:text"` // 已提取的文本，为空时从文件提取
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (LibraryDocument) TableName() string {
	return "library_documents"
}

// KnowledgeDocument 顾问知识库上传
type KnowledgeDocument struct {
	ID           string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	ConsultantID string    `json:"consultant_id" gorm:"type:varchar(36);index"`
	Title        string    `json:"title" gorm:"type:varchar(255)"`
	Content      string    `json:"content" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (KnowledgeDocument) TableName() string {
	return "knowledge_documents"
}

// ClientKnowledgeDocument 客户私有知识
type ClientKnowledgeDocument struct {
	ID        string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	ClientID  string    `json:"client_id" gorm:"type:varchar(36);index"`
	Title     string    `json:"title" gorm:"type:varchar(255)"`
	Content   string    `json:"content" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (ClientKnowledgeDocument) TableName() string {
	return "client_knowledge_documents"
}

// Exercise 练习
type Exercise struct {
	ID           string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	ConsultantID string    `json:"consultant_id" gorm:"type:varchar(36);index"`
	Title        string    `json:"title" gorm:"type:varchar(255)"`
	Instructions string    `json:"instructions" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Exercise) TableName() string {
	return "exercises"
}

// Consultation 咨询记录
type Consultation struct {
	ID           string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	ConsultantID string    `json:"consultant_id" gorm:"type:varchar(36);index"`
	ClientID     string    `json:"client_id" gorm:"type:varchar(36);index"`
	Summary      string    `json:"summary" gorm:"type:text"`
	Transcript   string    `json:"transcript" gorm:"type:text"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Consultation) TableName() string {
	return "consultations"
}

// UniversityLesson 课程
type UniversityLesson struct {
	ID           string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	ConsultantID string    `json:"consultant_id" gorm:"type:varchar(36);index"`
	Title        string    `json:"title" gorm:"type:varchar(255)"`
	Content      string    `json:"content" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (UniversityLesson) TableName() string {
	return "university_lessons"
}

// FinancialSnapshot 客户财务快照
type FinancialSnapshot struct {
	ID        string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	ClientID  string    `json:"client_id" gorm:"type:varchar(36);index"`
	Period    string    `json:"period" gorm:"type:varchar(20)"` // 例如 2026-09
	Data      JSON      `json:"data" gorm:"type:jsonb"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (FinancialSnapshot) TableName() string {
	return "financial_snapshots"
}

// AgentKnowledgeItem 消息机器人知识条目
type AgentKnowledgeItem struct {
	ID            string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	AgentConfigID string    `json:"agent_config_id" gorm:"type:varchar(36);index"`
	Title         string    `json:"title" gorm:"type:varchar(255)"`
	Content       string    `json:"content" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (AgentKnowledgeItem) TableName() string {
	return "whatsapp_agent_knowledge_items"
}
