package model

// 所有模型的统一导入点
// 用于 AutoMigrate
var AllModels = []interface{}{
	&User{},
	&Tenant{},
	&SharedCredentialKey{},
	&WhatsappAgentConfig{},
	&VectorStore{},
	&VectorDocument{},
	&SyncAuditReport{},
	&SyncTask{},
	&StoredFile{},
	&LibraryDocument{},
	&KnowledgeDocument{},
	&ClientKnowledgeDocument{},
	&Exercise{},
	&Consultation{},
	&UniversityLesson{},
	&FinancialSnapshot{},
	&AgentKnowledgeItem{},
}
