package store

type KV struct {
	Key       string `gorm:"column:key;primaryKey"`
	Value     string `gorm:"column:value;not null;default:''"`
	UpdatedAt int64  `gorm:"column:updated_at;not null;default:0"`
}

func (KV) TableName() string { return "kv" }

type SessionEntry struct {
	SessionID   string `gorm:"column:session_id;primaryKey"`
	ProjectID   string `gorm:"column:project_id;not null;default:''"`
	ProjectName string `gorm:"column:project_name;not null;default:''"`
	Status      string `gorm:"column:status;not null;default:''"`
	LastSeenAt  int64  `gorm:"column:last_seen_at;not null;default:0"`
}

func (SessionEntry) TableName() string { return "sessions" }

type SessionLog struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID string `gorm:"column:session_id;not null;index"`
	Level     string `gorm:"column:level;not null;default:''"`
	Message   string `gorm:"column:message;not null;default:''"`
	CreatedAt int64  `gorm:"column:created_at;not null;default:0"`
}

func (SessionLog) TableName() string { return "session_logs" }
