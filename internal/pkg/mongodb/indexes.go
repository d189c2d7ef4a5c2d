package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"mango/internal/model/agent"
)

// EnsureIndexes 创建所有模型的索引
// 统一入口，在应用启动时调用
// 分镜图与视频片段的唯一索引是幂等触发的兜底保证，缺失会导致并发重复生成
func EnsureIndexes(db *mongo.Database) error {
	ctx := context.Background()

	models := []Model{
		&agent.Project{},
		&agent.Character{},
		&agent.Storyboard{},
		&agent.VideoClip{},
	}

	return EnsureAllIndexes(ctx, db, models...)
}
