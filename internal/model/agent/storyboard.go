package agent

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Storyboard 分镜图实体
// 每个 (project_id, shot_number) 对应一张当前分镜图（is_current=true）；
// 重新生成时旧记录标记为 is_current=false，新记录占用唯一槽位
type Storyboard struct {
	ID         string `bson:"id" json:"id"`                   // 分镜图ID（UUID）
	ProjectID  string `bson:"project_id" json:"project_id"`   // 关联的项目ID
	ShotNumber int    `bson:"shot_number" json:"shot_number"` // 分镜编号

	ImageURL         string `bson:"image_url,omitempty" json:"image_url,omitempty"`                   // 图片URL（成功前为空）
	ImageURLExternal string `bson:"image_url_external,omitempty" json:"image_url_external,omitempty"` // 后端返回的原始外部URL

	Status       StoryboardStatus `bson:"status" json:"status"`                                   // 状态：generating / success / failed
	ErrorMessage string           `bson:"error_message,omitempty" json:"error_message,omitempty"` // 错误信息（失败时）

	GenerationAttempts int  `bson:"generation_attempts" json:"generation_attempts"` // 生成尝试次数
	IsCurrent          bool `bson:"is_current" json:"is_current"`                   // 是否为当前版本

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Collection 返回集合名称
func (s *Storyboard) Collection() string { return "agent_storyboards" }

// EnsureIndexes 创建和维护索引
// (project_id, shot_number) 的唯一约束只作用于当前版本，
// 该约束是批量生成触发幂等性的基础
func (s *Storyboard) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(s.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_id_unique"),
		},
		{
			Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "shot_number", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"is_current": true}).
				SetName("idx_project_shot_current_unique"),
		},
		{
			Keys:    bson.D{{Key: "project_id", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_project_status"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
