package agent

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ReferenceImage 角色参考图
// ImageOrder 从 1 开始，每次更新参考图时按提交顺序整体重排
type ReferenceImage struct {
	ImageURL   string `bson:"image_url" json:"image_url"`     // 图片URL
	ImageOrder int    `bson:"image_order" json:"image_order"` // 顺序（1-based）
}

// Character 项目角色实体
// 名称在项目内大小写不敏感唯一（去首尾空白、内部空白折叠为单个空格后比较）
type Character struct {
	ID        string `bson:"id" json:"id"`                 // 角色ID（UUID）
	ProjectID string `bson:"project_id" json:"project_id"` // 关联的项目ID
	UserID    string `bson:"user_id" json:"user_id"`       // 用户ID（冗余字段，方便查询）

	CharacterName string          `bson:"character_name" json:"character_name"` // 角色名（已规范化）
	Source        CharacterSource `bson:"source" json:"source"`                 // 来源：template / upload / ai_generate

	TemplateID       string `bson:"template_id,omitempty" json:"template_id,omitempty"`             // 模板ID（source=template）
	GenerationPrompt string `bson:"generation_prompt,omitempty" json:"generation_prompt,omitempty"` // 生成提示词（source=ai_generate）
	NegativePrompt   string `bson:"negative_prompt,omitempty" json:"negative_prompt,omitempty"`     // 负向提示词

	ReferenceImages []ReferenceImage `bson:"reference_images,omitempty" json:"reference_images,omitempty"` // 有序参考图列表

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Collection 返回集合名称
func (c *Character) Collection() string { return "agent_characters" }

// EnsureIndexes 创建和维护索引
// 角色名唯一索引使用 strength=2 的 collation 实现大小写不敏感约束
func (c *Character) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(c.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_id_unique"),
		},
		{
			Keys:    bson.D{{Key: "project_id", Value: 1}},
			Options: options.Index().SetName("idx_project_id"),
		},
		{
			Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "character_name", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetCollation(&options.Collation{Locale: "en", Strength: 2}).
				SetName("idx_project_name_unique"),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_created_at"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
