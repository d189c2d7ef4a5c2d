package agent

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// VideoClip 视频片段实体
// VideoTaskID 与 RenderRequestID 互斥：前者为链式（首尾帧）后端的任务引用，
// 后者为旁白模式独立生成后端的请求引用
type VideoClip struct {
	ID         string `bson:"id" json:"id"`                   // 片段ID（UUID）
	ProjectID  string `bson:"project_id" json:"project_id"`   // 关联的项目ID
	ShotNumber int    `bson:"shot_number" json:"shot_number"` // 分镜编号

	Status ClipStatus `bson:"status" json:"status"` // 状态：idle / generating / success / failed / outdated

	VideoURL     string `bson:"video_url,omitempty" json:"video_url,omitempty"`           // 视频URL（成功时）
	LastFrameURL string `bson:"last_frame_url,omitempty" json:"last_frame_url,omitempty"` // 末尾帧URL（链式生成时作为下一片段首帧）

	VideoTaskID     string `bson:"video_task_id,omitempty" json:"video_task_id,omitempty"`         // 链式后端任务ID
	RenderRequestID string `bson:"render_request_id,omitempty" json:"render_request_id,omitempty"` // 旁白后端请求ID

	ErrorMessage string `bson:"error_message,omitempty" json:"error_message,omitempty"` // 错误信息（失败时）
	RetryCount   int    `bson:"retry_count" json:"retry_count"`                         // 重试次数

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Collection 返回集合名称
func (v *VideoClip) Collection() string { return "agent_video_clips" }

// EnsureIndexes 创建和维护索引
func (v *VideoClip) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(v.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_id_unique"),
		},
		{
			Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "shot_number", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("idx_project_shot_unique"),
		},
		{
			Keys:    bson.D{{Key: "project_id", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_project_status"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}},
			Options: options.Index().SetName("idx_status_updated"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
