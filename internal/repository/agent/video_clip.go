package agent

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mango/internal/model/agent"
)

// VideoClipRepository 视频片段仓库接口（供 service 层依赖）
type VideoClipRepository interface {
	Claim(ctx context.Context, placeholder *agent.VideoClip, staleBefore time.Time) (bool, error)
	FindByProjectID(ctx context.Context, projectID string) ([]*agent.VideoClip, error)
	FindByShot(ctx context.Context, projectID string, shotNumber int) (*agent.VideoClip, error)
	Update(ctx context.Context, projectID string, shotNumber int, updates bson.M) error
	MarkSuccess(ctx context.Context, projectID string, shotNumber int, videoURL, lastFrameURL string) error
	MarkFailed(ctx context.Context, projectID string, shotNumber int, errorMessage string) error
	MarkAllOutdated(ctx context.Context, projectID string) (int64, error)
	MarkOutdatedByShots(ctx context.Context, projectID string, shotNumbers []int) error
	Rekey(ctx context.Context, projectID string, from, to int) error
	DeleteByShot(ctx context.Context, projectID string, shotNumber int) error
	DeleteByProjectID(ctx context.Context, projectID string) error
}

// VideoClipRepo 视频片段仓库
type VideoClipRepo struct {
	coll *mongo.Collection
}

// NewVideoClipRepo 创建视频片段仓库
func NewVideoClipRepo(db *mongo.Database) *VideoClipRepo {
	var v agent.VideoClip
	return &VideoClipRepo{coll: db.Collection(v.Collection())}
}

// Claim 认领一个片段槽位用于生成，返回是否认领成功
//
// 与分镜图仓库的认领机制相同，以 (project_id, shot_number) 唯一索引保证幂等：
// idle / failed / outdated 或滞留的 generating 片段可以被重新认领；
// success 与新鲜的 generating 片段触发 duplicate key，视为无需重复提交
func (r *VideoClipRepo) Claim(ctx context.Context, placeholder *agent.VideoClip, staleBefore time.Time) (bool, error) {
	now := time.Now()
	filter := bson.M{
		"project_id":  placeholder.ProjectID,
		"shot_number": placeholder.ShotNumber,
		"$or": []bson.M{
			{"status": bson.M{"$in": []agent.ClipStatus{
				agent.ClipStatusIdle,
				agent.ClipStatusFailed,
				agent.ClipStatusOutdated,
			}}},
			{"status": agent.ClipStatusGenerating, "updated_at": bson.M{"$lt": staleBefore}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"status":     agent.ClipStatusGenerating,
			"updated_at": now,
		},
		"$unset": bson.M{
			"error_message":     "",
			"video_task_id":     "",
			"render_request_id": "",
		},
		"$inc": bson.M{"retry_count": 1},
		"$setOnInsert": bson.M{
			"id":         placeholder.ID,
			"created_at": now,
		},
	}
	_, err := r.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// FindByProjectID 查询项目全部视频片段（按分镜编号升序）
func (r *VideoClipRepo) FindByProjectID(ctx context.Context, projectID string) ([]*agent.VideoClip, error) {
	filter := bson.M{"project_id": projectID}
	opts := options.Find().SetSort(bson.M{"shot_number": 1})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var clips []*agent.VideoClip
	if err := cur.All(ctx, &clips); err != nil {
		return nil, err
	}
	return clips, nil
}

// FindByShot 查询指定分镜的片段
func (r *VideoClipRepo) FindByShot(ctx context.Context, projectID string, shotNumber int) (*agent.VideoClip, error) {
	var clip agent.VideoClip
	filter := bson.M{"project_id": projectID, "shot_number": shotNumber}
	if err := r.coll.FindOne(ctx, filter).Decode(&clip); err != nil {
		return nil, err
	}
	return &clip, nil
}

// Update 更新片段字段（任务引用写回、状态修正等）
func (r *VideoClipRepo) Update(ctx context.Context, projectID string, shotNumber int, updates bson.M) error {
	updates["updated_at"] = time.Now()
	_, err := r.coll.UpdateOne(
		ctx,
		bson.M{"project_id": projectID, "shot_number": shotNumber},
		bson.M{"$set": updates},
	)
	return err
}

// MarkSuccess 记录生成成功的视频与末尾帧
func (r *VideoClipRepo) MarkSuccess(ctx context.Context, projectID string, shotNumber int, videoURL, lastFrameURL string) error {
	update := bson.M{
		"$set": bson.M{
			"status":         agent.ClipStatusSuccess,
			"video_url":      videoURL,
			"last_frame_url": lastFrameURL,
			"updated_at":     time.Now(),
		},
		"$unset": bson.M{"error_message": ""},
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{"project_id": projectID, "shot_number": shotNumber}, update)
	return err
}

// MarkFailed 记录生成失败及错误信息
func (r *VideoClipRepo) MarkFailed(ctx context.Context, projectID string, shotNumber int, errorMessage string) error {
	update := bson.M{
		"$set": bson.M{
			"status":        agent.ClipStatusFailed,
			"error_message": errorMessage,
			"updated_at":    time.Now(),
		},
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{"project_id": projectID, "shot_number": shotNumber}, update)
	return err
}

// MarkAllOutdated 将项目内所有 success 片段标记为 outdated（上游脚本重新分析后调用）
func (r *VideoClipRepo) MarkAllOutdated(ctx context.Context, projectID string) (int64, error) {
	filter := bson.M{"project_id": projectID, "status": agent.ClipStatusSuccess}
	update := bson.M{"$set": bson.M{
		"status":     agent.ClipStatusOutdated,
		"updated_at": time.Now(),
	}}
	result, err := r.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

// MarkOutdatedByShots 将指定分镜的 success 片段标记为 outdated（角色重命名传播）
func (r *VideoClipRepo) MarkOutdatedByShots(ctx context.Context, projectID string, shotNumbers []int) error {
	if len(shotNumbers) == 0 {
		return nil
	}
	filter := bson.M{
		"project_id":  projectID,
		"shot_number": bson.M{"$in": shotNumbers},
		"status":      agent.ClipStatusSuccess,
	}
	update := bson.M{"$set": bson.M{
		"status":     agent.ClipStatusOutdated,
		"updated_at": time.Now(),
	}}
	_, err := r.coll.UpdateMany(ctx, filter, update)
	return err
}

// Rekey 分镜删除级联：将 from 编号的片段改写为 to 编号
// 调用方必须从最小编号向上逐个迁移，避免与未迁移记录冲突
func (r *VideoClipRepo) Rekey(ctx context.Context, projectID string, from, to int) error {
	filter := bson.M{"project_id": projectID, "shot_number": from}
	update := bson.M{"$set": bson.M{"shot_number": to, "updated_at": time.Now()}}
	_, err := r.coll.UpdateOne(ctx, filter, update)
	return err
}

// DeleteByShot 删除指定分镜的片段
func (r *VideoClipRepo) DeleteByShot(ctx context.Context, projectID string, shotNumber int) error {
	_, err := r.coll.DeleteMany(ctx, bson.M{"project_id": projectID, "shot_number": shotNumber})
	return err
}

// DeleteByProjectID 删除项目的全部片段（项目级联删除）
func (r *VideoClipRepo) DeleteByProjectID(ctx context.Context, projectID string) error {
	_, err := r.coll.DeleteMany(ctx, bson.M{"project_id": projectID})
	return err
}
