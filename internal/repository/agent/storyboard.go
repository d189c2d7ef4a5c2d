package agent

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mango/internal/model/agent"
)

// StoryboardRepository 分镜图仓库接口（供 service 层依赖）
type StoryboardRepository interface {
	Claim(ctx context.Context, placeholder *agent.Storyboard, staleBefore time.Time) (bool, error)
	FindCurrentByProject(ctx context.Context, projectID string) ([]*agent.Storyboard, error)
	FindCurrent(ctx context.Context, projectID string, shotNumber int) (*agent.Storyboard, error)
	MarkSuccess(ctx context.Context, projectID string, shotNumber int, imageURL, externalURL string) error
	MarkFailed(ctx context.Context, projectID string, shotNumber int, errorMessage string) error
	MarkOutdatedByShots(ctx context.Context, projectID string, shotNumbers []int) error
	Supersede(ctx context.Context, projectID string, shotNumber int) error
	Rekey(ctx context.Context, projectID string, from, to int) error
	DeleteByShot(ctx context.Context, projectID string, shotNumber int) error
	DeleteByProjectID(ctx context.Context, projectID string) error
}

// StoryboardRepo 分镜图仓库
type StoryboardRepo struct {
	coll *mongo.Collection
}

// NewStoryboardRepo 创建分镜图仓库
func NewStoryboardRepo(db *mongo.Database) *StoryboardRepo {
	var s agent.Storyboard
	return &StoryboardRepo{coll: db.Collection(s.Collection())}
}

// Claim 以占位写入的方式认领一个分镜槽位，返回是否认领成功
//
// 幂等性依赖 (project_id, shot_number, is_current=true) 的部分唯一索引：
//   - 槽位不存在：upsert 插入 generating 占位，认领成功
//   - 槽位为 failed，或 generating 但 updated_at 早于 staleBefore（判定为滞留）：
//     复用槽位重新标记 generating，尝试次数 +1，认领成功
//   - 槽位为 success 或新鲜的 generating：过滤器不命中，upsert 转为插入并被
//     唯一索引拒绝（duplicate key），视为已有结果、跳过
func (r *StoryboardRepo) Claim(ctx context.Context, placeholder *agent.Storyboard, staleBefore time.Time) (bool, error) {
	now := time.Now()
	filter := bson.M{
		"project_id":  placeholder.ProjectID,
		"shot_number": placeholder.ShotNumber,
		"is_current":  true,
		"$or": []bson.M{
			{"status": bson.M{"$in": []agent.StoryboardStatus{
				agent.StoryboardStatusFailed,
				agent.StoryboardStatusOutdated,
			}}},
			{"status": agent.StoryboardStatusGenerating, "updated_at": bson.M{"$lt": staleBefore}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"status":     agent.StoryboardStatusGenerating,
			"updated_at": now,
		},
		"$unset": bson.M{"error_message": ""},
		"$inc":   bson.M{"generation_attempts": 1},
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

// FindCurrentByProject 查询项目全部当前版本分镜图（按分镜编号升序）
func (r *StoryboardRepo) FindCurrentByProject(ctx context.Context, projectID string) ([]*agent.Storyboard, error) {
	filter := bson.M{"project_id": projectID, "is_current": true}
	opts := options.Find().SetSort(bson.M{"shot_number": 1})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var storyboards []*agent.Storyboard
	if err := cur.All(ctx, &storyboards); err != nil {
		return nil, err
	}
	return storyboards, nil
}

// FindCurrent 查询指定分镜的当前版本
func (r *StoryboardRepo) FindCurrent(ctx context.Context, projectID string, shotNumber int) (*agent.Storyboard, error) {
	var storyboard agent.Storyboard
	filter := bson.M{"project_id": projectID, "shot_number": shotNumber, "is_current": true}
	if err := r.coll.FindOne(ctx, filter).Decode(&storyboard); err != nil {
		return nil, err
	}
	return &storyboard, nil
}

// MarkSuccess 记录生成成功的结果
func (r *StoryboardRepo) MarkSuccess(ctx context.Context, projectID string, shotNumber int, imageURL, externalURL string) error {
	filter := bson.M{"project_id": projectID, "shot_number": shotNumber, "is_current": true}
	update := bson.M{
		"$set": bson.M{
			"status":             agent.StoryboardStatusSuccess,
			"image_url":          imageURL,
			"image_url_external": externalURL,
			"updated_at":         time.Now(),
		},
		"$unset": bson.M{"error_message": ""},
	}
	_, err := r.coll.UpdateOne(ctx, filter, update)
	return err
}

// MarkFailed 记录生成失败及错误信息
func (r *StoryboardRepo) MarkFailed(ctx context.Context, projectID string, shotNumber int, errorMessage string) error {
	filter := bson.M{"project_id": projectID, "shot_number": shotNumber, "is_current": true}
	update := bson.M{
		"$set": bson.M{
			"status":        agent.StoryboardStatusFailed,
			"error_message": errorMessage,
			"updated_at":    time.Now(),
		},
	}
	_, err := r.coll.UpdateOne(ctx, filter, update)
	return err
}

// MarkOutdatedByShots 将指定分镜的 success 分镜图标记为 outdated（角色重命名传播）
func (r *StoryboardRepo) MarkOutdatedByShots(ctx context.Context, projectID string, shotNumbers []int) error {
	if len(shotNumbers) == 0 {
		return nil
	}
	filter := bson.M{
		"project_id":  projectID,
		"shot_number": bson.M{"$in": shotNumbers},
		"is_current":  true,
		"status":      agent.StoryboardStatusSuccess,
	}
	update := bson.M{"$set": bson.M{
		"status":     agent.StoryboardStatusOutdated,
		"updated_at": time.Now(),
	}}
	_, err := r.coll.UpdateMany(ctx, filter, update)
	return err
}

// Supersede 将当前版本标记为历史版本（单张重新生成前调用，腾出唯一槽位）
func (r *StoryboardRepo) Supersede(ctx context.Context, projectID string, shotNumber int) error {
	filter := bson.M{"project_id": projectID, "shot_number": shotNumber, "is_current": true}
	update := bson.M{"$set": bson.M{"is_current": false, "updated_at": time.Now()}}
	_, err := r.coll.UpdateMany(ctx, filter, update)
	return err
}

// Rekey 分镜删除级联：将 from 编号的记录改写为 to 编号
// 调用方必须从最小编号向上逐个迁移，避免与未迁移记录冲突
func (r *StoryboardRepo) Rekey(ctx context.Context, projectID string, from, to int) error {
	filter := bson.M{"project_id": projectID, "shot_number": from}
	update := bson.M{"$set": bson.M{"shot_number": to, "updated_at": time.Now()}}
	_, err := r.coll.UpdateMany(ctx, filter, update)
	return err
}

// DeleteByShot 删除指定分镜的全部记录（含历史版本）
func (r *StoryboardRepo) DeleteByShot(ctx context.Context, projectID string, shotNumber int) error {
	_, err := r.coll.DeleteMany(ctx, bson.M{"project_id": projectID, "shot_number": shotNumber})
	return err
}

// DeleteByProjectID 删除项目的全部分镜图（项目级联删除）
func (r *StoryboardRepo) DeleteByProjectID(ctx context.Context, projectID string) error {
	_, err := r.coll.DeleteMany(ctx, bson.M{"project_id": projectID})
	return err
}
