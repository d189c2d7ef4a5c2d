package agent

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mango/internal/model/agent"
)

// ProjectRepository 项目仓库接口（供 service 层依赖）
type ProjectRepository interface {
	Create(ctx context.Context, project *agent.Project) error
	FindByID(ctx context.Context, id string) (*agent.Project, error)
	FindByIDAndUser(ctx context.Context, id, userID string) (*agent.Project, error)
	ListByUser(ctx context.Context, userID string, page, pageSize int64) ([]*agent.Project, int64, error)
	Update(ctx context.Context, id string, updates bson.M) error
	UpdateWithUnset(ctx context.Context, id string, set, unset bson.M) error
	Delete(ctx context.Context, id string) error
}

// ProjectRepo 项目仓库
type ProjectRepo struct {
	coll *mongo.Collection
}

// NewProjectRepo 创建项目仓库
func NewProjectRepo(db *mongo.Database) *ProjectRepo {
	var p agent.Project
	return &ProjectRepo{coll: db.Collection(p.Collection())}
}

// Create 创建项目
func (r *ProjectRepo) Create(ctx context.Context, project *agent.Project) error {
	now := time.Now()
	project.CreatedAt = now
	project.UpdatedAt = now
	_, err := r.coll.InsertOne(ctx, project)
	return err
}

// FindByID 根据ID查询项目
func (r *ProjectRepo) FindByID(ctx context.Context, id string) (*agent.Project, error) {
	var project agent.Project
	if err := r.coll.FindOne(ctx, bson.M{"id": id, "deleted_at": nil}).Decode(&project); err != nil {
		return nil, err
	}
	return &project, nil
}

// FindByIDAndUser 根据ID查询项目并校验归属
func (r *ProjectRepo) FindByIDAndUser(ctx context.Context, id, userID string) (*agent.Project, error) {
	var project agent.Project
	filter := bson.M{"id": id, "user_id": userID, "deleted_at": nil}
	if err := r.coll.FindOne(ctx, filter).Decode(&project); err != nil {
		return nil, err
	}
	return &project, nil
}

// ListByUser 分页查询用户的项目（按创建时间倒序）
func (r *ProjectRepo) ListByUser(ctx context.Context, userID string, page, pageSize int64) ([]*agent.Project, int64, error) {
	filter := bson.M{"user_id": userID, "deleted_at": nil}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.M{"created_at": -1}).
		SetSkip((page - 1) * pageSize).
		SetLimit(pageSize)
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	var projects []*agent.Project
	if err := cur.All(ctx, &projects); err != nil {
		return nil, 0, err
	}
	return projects, total, nil
}

// Update 更新项目字段
func (r *ProjectRepo) Update(ctx context.Context, id string, updates bson.M) error {
	updates["updated_at"] = time.Now()
	_, err := r.coll.UpdateOne(
		ctx,
		bson.M{"id": id},
		bson.M{"$set": updates},
	)
	return err
}

// UpdateWithUnset 同时设置与清除字段
// 用于分镜删除后的级联重置：step_3/4/5_status 回到未触达（null）
func (r *ProjectRepo) UpdateWithUnset(ctx context.Context, id string, set, unset bson.M) error {
	if set == nil {
		set = bson.M{}
	}
	set["updated_at"] = time.Now()
	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{"id": id}, update)
	return err
}

// Delete 软删除项目
func (r *ProjectRepo) Delete(ctx context.Context, id string) error {
	_, err := r.coll.UpdateOne(
		ctx,
		bson.M{"id": id},
		bson.M{"$set": bson.M{
			"deleted_at": time.Now(),
			"updated_at": time.Now(),
		}},
	)
	return err
}
