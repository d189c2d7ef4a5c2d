package agent

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mango/internal/model/agent"
)

// CharacterRepository 角色仓库接口（供 service 层依赖）
type CharacterRepository interface {
	Create(ctx context.Context, character *agent.Character) error
	FindByID(ctx context.Context, id string) (*agent.Character, error)
	FindByProjectID(ctx context.Context, projectID string) ([]*agent.Character, error)
	FindByName(ctx context.Context, projectID, name string) (*agent.Character, error)
	Update(ctx context.Context, id string, updates bson.M) error
	DeleteByIDs(ctx context.Context, projectID string, ids []string) (int64, error)
	DeleteByProjectID(ctx context.Context, projectID string) error
}

// CharacterRepo 角色仓库
type CharacterRepo struct {
	coll *mongo.Collection
}

// NewCharacterRepo 创建角色仓库
func NewCharacterRepo(db *mongo.Database) *CharacterRepo {
	var c agent.Character
	return &CharacterRepo{coll: db.Collection(c.Collection())}
}

// Create 创建角色
// 同项目内重名（大小写不敏感）由唯一索引拦截，返回 duplicate key 错误
func (r *CharacterRepo) Create(ctx context.Context, character *agent.Character) error {
	now := time.Now()
	character.CreatedAt = now
	character.UpdatedAt = now
	_, err := r.coll.InsertOne(ctx, character)
	return err
}

// FindByID 根据ID查询角色
func (r *CharacterRepo) FindByID(ctx context.Context, id string) (*agent.Character, error) {
	var character agent.Character
	if err := r.coll.FindOne(ctx, bson.M{"id": id}).Decode(&character); err != nil {
		return nil, err
	}
	return &character, nil
}

// FindByProjectID 查询项目的所有角色（按创建时间升序）
func (r *CharacterRepo) FindByProjectID(ctx context.Context, projectID string) ([]*agent.Character, error) {
	filter := bson.M{"project_id": projectID}
	opts := options.Find().SetSort(bson.M{"created_at": 1})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var characters []*agent.Character
	if err := cur.All(ctx, &characters); err != nil {
		return nil, err
	}
	return characters, nil
}

// FindByName 根据名称查询项目内角色（大小写不敏感，走唯一索引的 collation）
func (r *CharacterRepo) FindByName(ctx context.Context, projectID, name string) (*agent.Character, error) {
	var character agent.Character
	filter := bson.M{"project_id": projectID, "character_name": name}
	opts := options.FindOne().SetCollation(&options.Collation{Locale: "en", Strength: 2})
	if err := r.coll.FindOne(ctx, filter, opts).Decode(&character); err != nil {
		return nil, err
	}
	return &character, nil
}

// Update 更新角色字段
func (r *CharacterRepo) Update(ctx context.Context, id string, updates bson.M) error {
	updates["updated_at"] = time.Now()
	_, err := r.coll.UpdateOne(
		ctx,
		bson.M{"id": id},
		bson.M{"$set": updates},
	)
	return err
}

// DeleteByIDs 删除项目内指定的角色（孤儿清理、同名合并收敛）
func (r *CharacterRepo) DeleteByIDs(ctx context.Context, projectID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := r.coll.DeleteMany(ctx, bson.M{
		"project_id": projectID,
		"id":         bson.M{"$in": ids},
	})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

// DeleteByProjectID 删除项目的全部角色（项目级联删除）
func (r *CharacterRepo) DeleteByProjectID(ctx context.Context, projectID string) error {
	_, err := r.coll.DeleteMany(ctx, bson.M{"project_id": projectID})
	return err
}
