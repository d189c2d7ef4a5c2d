package agent

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"mango/internal/model/agent"
	"mango/internal/pkg/cache"
)

func TestGenerateStoryboards(t *testing.T) {
	ctx := context.Background()

	Convey("GenerateStoryboards 批量触发分镜图生成", t, func() {
		Convey("首次触发认领全部分镜并在后台完成生成", func() {
			env := newTestEnv()
			env.seedProject("p1", []float64{3, 4, 5})

			result, err := env.svc.GenerateStoryboards(ctx, testUserID, "p1")
			So(err, ShouldBeNil)
			So(result.Started, ShouldBeTrue)
			So(result.Triggered, ShouldResemble, []int{1, 2, 3})
			So(result.Total, ShouldEqual, 3)

			done := waitUntil(func() bool {
				items, _ := env.storyboards.FindCurrentByProject(ctx, "p1")
				success := 0
				for _, sb := range items {
					if sb.Status == agent.StoryboardStatusSuccess {
						success++
					}
				}
				return success == 3
			})
			So(done, ShouldBeTrue)
			So(env.image.calls(), ShouldEqual, 3)

			items, _ := env.storyboards.FindCurrentByProject(ctx, "p1")
			for _, sb := range items {
				So(sb.ImageURL, ShouldStartWith, "https://cdn.test/agent/p1/storyboards/")
				So(sb.GenerationAttempts, ShouldEqual, 1)
			}

			So(waitUntil(func() bool {
				p, _ := env.projects.FindByID(ctx, "p1")
				return p.Step3Status != nil && *p.Step3Status == agent.StageStatusCompleted
			}), ShouldBeTrue)
		})

		Convey("全部成功后重复触发返回已完成且不产生新外呼", func() {
			env := newTestEnv()
			env.seedProject("p1", []float64{3, 4})

			_, err := env.svc.GenerateStoryboards(ctx, testUserID, "p1")
			So(err, ShouldBeNil)
			So(waitUntil(func() bool { return env.locker.heldCount() == 0 && env.image.calls() == 2 }), ShouldBeTrue)

			result, err := env.svc.GenerateStoryboards(ctx, testUserID, "p1")
			So(err, ShouldBeNil)
			So(result.AlreadyCompleted, ShouldBeTrue)
			So(result.Started, ShouldBeFalse)
			So(env.image.calls(), ShouldEqual, 2)

			// 无新认领的触发不滞留派发锁，紧接着的触发仍得到"已完成"
			So(env.locker.heldCount(), ShouldEqual, 0)
			again, err := env.svc.GenerateStoryboards(ctx, testUserID, "p1")
			So(err, ShouldBeNil)
			So(again.AlreadyCompleted, ShouldBeTrue)
		})

		Convey("派发锁被占用时直接返回进行中", func() {
			env := newTestEnv()
			env.seedProject("p1", []float64{3})
			locked, _ := env.locker.TryLock(ctx, cache.StoryboardDispatchLockKey("p1"), time.Minute)
			So(locked, ShouldBeTrue)

			result, err := env.svc.GenerateStoryboards(ctx, testUserID, "p1")
			So(err, ShouldBeNil)
			So(result.AlreadyStarted, ShouldBeTrue)
			So(env.image.calls(), ShouldEqual, 0)
		})

		Convey("失败的分镜在下次触发时被重新认领", func() {
			env := newTestEnv()
			env.seedProject("p1", []float64{3, 4, 5})
			env.image.failSubstr = "shot-2"

			_, err := env.svc.GenerateStoryboards(ctx, testUserID, "p1")
			So(err, ShouldBeNil)
			So(waitUntil(func() bool { return env.locker.heldCount() == 0 && env.image.calls() == 3 }), ShouldBeTrue)

			So(waitUntil(func() bool {
				p, _ := env.projects.FindByID(ctx, "p1")
				return p.Step3Status != nil && *p.Step3Status == agent.StageStatusPartial
			}), ShouldBeTrue)

			env.image.failSubstr = ""
			result, err := env.svc.GenerateStoryboards(ctx, testUserID, "p1")
			So(err, ShouldBeNil)
			So(result.Started, ShouldBeTrue)
			So(result.Triggered, ShouldResemble, []int{2})

			So(waitUntil(func() bool {
				p, _ := env.projects.FindByID(ctx, "p1")
				return p.Step3Status != nil && *p.Step3Status == agent.StageStatusCompleted
			}), ShouldBeTrue)

			sb, _ := env.storyboards.FindCurrent(ctx, "p1", 2)
			So(sb.GenerationAttempts, ShouldEqual, 2)
			So(sb.ErrorMessage, ShouldBeEmpty)
		})

		Convey("积分不足时拒绝且不发生任何外部调用", func() {
			env := newTestEnv()
			env.seedProject("p1", []float64{3, 4})
			env.svc.credits = denyCredits{}

			_, err := env.svc.GenerateStoryboards(ctx, testUserID, "p1")
			So(err, ShouldEqual, ErrInsufficientCredits)
			So(env.image.calls(), ShouldEqual, 0)

			items, _ := env.storyboards.FindCurrentByProject(ctx, "p1")
			So(len(items), ShouldEqual, 0)
		})

		Convey("脚本未分析时拒绝触发", func() {
			env := newTestEnv()
			project := env.seedProject("p1", []float64{3})
			project.ScriptAnalysis = nil

			_, err := env.svc.GenerateStoryboards(ctx, testUserID, "p1")
			So(err, ShouldEqual, ErrScriptNotAnalyzed)
		})

		Convey("配置了音乐提示词时同步启动背景音乐任务", func() {
			env := newTestEnv()
			project := env.seedProject("p1", []float64{3})
			project.MusicPrompt = "轻快的古风配乐"

			_, err := env.svc.GenerateStoryboards(ctx, testUserID, "p1")
			So(err, ShouldBeNil)
			So(len(env.music.generated), ShouldEqual, 1)

			p, _ := env.projects.FindByID(ctx, "p1")
			So(p.MusicTaskID, ShouldEqual, "music-task-1")

			So(waitUntil(func() bool { return env.locker.heldCount() == 0 }), ShouldBeTrue)
		})

		Convey("分镜图提示词包含风格与角色外观描述", func() {
			env := newTestEnv()
			project := env.seedProject("p1", []float64{3}, "林小满")
			env.characters.insert(&agent.Character{
				ID:               "c1",
				ProjectID:        "p1",
				UserID:           testUserID,
				CharacterName:    "林小满",
				GenerationPrompt: "红衣少女，马尾辫",
			})

			prompt := buildStoryboardPrompt(project, &project.ScriptAnalysis.Shots[0], mustCharacters(env, "p1"))
			So(prompt, ShouldContainSubstring, "国风动画风格")
			So(prompt, ShouldContainSubstring, "shot-1 scene")
			So(prompt, ShouldContainSubstring, "林小满：红衣少女，马尾辫")
		})
	})
}

func mustCharacters(env *testEnv, projectID string) []*agent.Character {
	characters, _ := env.characters.FindByProjectID(context.Background(), projectID)
	return characters
}

func TestRegenerateStoryboard(t *testing.T) {
	ctx := context.Background()

	Convey("RegenerateStoryboard 重新生成单张分镜图", t, func() {
		Convey("旧版本转为历史记录，新版本占用当前槽位", func() {
			env := newTestEnv()
			env.seedProject("p1", []float64{3, 4})
			env.storyboards.insert(&agent.Storyboard{
				ID:                 "sb-old",
				ProjectID:          "p1",
				ShotNumber:         1,
				ImageURL:           "https://cdn.test/old.png",
				Status:             agent.StoryboardStatusSuccess,
				GenerationAttempts: 2,
				IsCurrent:          true,
			})

			err := env.svc.RegenerateStoryboard(ctx, testUserID, "p1", 1)
			So(err, ShouldBeNil)

			So(waitUntil(func() bool {
				sb, err := env.storyboards.FindCurrent(ctx, "p1", 1)
				return err == nil && sb.Status == agent.StoryboardStatusSuccess && sb.ID != "sb-old"
			}), ShouldBeTrue)

			// 新槽位的尝试次数重新计数，历史次数留在旧记录上
			sb, _ := env.storyboards.FindCurrent(ctx, "p1", 1)
			So(sb.GenerationAttempts, ShouldEqual, 1)
		})

		Convey("分镜编号不存在时返回未找到", func() {
			env := newTestEnv()
			env.seedProject("p1", []float64{3})

			err := env.svc.RegenerateStoryboard(ctx, testUserID, "p1", 9)
			So(err, ShouldEqual, ErrNotFound)
		})
	})
}

func TestStoryboardStatus(t *testing.T) {
	ctx := context.Background()

	Convey("StoryboardStatus 状态读取与惰性修复", t, func() {
		Convey("滞留超窗的 generating 记录被标记为失败", func() {
			env := newTestEnv()
			env.seedProject("p1", []float64{3, 4})
			env.storyboards.insert(&agent.Storyboard{
				ID:         "sb-1",
				ProjectID:  "p1",
				ShotNumber: 1,
				ImageURL:   "https://cdn.test/1.png",
				Status:     agent.StoryboardStatusSuccess,
				IsCurrent:  true,
				UpdatedAt:  time.Now(),
			})
			env.storyboards.insert(&agent.Storyboard{
				ID:         "sb-2",
				ProjectID:  "p1",
				ShotNumber: 2,
				Status:     agent.StoryboardStatusGenerating,
				IsCurrent:  true,
				UpdatedAt:  time.Now().Add(-20 * time.Minute),
			})

			result, err := env.svc.StoryboardStatus(ctx, testUserID, "p1")
			So(err, ShouldBeNil)
			So(result.Counts.Success, ShouldEqual, 1)
			So(result.Counts.Failed, ShouldEqual, 1)
			So(result.Counts.Generating, ShouldEqual, 0)

			sb, _ := env.storyboards.FindCurrent(ctx, "p1", 2)
			So(sb.Status, ShouldEqual, agent.StoryboardStatusFailed)
			So(sb.ErrorMessage, ShouldEqual, dispatchLostMessage)

			// 修复后全部结算，聚合状态惰性写入
			So(result.StageStatus, ShouldNotBeNil)
			So(*result.StageStatus, ShouldEqual, agent.StageStatusPartial)
		})

		Convey("新鲜的 generating 记录不受影响", func() {
			env := newTestEnv()
			env.seedProject("p1", []float64{3})
			env.storyboards.insert(&agent.Storyboard{
				ID:         "sb-1",
				ProjectID:  "p1",
				ShotNumber: 1,
				Status:     agent.StoryboardStatusGenerating,
				IsCurrent:  true,
				UpdatedAt:  time.Now(),
			})

			result, err := env.svc.StoryboardStatus(ctx, testUserID, "p1")
			So(err, ShouldBeNil)
			So(result.Counts.Generating, ShouldEqual, 1)
			So(result.StageStatus, ShouldBeNil)
		})

		Convey("归属不符的项目返回未找到", func() {
			env := newTestEnv()
			env.seedProject("p1", []float64{3})

			_, err := env.svc.StoryboardStatus(ctx, "other-user", "p1")
			So(err, ShouldEqual, ErrNotFound)
		})
	})
}
