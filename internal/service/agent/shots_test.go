package agent

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"mango/internal/model/agent"
	"mango/internal/pkg/scripttools"
)

func TestDeleteShot(t *testing.T) {
	ctx := context.Background()

	Convey("DeleteShot 删除分镜并级联重编号", t, func() {
		Convey("后续分镜前移，时间范围按前缀和重算", func() {
			env := newTestEnv()
			env.seedProject("p1", []float64{5, 3, 4, 6})

			result, err := env.svc.DeleteShot(ctx, testUserID, "p1", 2)
			So(err, ShouldBeNil)
			So(result.DeletedShotNumber, ShouldEqual, 2)
			So(result.NewShotCount, ShouldEqual, 3)

			p, _ := env.projects.FindByID(ctx, "p1")
			shots := p.ScriptAnalysis.Shots
			So(len(shots), ShouldEqual, 3)
			So(shots[0].TimeRange, ShouldEqual, "0.0-5.0s")
			So(shots[1].TimeRange, ShouldEqual, "5.0-9.0s")
			So(shots[2].TimeRange, ShouldEqual, "9.0-15.0s")
			// 原分镜3、4 前移为 2、3
			So(shots[1].Description, ShouldEqual, "shot-3 scene")
			So(shots[2].Description, ShouldEqual, "shot-4 scene")
			So(p.ScriptAnalysis.Duration, ShouldEqual, 15.0)
			So(p.ScriptAnalysis.ShotCount, ShouldEqual, 3)
		})

		Convey("下游分镜图与片段记录同步删除并重编号", func() {
			env := newTestEnv()
			env.seedProject("p1", []float64{5, 3, 4})
			env.seedStoryboards("p1", 3)
			for n := 1; n <= 3; n++ {
				env.clips.insert(&agent.VideoClip{
					ID: string(rune('a' + n)), ProjectID: "p1", ShotNumber: n,
					Status: agent.ClipStatusSuccess, VideoURL: "https://videos.test/x.mp4",
				})
			}

			_, err := env.svc.DeleteShot(ctx, testUserID, "p1", 2)
			So(err, ShouldBeNil)

			storyboards, _ := env.storyboards.FindCurrentByProject(ctx, "p1")
			So(len(storyboards), ShouldEqual, 2)
			So(storyboards[0].ShotNumber, ShouldEqual, 1)
			So(storyboards[1].ShotNumber, ShouldEqual, 2)
			// 原分镜3的图变为分镜2的图
			So(storyboards[1].ID, ShouldEqual, "sb-3")

			clips, _ := env.clips.FindByProjectID(ctx, "p1")
			So(len(clips), ShouldEqual, 2)
			So(clips[1].ShotNumber, ShouldEqual, 2)
		})

		Convey("项目已推进时阶段3-5状态重置为未触达", func() {
			env := newTestEnv()
			project := env.seedProject("p1", []float64{5, 3})
			project.CurrentStep = 3
			step := agent.StageStatusCompleted
			project.Step3Status = &step
			project.Step4Status = &step

			_, err := env.svc.DeleteShot(ctx, testUserID, "p1", 2)
			So(err, ShouldBeNil)

			p, _ := env.projects.FindByID(ctx, "p1")
			So(p.Step3Status, ShouldBeNil)
			So(p.Step4Status, ShouldBeNil)
			So(p.Step5Status, ShouldBeNil)
		})

		Convey("仅在被删分镜中出现的角色记录被清理", func() {
			env := newTestEnv()
			project := env.seedProject("p1", []float64{5, 3})
			project.ScriptAnalysis.Shots[0].Characters = []string{"Anna"}
			project.ScriptAnalysis.Shots[1].Characters = []string{"Bella"}
			project.ScriptAnalysis.Characters = []string{"Anna", "Bella"}
			env.characters.insert(&agent.Character{ID: "c1", ProjectID: "p1", CharacterName: "Anna"})
			env.characters.insert(&agent.Character{ID: "c2", ProjectID: "p1", CharacterName: "Bella"})

			result, err := env.svc.DeleteShot(ctx, testUserID, "p1", 2)
			So(err, ShouldBeNil)
			So(result.CharactersRemoved, ShouldResemble, []string{"Bella"})
			So(result.NewCharacters, ShouldResemble, []string{"Anna"})

			characters, _ := env.characters.FindByProjectID(ctx, "p1")
			So(len(characters), ShouldEqual, 1)
			So(characters[0].CharacterName, ShouldEqual, "Anna")
		})

		Convey("删除最后一个分镜被拒绝", func() {
			env := newTestEnv()
			env.seedProject("p1", []float64{5})

			_, err := env.svc.DeleteShot(ctx, testUserID, "p1", 1)
			So(errors.Is(err, scripttools.ErrLastShot), ShouldBeTrue)
		})

		Convey("分镜编号不存在时返回错误", func() {
			env := newTestEnv()
			env.seedProject("p1", []float64{5, 3})

			_, err := env.svc.DeleteShot(ctx, testUserID, "p1", 7)
			So(errors.Is(err, scripttools.ErrShotNotFound), ShouldBeTrue)
		})
	})
}

func TestPatchShot(t *testing.T) {
	ctx := context.Background()

	Convey("PatchShot 部分更新分镜", t, func() {
		Convey("时长变化触发全量时间范围重算", func() {
			env := newTestEnv()
			env.seedProject("p1", []float64{5, 3, 4})

			newDuration := 10.0
			shot, err := env.svc.PatchShot(ctx, testUserID, "p1", 2, &ShotPatch{DurationSeconds: &newDuration})
			So(err, ShouldBeNil)
			So(shot.DurationSeconds, ShouldEqual, 10.0)
			So(shot.TimeRange, ShouldEqual, "5.0-15.0s")

			p, _ := env.projects.FindByID(ctx, "p1")
			So(p.ScriptAnalysis.Shots[2].TimeRange, ShouldEqual, "15.0-19.0s")
			So(p.ScriptAnalysis.Duration, ShouldEqual, 19.0)
		})

		Convey("角色列表替换触发项目角色并集重算", func() {
			env := newTestEnv()
			project := env.seedProject("p1", []float64{5, 3})
			project.ScriptAnalysis.Shots[0].Characters = []string{"Anna"}
			project.ScriptAnalysis.Shots[1].Characters = []string{"Anna"}
			project.ScriptAnalysis.Characters = []string{"Anna"}

			shot, err := env.svc.PatchShot(ctx, testUserID, "p1", 2, &ShotPatch{Characters: []string{" Bella "}})
			So(err, ShouldBeNil)
			So(shot.Characters, ShouldResemble, []string{"Bella"})

			p, _ := env.projects.FindByID(ctx, "p1")
			So(p.ScriptAnalysis.Characters, ShouldResemble, []string{"Anna", "Bella"})
		})

		Convey("空补丁被拒绝", func() {
			env := newTestEnv()
			env.seedProject("p1", []float64{5})

			_, err := env.svc.PatchShot(ctx, testUserID, "p1", 1, &ShotPatch{})
			So(err, ShouldEqual, ErrEmptyPatch)
		})

		Convey("非正时长被拒绝", func() {
			env := newTestEnv()
			env.seedProject("p1", []float64{5})

			bad := -1.0
			_, err := env.svc.PatchShot(ctx, testUserID, "p1", 1, &ShotPatch{DurationSeconds: &bad})
			So(err, ShouldNotBeNil)
		})
	})
}
