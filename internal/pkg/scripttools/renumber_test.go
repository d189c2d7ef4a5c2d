package scripttools

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"mango/internal/model/agent"
)

func makeShots(durations []float64, characters ...[]string) []agent.Shot {
	shots := make([]agent.Shot, len(durations))
	start := 0.0
	for i, d := range durations {
		shots[i] = agent.Shot{
			ShotNumber:      i + 1,
			DurationSeconds: d,
			TimeRange:       FormatTimeRange(start, start+d),
		}
		if i < len(characters) {
			shots[i].Characters = characters[i]
		}
		start += d
	}
	return shots
}

func TestDeleteShot(t *testing.T) {
	Convey("DeleteShot 删除分镜并重编号", t, func() {
		Convey("删除中间分镜后编号连续、时间范围重算", func() {
			// 4 个分镜，时长 [5,3,4,6]，删除 2 号
			shots := makeShots([]float64{5, 3, 4, 6},
				[]string{"Alice"}, []string{"Sam"}, []string{"Alice", "Bob"}, []string{"Bob"})

			result, err := DeleteShot(shots, 2)
			So(err, ShouldBeNil)
			So(len(result.Shots), ShouldEqual, 3)

			// 编号 1..N 连续
			for i, shot := range result.Shots {
				So(shot.ShotNumber, ShouldEqual, i+1)
			}

			// 新时长 [5,4,6]，时间范围从 0 开始按前缀和推导
			So(result.Shots[0].TimeRange, ShouldEqual, "0.0-5.0s")
			So(result.Shots[1].TimeRange, ShouldEqual, "5.0-9.0s")
			So(result.Shots[2].TimeRange, ShouldEqual, "9.0-15.0s")
			So(TotalDuration(result.Shots), ShouldEqual, 15)

			// "Sam" 只出现在被删除的分镜中，角色列表不再包含
			So(result.Characters, ShouldResemble, []string{"Alice", "Bob"})
		})

		Convey("删除首个分镜", func() {
			shots := makeShots([]float64{2, 3})
			result, err := DeleteShot(shots, 1)
			So(err, ShouldBeNil)
			So(result.Shots[0].ShotNumber, ShouldEqual, 1)
			So(result.Shots[0].DurationSeconds, ShouldEqual, 3)
			So(result.Shots[0].TimeRange, ShouldEqual, "0.0-3.0s")
		})

		Convey("删除末尾分镜不影响前序时间范围", func() {
			shots := makeShots([]float64{2, 3, 4})
			result, err := DeleteShot(shots, 3)
			So(err, ShouldBeNil)
			So(len(result.Shots), ShouldEqual, 2)
			So(result.Shots[1].TimeRange, ShouldEqual, "2.0-5.0s")
		})

		Convey("仅剩一个分镜时拒绝删除", func() {
			shots := makeShots([]float64{5})
			_, err := DeleteShot(shots, 1)
			So(errors.Is(err, ErrLastShot), ShouldBeTrue)
		})

		Convey("分镜编号不存在时报错", func() {
			shots := makeShots([]float64{5, 3})
			_, err := DeleteShot(shots, 9)
			So(errors.Is(err, ErrShotNotFound), ShouldBeTrue)

			_, err = DeleteShot(shots, 0)
			So(errors.Is(err, ErrShotNotFound), ShouldBeTrue)
		})
	})
}

func TestRecomputeTimeRanges(t *testing.T) {
	Convey("RecomputeTimeRanges 按前缀和推导时间范围", t, func() {
		shots := makeShots([]float64{1.5, 2.5})
		shots[0].TimeRange = "garbage"
		shots[1].TimeRange = ""

		RecomputeTimeRanges(shots)

		So(shots[0].TimeRange, ShouldEqual, "0.0-1.5s")
		So(shots[1].TimeRange, ShouldEqual, "1.5-4.0s")
	})
}
