package watch

import (
	"strings"
	"time"
)

// Activity lights up when events arrive and fades over ten seconds.
type Activity struct {
	level     int
	lastEvent time.Time
}

const activityMax = 5

func (a *Activity) OnEvent(at time.Time) {
	a.level = activityMax
	a.lastEvent = at
}

// Decay lowers the level by one for every two seconds of silence.
func (a *Activity) Decay(now time.Time) {
	if a.level == 0 {
		return
	}
	a.level = max(activityMax-int(now.Sub(a.lastEvent)/(2*time.Second)), 0)
}

func (a Activity) Level() int { return a.level }

func (a Activity) LastEvent() time.Time { return a.lastEvent }

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := range activityMax {
		if i < a.level {
			b.WriteString(theme.Active.Render("●"))
		} else {
			b.WriteString(theme.Inactive.Render("○"))
		}
	}
	return b.String()
}
