package exporter

// ProgressEvent 导出进度
type ProgressEvent struct {
	Percent int
	Stage   string
	Folder  string // 刚写完的参与者目录；其他阶段为空
}

// 各阶段的起始百分比，参与者目录占 [stageFolders, stageStatus)
const (
	stageFolders  = 5
	stageStatus   = 88
	stageManifest = 94
)

type progressFunc func(ProgressEvent)

func (f progressFunc) stage(percent int, stage string) {
	f.emit(ProgressEvent{Percent: percent, Stage: stage})
}

func (f progressFunc) folder(done, total int, name string) {
	percent := stageStatus
	if total > 0 {
		percent = stageFolders + (stageStatus-stageFolders)*done/total
	}
	f.emit(ProgressEvent{Percent: percent, Stage: "已写入 " + name, Folder: name})
}

func (f progressFunc) emit(ev ProgressEvent) {
	if f == nil {
		return
	}
	ev.Percent = min(max(ev.Percent, 0), 100)
	f(ev)
}
