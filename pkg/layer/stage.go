package layer

// Stage is one phase of a layer's execution.
type Stage string

const (
	StagePre  Stage = "pre"
	StageMain Stage = "main"
	StagePost Stage = "post"
)

// Stages returns the three stages in execution order.
func Stages() []Stage {
	return []Stage{StagePre, StageMain, StagePost}
}

// HookFile returns the playbook filename for this stage.
func (s Stage) HookFile() string {
	switch s {
	case StagePre:
		return "pre-playbook.yml"
	case StagePost:
		return "post-playbook.yml"
	default:
		return "playbook.yml"
	}
}
