package nw

// Stage is a state of the publication state machine.
type Stage int

const (
	StageIdle Stage = iota
	StageVerifying
	StageStoring
	StageRecording
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageVerifying:
		return "verifying"
	case StageStoring:
		return "storing"
	case StageRecording:
		return "recording"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Progress is emitted on every state transition of a submission.
// When Err is set the submission has moved to Failed(Stage, Err).
type Progress struct {
	SubmissionID string
	Stage        Stage
	ContentRef   string
	Err          error
}

// Failed reports whether this is a terminal failure notification.
func (p Progress) Failed() bool { return p.Err != nil }

// ProgressObserver receives advisory progress notifications. Observers are
// called synchronously and must not block.
type ProgressObserver interface {
	OnProgress(p Progress)
}

// ProgressFunc adapts a function to ProgressObserver.
type ProgressFunc func(p Progress)

func (f ProgressFunc) OnProgress(p Progress) { f(p) }
