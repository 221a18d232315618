package filter

// StageKind identifies one engine-addressable operation.
type StageKind string

const (
	StageConcat       StageKind = "concat"
	StageDrawText     StageKind = "drawtext"
	StageAudioOverlay StageKind = "audio-overlay"
	StageVideoOverlay StageKind = "video-overlay"
	StageSubtitles    StageKind = "subtitles"
)

// Stage is one compiled, engine-addressable filter operation. All user text
// is escaped and all colors encoded at compile time. The dispatcher executes
// stages strictly in order; each stage consumes the previous stage's output
// as its primary input. A Stage is immutable once compiled.
type Stage struct {
	// Kind tells the engine driver how to bind the fragment's streams.
	Kind StageKind

	// Graph is the rendered filtergraph fragment. Complex fragments label
	// their outputs [vout] and/or [aout]; simple fragments are a plain video
	// filter chain.
	Graph string

	// Complex marks fragments that address multiple streams or sources and
	// must run through the engine's complex-graph path.
	Complex bool

	// ExtraInputs are indices into the task's input references consumed in
	// addition to the running chain output (stream 0).
	ExtraInputs []int

	// Script is auxiliary document content (a subtitle script) the driver
	// materializes into the task workspace before execution.
	Script string

	// TimeExpr is the compiled animation formula embedded in Graph, kept
	// separately for the operation log.
	TimeExpr string
}
