package model

// StageKey names one step of a content pipeline.
type StageKey string

const (
	StageLogline     StageKey = "logline"
	StageSynopsis    StageKey = "synopsis"
	StageTreatment   StageKey = "treatment"
	StageCharacters  StageKey = "character_bible"
	StageOutline     StageKey = "outline"
	StageScript      StageKey = "script"
	StageSeasonArc   StageKey = "season_arc"
	StageEpisodeGrid StageKey = "episode_grid"
	StagePilot       StageKey = "pilot_script"
	StageEpisode     StageKey = "episode_script"
	StageShotList    StageKey = "shot_list"
	StageClip        StageKey = "clip"
	StageAudio       StageKey = "audio"
	StageRender      StageKey = "render"
)

// DefaultFormat is the ladder used when a format is not registered.
const DefaultFormat = "film"

// ladders maps content format to its ordered stage sequence. New formats
// are rows in this table, not new code.
var ladders = map[string][]StageKey{
	"film": {
		StageLogline, StageSynopsis, StageTreatment,
		StageCharacters, StageOutline, StageScript,
	},
	"series": {
		StageLogline, StageSeasonArc, StageEpisodeGrid,
		StagePilot, StageEpisode,
	},
	"trailer": {
		StageShotList, StageClip, StageAudio, StageRender,
	},
	"short": {
		StageLogline, StageOutline, StageScript,
	},
}

// approvalStages flags the ladder checkpoints that require a human
// decision before the pipeline may advance past them.
var approvalStages = map[string]map[StageKey]bool{
	"film":    {StageTreatment: true, StageScript: true},
	"series":  {StageEpisodeGrid: true},
	"trailer": {StageRender: true},
}

// LadderFor returns the ordered stage sequence for a format. Unknown
// formats resolve to the DefaultFormat ladder so a job can always be
// materialized. The result must not be mutated.
func LadderFor(format string) []StageKey {
	if l, ok := ladders[format]; ok {
		return l
	}
	return ladders[DefaultFormat]
}

// KnownFormats lists every registered format.
func KnownFormats() []string {
	out := make([]string, 0, len(ladders))
	for f := range ladders {
		out = append(out, f)
	}
	return out
}

// NextStage returns the stage after current for the format's ladder, or
// "" when current is the last stage or not on the ladder.
func NextStage(current StageKey, format string) StageKey {
	ladder := LadderFor(format)
	for i, s := range ladder {
		if s == current && i+1 < len(ladder) {
			return ladder[i+1]
		}
	}
	return ""
}

// StageRequiresApproval reports whether the stage is an approval gate for
// the format.
func StageRequiresApproval(format string, stage StageKey) bool {
	return approvalStages[format][stage]
}

// StageIndex returns the position of stage on the format's ladder, or -1.
func StageIndex(format string, stage StageKey) int {
	for i, s := range LadderFor(format) {
		if s == stage {
			return i
		}
	}
	return -1
}
