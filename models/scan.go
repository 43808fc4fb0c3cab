package models

// Platform identifies a supported giveaway host.
type Platform string

const (
	PlatformGleam Platform = "gleam"
	PlatformWnnr  Platform = "wnnr"
)

// CandidateLink is a normalized giveaway URL found during one scan pass.
type CandidateLink struct {
	URL      string
	Platform Platform
	Title    string
	Source   string
}

// Trigger says who started a scan.
type Trigger int

const (
	TriggerBackground Trigger = iota
	TriggerManual
)

func (t Trigger) String() string {
	if t == TriggerManual {
		return "manual"
	}
	return "background"
}

// Action is a per-channel daily manual action.
type Action string

const (
	ActionScan    Action = "scan"
	ActionPreview Action = "preview"
)

// ScanResult summarizes one scan of one channel.
type ScanResult struct {
	ChannelID        string
	NewLinks         []CandidateLink // posted, or would be posted in preview mode
	SkippedDuplicate int
	SkippedFiltered  int
	SourcesFetched   int
	SourcesFailed    int
	Errors           []error // per-source and per-link failures, never fatal
}
