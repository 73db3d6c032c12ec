package model

import "time"

// ActivityKind names a suspicious browser-level event.
type ActivityKind string

const (
	ActivityCopy           ActivityKind = "copy"
	ActivityCut            ActivityKind = "cut"
	ActivityPaste          ActivityKind = "paste"
	ActivitySelectAll      ActivityKind = "select_all"
	ActivityDevTools       ActivityKind = "devtools"
	ActivityTabSwitch      ActivityKind = "tab_switch"
	ActivityFullscreenExit ActivityKind = "fullscreen_exit"
)

// ActivityEvent is one entry of the suspicious-activity log.
type ActivityEvent struct {
	Kind      ActivityKind `json:"kind"`
	Timestamp time.Time    `json:"timestamp"`
}
