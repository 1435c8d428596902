// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dto

// SplitChanges is the body of GET /api/splitChanges?since={cn}.
type SplitChanges struct {
	FeatureFlags FeatureFlagsPayload `json:"ff"`
}

// FeatureFlagsPayload carries the delta (d), the since (s) it was computed
// from, and the next since (t) to use on the following request.
type FeatureFlagsPayload struct {
	Delta []Flag `json:"d"`
	Since int64  `json:"s"`
	Till  int64  `json:"t"`
}

// SegmentChanges is the body of GET /api/segmentChanges/{name}?since={cn}.
type SegmentChanges struct {
	Name    string   `json:"name"`
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Since   int64    `json:"since"`
	Till    int64    `json:"till"`
}

// NotificationType enumerates the SSE event kinds the streaming client
// parses out of a data: frame.
type NotificationType string

const (
	NotificationSplitUpdate  NotificationType = "SPLIT_UPDATE"
	NotificationSplitKill    NotificationType = "SPLIT_KILL"
	NotificationSegmentUpd   NotificationType = "SEGMENT_UPDATE"
	NotificationControl      NotificationType = "CONTROL"
	NotificationOccupancy    NotificationType = "OCCUPANCY"
)

// ControlType is the payload of a CONTROL notification.
type ControlType string

const (
	ControlStreamingPaused    ControlType = "STREAMING_PAUSED"
	ControlStreamingResumed   ControlType = "STREAMING_RESUMED"
	ControlStreamingDisabled  ControlType = "STREAMING_DISABLED"
)

// Notification is the decoded form of an SSE data: frame, regardless of
// kind - fields irrelevant to Type are left zero.
type Notification struct {
	Type             NotificationType `json:"type"`
	ChangeNumber     int64            `json:"changeNumber"`
	PreviousChangeNo int64            `json:"pcn"`
	FeatureName      string           `json:"featureName"`
	DefaultTreatment string           `json:"defaultTreatment"`
	SegmentName      string           `json:"segmentName"`
	Definition       *Flag            `json:"definition,omitempty"`
	ControlType      ControlType      `json:"controlType,omitempty"`
	Publishers       int              `json:"publishers,omitempty"`
	Channel          string           `json:"-"`
}
