package calendar

import (
	gcal "google.golang.org/api/calendar/v3"
)

// Action is the single structural decision taken over one provider batch.
type Action string

const (
	ActionDeleteInstances Action = "DELETE_INSTANCES"
	ActionDeleteSeries    Action = "DELETE_SERIES"
	ActionSplitSeries     Action = "SPLIT_SERIES"
	ActionUpdateSeries    Action = "UPDATE_SERIES"
	ActionUpdateInstance  Action = "UPDATE_INSTANCE"
	ActionCreateSeries    Action = "CREATE_SERIES"
)

// Analysis is the classifier's verdict plus the payload fragments the
// processor needs to execute it.
type Analysis struct {
	Action Action

	// BaseEvent is the (possibly truncated) series root involved in the
	// change. Unset for DELETE_SERIES.
	BaseEvent *gcal.Event

	// NewBaseEvent is the continuing series of a split, when the provider
	// delivered it in the same batch.
	NewBaseEvent *gcal.Event

	// ModifiedInstance is the single occurrence an instance-level action
	// operates on.
	ModifiedInstance *gcal.Event

	// SplitDate is the UNTIL boundary of a split in RFC5545 zulu form.
	SplitDate string
}

// StoredRuleFunc looks up the locally stored rule for a provider series id.
// It is the classifier's only window into state: everything else is decided
// from the batch alone.
type StoredRuleFunc func(externalID string) ([]string, bool)

// Classify inspects one provider batch atomically and decides which of the
// six structural actions it represents. Providers deliver base-and-instance
// changes together for a single logical edit, so per-item classification
// would mis-read splits and truncations.
//
// The second return is false when the batch carries no recurring-event
// change at all (plain standalone upserts are not the classifier's concern).
//
// Priority order is fixed: DELETE_INSTANCES > DELETE_SERIES > SPLIT_SERIES >
// UPDATE_SERIES > UPDATE_INSTANCE > CREATE_SERIES. In particular a cancelled
// occurrence wins over a simultaneous rule truncation; that precedence is a
// product decision, not a derivable one.
func Classify(items []*gcal.Event, stored StoredRuleFunc) (*Analysis, bool) {
	if stored == nil {
		stored = func(string) ([]string, bool) { return nil, false }
	}

	var (
		cancelledInstance *gcal.Event
		cancelledRoot     *gcal.Event
		baseUpdates       []*gcal.Event
		instanceUpdate    *gcal.Event
	)

	for _, item := range items {
		switch {
		case item.Status == statusCancelled && item.RecurringEventId != "":
			if cancelledInstance == nil {
				cancelledInstance = item
			}
		case item.Status == statusCancelled:
			if cancelledRoot == nil {
				cancelledRoot = item
			}
		case item.RecurringEventId != "":
			if instanceUpdate == nil {
				instanceUpdate = item
			}
		case len(item.Recurrence) > 0:
			baseUpdates = append(baseUpdates, item)
		}
	}

	if cancelledInstance != nil {
		a := &Analysis{Action: ActionDeleteInstances, ModifiedInstance: cancelledInstance}
		if len(baseUpdates) > 0 {
			a.BaseEvent = baseUpdates[0]
		}
		return a, true
	}

	if cancelledRoot != nil {
		// A cancelled parent-less item is only a series deletion when a rule
		// is locally stored for it; otherwise it is a plain event removal and
		// not this classifier's concern.
		if _, known := stored(cancelledRoot.Id); known {
			return &Analysis{Action: ActionDeleteSeries}, true
		}
	}

	for _, base := range baseUpdates {
		storedRule, known := stored(base.Id)
		if !known {
			continue
		}
		newUntil, hasNewUntil := UntilFromLines(base.Recurrence)
		if hasNewUntil && untilMovedEarlier(storedRule, newUntil) {
			a := &Analysis{
				Action:    ActionSplitSeries,
				BaseEvent: base,
				SplitDate: newUntil,
			}
			a.NewBaseEvent = continuationBase(baseUpdates, base, stored)
			return a, true
		}
		return &Analysis{Action: ActionUpdateSeries, BaseEvent: base}, true
	}

	if instanceUpdate != nil && len(baseUpdates) == 0 {
		return &Analysis{Action: ActionUpdateInstance, ModifiedInstance: instanceUpdate}, true
	}

	if len(baseUpdates) > 0 {
		return &Analysis{Action: ActionCreateSeries, BaseEvent: baseUpdates[0]}, true
	}

	return nil, false
}

// untilMovedEarlier reports whether the incoming UNTIL introduces a boundary
// the stored rule lacked, or pulls an existing one earlier.
func untilMovedEarlier(storedRule []string, newUntil string) bool {
	oldRaw, hadUntil := UntilFromLines(storedRule)
	if !hadUntil {
		return true
	}
	if oldRaw == newUntil {
		return false
	}
	oldT, errOld := ParseUntil(oldRaw)
	newT, errNew := ParseUntil(newUntil)
	if errOld != nil || errNew != nil {
		return oldRaw != newUntil
	}
	return newT.Before(oldT)
}

// continuationBase finds the previously-unseen base in the batch that starts
// the second half of a split, if the provider delivered it alongside the
// truncation.
func continuationBase(bases []*gcal.Event, truncated *gcal.Event, stored StoredRuleFunc) *gcal.Event {
	for _, b := range bases {
		if b.Id == truncated.Id {
			continue
		}
		if _, known := stored(b.Id); !known {
			return b
		}
	}
	return nil
}
