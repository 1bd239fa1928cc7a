package testutils

// System events.

type MilestoneSystemEvent struct{ Value int }

func (MilestoneSystemEvent) Name() string { return "milestone" }

type OverflowSystemEvent struct{ Value int }

func (OverflowSystemEvent) Name() string { return "overflow" }

type InvalidEmptySystemEvent struct{}

func (InvalidEmptySystemEvent) Name() string { return "" }

// Local state.

type Counter struct{ Count uint32 }

// ClashingMilestoneSystemEvent reuses the name of MilestoneSystemEvent.
type ClashingMilestoneSystemEvent struct{ Label string }

func (ClashingMilestoneSystemEvent) Name() string { return "milestone" }
