package novel

// Routers are pure functions of State. Counters and flags they read are
// maintained by the nodes.

func routeSelection(s State) string {
	if s.Status.Kind == StatusPaused {
		return LabelPaused
	}
	return LabelSelected
}

func routeConflictReview(s State) string {
	if s.Status.Kind == StatusPaused {
		return LabelPaused
	}
	return LabelResolved
}

func routeManualReview(s State) string {
	if s.Status.Kind == StatusPaused {
		return LabelPaused
	}
	return LabelReviewed
}

// routeQualityGate follows the decision score_chapter_quality recorded.
func routeQualityGate(s State) string {
	if s.RetryRequested {
		return LabelRetryChapter
	}
	return LabelProceed
}

// routeContinuation decides whether the chapter loop goes on. Completion
// wins over the safety cap so a job that finishes exactly at the cap is
// not reported as a safety stop.
func routeContinuation(s State) string {
	switch {
	case s.CurrentChapter > s.TotalChapters:
		return LabelEndLoop
	case s.LoopIterationCount >= s.MaxLoopIterations:
		return LabelEndLoopOnSafety
	default:
		return LabelContinueLoop
	}
}

func routeConflicts(s State) string {
	switch {
	case s.openConflicts() == 0:
		return LabelProceedIncrement
	case s.Config.AutoMode:
		return LabelResolveAuto
	case s.Config.InteractionMode == InteractionRemote:
		return LabelConflictPending
	default:
		return LabelProceedIncrement
	}
}

func routeReviewGate(s State) string {
	if s.Config.ManualReview && !s.Config.AutoMode {
		return LabelManualReview
	}
	return LabelProceedIncrement
}

func routePlanMutation(s State) string {
	switch {
	case branchDue(s):
		return LabelOfferBranch
	case s.NeedsPlotRegeneration:
		return LabelRegeneratePlot
	default:
		return LabelSkipRegeneration
	}
}

func routeTwist(s State) string {
	if twistDue(s) {
		return LabelOfferTwist
	}
	return LabelSkipTwist
}

// branchDue reports whether a branch should be offered before the current
// chapter is drafted.
func branchDue(s State) bool {
	k := s.Config.BranchAtChapter
	return k > 0 && !s.BranchHandled && !s.NeedsPlotRegeneration &&
		s.CurrentChapter == k && k <= s.TotalChapters
}

// twistDue reports whether a twist should be offered now that chapter
// TwistAtChapter has been accepted. A twist after the last chapter has
// nothing to change.
func twistDue(s State) bool {
	k := s.Config.TwistAtChapter
	return k > 0 && !s.TwistHandled && s.CurrentChapter-1 == k && k < s.TotalChapters
}
