package novel

import (
	"context"

	"github.com/dshills/storygraph/graph"
	"github.com/dshills/storygraph/graph/emit"
)

// Node IDs.
const (
	NodeGenerateOutlineOptions   = "generate_outline_options"
	NodeSelectOutline            = "select_outline"
	NodeGenerateWorldviewOptions = "generate_worldview_options"
	NodeSelectWorldview          = "select_worldview"
	NodeGeneratePlot             = "generate_plot"
	NodeGenerateCharacterOptions = "generate_character_options"
	NodeSelectCharacters         = "select_characters"
	NodeSeedKnowledgeBase        = "seed_knowledge_base"
	NodePlanMutationCheck        = "plan_mutation_check"
	NodeGenerateBranchOptions    = "generate_branch_options"
	NodeApplyPlotBranch          = "apply_plot_branch"
	NodeRegeneratePlotSegment    = "regenerate_plot_segment"
	NodeSynthesizeContext        = "synthesize_chapter_context"
	NodeDraftChapter             = "draft_chapter"
	NodeScoreChapter             = "score_chapter_quality"
	NodeDetectConflicts          = "detect_conflicts"
	NodeAutoResolveConflicts     = "auto_resolve_conflicts"
	NodePrepareConflictReview    = "prepare_conflict_review"
	NodeReviewGate               = "review_gate"
	NodePrepareManualReview      = "prepare_manual_review"
	NodeUpdateKnowledgeBase      = "update_knowledge_base"
	NodeAdvanceChapter           = "advance_chapter"
	NodeTwistCheck               = "twist_check"
	NodeGenerateTwistOptions     = "generate_twist_options"
	NodeApplyPlotTwist           = "apply_plot_twist"
	NodeFinalize                 = "finalize"
)

// Edge labels.
const (
	LabelSelected         = "selected"
	LabelPaused           = "paused"
	LabelOfferBranch      = "offer_branch"
	LabelRegeneratePlot   = "regenerate_plot"
	LabelSkipRegeneration = "skip_regeneration"
	LabelContinueLoop     = "continue_loop"
	LabelEndLoop          = "end_loop"
	LabelEndLoopOnSafety  = "end_loop_on_safety"
	LabelRetryChapter     = "retry_chapter"
	LabelProceed          = "proceed"
	LabelProceedIncrement = "proceed_to_increment"
	LabelResolveAuto      = "resolve_conflicts_auto"
	LabelConflictPending  = "human_remote_conflict_pending"
	LabelResolved         = "resolved"
	LabelManualReview     = "manual_review"
	LabelReviewed         = "reviewed"
	LabelOfferTwist       = "offer_twist"
	LabelSkipTwist        = "skip_twist"
)

// StartNode is where a new job enters the graph.
const StartNode = NodeGenerateOutlineOptions

// edgeTable is the complete routing of the pipeline.
var edgeTable = []graph.Edge{
	{From: NodeGenerateOutlineOptions, To: NodeSelectOutline},
	{From: NodeSelectOutline, Label: LabelSelected, To: NodeGenerateWorldviewOptions},
	{From: NodeSelectOutline, Label: LabelPaused, To: graph.End},
	{From: NodeGenerateWorldviewOptions, To: NodeSelectWorldview},
	{From: NodeSelectWorldview, Label: LabelSelected, To: NodeGeneratePlot},
	{From: NodeSelectWorldview, Label: LabelPaused, To: graph.End},
	{From: NodeGeneratePlot, To: NodeGenerateCharacterOptions},
	{From: NodeGenerateCharacterOptions, To: NodeSelectCharacters},
	{From: NodeSelectCharacters, Label: LabelSelected, To: NodeSeedKnowledgeBase},
	{From: NodeSelectCharacters, Label: LabelPaused, To: graph.End},
	{From: NodeSeedKnowledgeBase, To: NodePlanMutationCheck},

	{From: NodePlanMutationCheck, Label: LabelOfferBranch, To: NodeGenerateBranchOptions},
	{From: NodePlanMutationCheck, Label: LabelRegeneratePlot, To: NodeRegeneratePlotSegment},
	{From: NodePlanMutationCheck, Label: LabelSkipRegeneration, To: NodeSynthesizeContext},
	{From: NodeGenerateBranchOptions, To: NodeApplyPlotBranch},
	{From: NodeApplyPlotBranch, Label: LabelSelected, To: NodePlanMutationCheck},
	{From: NodeApplyPlotBranch, Label: LabelPaused, To: graph.End},
	{From: NodeRegeneratePlotSegment, Label: LabelContinueLoop, To: NodeSynthesizeContext},
	{From: NodeRegeneratePlotSegment, Label: LabelEndLoop, To: NodeFinalize},
	{From: NodeRegeneratePlotSegment, Label: LabelEndLoopOnSafety, To: NodeFinalize},

	{From: NodeSynthesizeContext, To: NodeDraftChapter},
	{From: NodeDraftChapter, To: NodeScoreChapter},
	{From: NodeScoreChapter, Label: LabelRetryChapter, To: NodeSynthesizeContext},
	{From: NodeScoreChapter, Label: LabelProceed, To: NodeDetectConflicts},
	{From: NodeDetectConflicts, Label: LabelProceedIncrement, To: NodeReviewGate},
	{From: NodeDetectConflicts, Label: LabelResolveAuto, To: NodeAutoResolveConflicts},
	{From: NodeDetectConflicts, Label: LabelConflictPending, To: NodePrepareConflictReview},
	{From: NodeAutoResolveConflicts, To: NodeReviewGate},
	{From: NodePrepareConflictReview, Label: LabelResolved, To: NodeReviewGate},
	{From: NodePrepareConflictReview, Label: LabelPaused, To: graph.End},
	{From: NodeReviewGate, Label: LabelManualReview, To: NodePrepareManualReview},
	{From: NodeReviewGate, Label: LabelProceedIncrement, To: NodeUpdateKnowledgeBase},
	{From: NodePrepareManualReview, Label: LabelReviewed, To: NodeUpdateKnowledgeBase},
	{From: NodePrepareManualReview, Label: LabelPaused, To: graph.End},
	{From: NodeUpdateKnowledgeBase, To: NodeAdvanceChapter},
	{From: NodeAdvanceChapter, Label: LabelContinueLoop, To: NodeTwistCheck},
	{From: NodeAdvanceChapter, Label: LabelEndLoop, To: NodeFinalize},
	{From: NodeAdvanceChapter, Label: LabelEndLoopOnSafety, To: NodeFinalize},

	{From: NodeTwistCheck, Label: LabelOfferTwist, To: NodeGenerateTwistOptions},
	{From: NodeTwistCheck, Label: LabelSkipTwist, To: NodePlanMutationCheck},
	{From: NodeGenerateTwistOptions, To: NodeApplyPlotTwist},
	{From: NodeApplyPlotTwist, Label: LabelSelected, To: NodePlanMutationCheck},
	{From: NodeApplyPlotTwist, Label: LabelPaused, To: graph.End},
}

// EdgeTable returns a copy of the pipeline's routing table.
func EdgeTable() []graph.Edge {
	return append([]graph.Edge(nil), edgeTable...)
}

// buildEngine registers every node, router and edge of the pipeline.
func buildEngine(p *pipeline, recorder graph.StepRecorder[State], emitter emit.Emitter, opts ...graph.Option) (*graph.Engine[State], error) {
	engine, err := graph.New(graph.Replace[State], recorder, emitter, opts...)
	if err != nil {
		return nil, err
	}

	nodes := []struct {
		id  string
		run func(context.Context, State) graph.NodeResult[State]
	}{
		{NodeGenerateOutlineOptions, p.generateOutlineOptions},
		{NodeSelectOutline, p.selectOutline},
		{NodeGenerateWorldviewOptions, p.generateWorldviewOptions},
		{NodeSelectWorldview, p.selectWorldview},
		{NodeGeneratePlot, p.generatePlot},
		{NodeGenerateCharacterOptions, p.generateCharacterOptions},
		{NodeSelectCharacters, p.selectCharacters},
		{NodeSeedKnowledgeBase, p.seedKnowledgeBase},
		{NodePlanMutationCheck, p.planMutationCheck},
		{NodeGenerateBranchOptions, p.generateBranchOptions},
		{NodeApplyPlotBranch, p.applyPlotBranch},
		{NodeRegeneratePlotSegment, p.regeneratePlotSegment},
		{NodeSynthesizeContext, p.synthesizeChapterContext},
		{NodeDraftChapter, p.draftChapter},
		{NodeScoreChapter, p.scoreChapterQuality},
		{NodeDetectConflicts, p.detectConflicts},
		{NodeAutoResolveConflicts, p.autoResolveConflicts},
		{NodePrepareConflictReview, p.prepareConflictReview},
		{NodeReviewGate, p.reviewGate},
		{NodePrepareManualReview, p.prepareManualReview},
		{NodeUpdateKnowledgeBase, p.updateKnowledgeBase},
		{NodeAdvanceChapter, p.advanceChapter},
		{NodeTwistCheck, p.twistCheck},
		{NodeGenerateTwistOptions, p.generateTwistOptions},
		{NodeApplyPlotTwist, p.applyPlotTwist},
		{NodeFinalize, p.finalize},
	}
	for _, n := range nodes {
		if err := engine.Add(n.id, step(n.id, n.run)); err != nil {
			return nil, err
		}
	}

	routers := map[string]graph.Router[State]{
		NodeSelectOutline:         routeSelection,
		NodeSelectWorldview:       routeSelection,
		NodeSelectCharacters:      routeSelection,
		NodePlanMutationCheck:     routePlanMutation,
		NodeApplyPlotBranch:       routeSelection,
		NodeRegeneratePlotSegment: routeContinuation,
		NodeScoreChapter:          routeQualityGate,
		NodeDetectConflicts:       routeConflicts,
		NodePrepareConflictReview: routeConflictReview,
		NodeReviewGate:            routeReviewGate,
		NodePrepareManualReview:   routeManualReview,
		NodeAdvanceChapter:        routeContinuation,
		NodeTwistCheck:            routeTwist,
		NodeApplyPlotTwist:        routeSelection,
	}
	for id, r := range routers {
		if err := engine.AddRouter(id, r); err != nil {
			return nil, err
		}
	}

	for _, e := range edgeTable {
		if err := engine.Connect(e.From, e.Label, e.To); err != nil {
			return nil, err
		}
	}
	if err := engine.StartAt(StartNode); err != nil {
		return nil, err
	}
	if err := engine.Validate(); err != nil {
		return nil, err
	}
	return engine, nil
}

// step stamps the node ID into the state it returns.
func step(id string, run func(context.Context, State) graph.NodeResult[State]) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		res := run(ctx, s)
		if res.Err == nil {
			res.Delta.CurrentStep = id
		}
		return res
	}
}
