package inbox

// DispositionStrategy computes a disposition for one topic from the quick
// classification and the deep analysis result (nil when the topic skipped
// deep analysis). Strategies are pure functions.
type DispositionStrategy func(c ClassificationResult, deep *DeepAnalysisResult) Disposition

// DispositionEngine maps analysis outcomes to a final disposition. It is a
// total function: every input combination yields exactly one disposition,
// with flag_for_action as the safe default for anything unrecognized. New
// topics plug in through the strategy registry.
type DispositionEngine struct {
	strategies map[string]DispositionStrategy
}

// NewDispositionEngine creates an engine with the built-in topic strategies
// registered.
func NewDispositionEngine() *DispositionEngine {
	e := &DispositionEngine{strategies: make(map[string]DispositionStrategy)}
	e.Register(TopicMeeting, meetingStrategy)
	return e
}

// Register installs the strategy for a topic tag, replacing any previous one.
func (e *DispositionEngine) Register(topic string, s DispositionStrategy) {
	e.strategies[topic] = s
}

// Decide maps the analysis outcomes to a final disposition.
//
// Rule order: a terminal analysis error from either stage maps to
// flag_for_action so failures always surface for human review; otherwise the
// topic's registered strategy decides; topics without a strategy fall back to
// the quick classification's suggestion.
func (e *DispositionEngine) Decide(c ClassificationResult, deep *DeepAnalysisResult) Disposition {
	if c.Failed() || (deep != nil && deep.Failed()) {
		return DispositionFlag
	}

	if s, ok := e.strategies[c.Topic]; ok {
		return clampDisposition(s(c, deep))
	}

	return clampDisposition(c.Suggested)
}

// meetingStrategy lets a present deep-analysis decision override the quick
// classification's suggestion.
func meetingStrategy(c ClassificationResult, deep *DeepAnalysisResult) Disposition {
	if deep != nil {
		return deep.Decision
	}
	return c.Suggested
}

// clampDisposition collapses anything outside the defined action set, and the
// error disposition itself, to flag_for_action. "error" is reserved for
// pipeline failures and must never come out of analysis.
func clampDisposition(d Disposition) Disposition {
	if !d.Valid() || d == DispositionError {
		return DispositionFlag
	}
	return d
}
