package ticket

import "fmt"

// State is a ticket's position in the ticket-to-PR workflow.
type State string

const (
	StateTriggered            State = "Triggered"
	StateAnalyzing            State = "Analyzing"
	StateQuestionsPosted      State = "QuestionsPosted"
	StateAwaitingAnswers      State = "AwaitingAnswers"
	StateAnswersReceived      State = "AnswersReceived"
	StatePlanning             State = "Planning"
	StatePlanPosted           State = "PlanPosted"
	StatePlanUnderReview      State = "PlanUnderReview"
	StatePlanApproved         State = "PlanApproved"
	StatePlanRejected         State = "PlanRejected"
	StateImplementing         State = "Implementing"
	StateImplementationFailed State = "ImplementationFailed"
	StatePRCreated            State = "PRCreated"
	StateInReview             State = "InReview"
	StateCompleted            State = "Completed"
	StateCancelled            State = "Cancelled"
	StateFailed               State = "Failed"
)

// AllStates lists every workflow state in lifecycle order.
var AllStates = []State{
	StateTriggered,
	StateAnalyzing,
	StateQuestionsPosted,
	StateAwaitingAnswers,
	StateAnswersReceived,
	StatePlanning,
	StatePlanPosted,
	StatePlanUnderReview,
	StatePlanApproved,
	StatePlanRejected,
	StateImplementing,
	StateImplementationFailed,
	StatePRCreated,
	StateInReview,
	StateCompleted,
	StateCancelled,
	StateFailed,
}

func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

func (s State) String() string {
	return string(s)
}

func ParseState(v string) (State, error) {
	for _, s := range AllStates {
		if string(s) == v {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown workflow state %q", v)
}
