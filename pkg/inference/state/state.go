package state

import (
	"fmt"
	"time"
)

// Kind is the coarse session state observed by UIs.
type Kind string

const (
	KindIdle            Kind = "Idle"
	KindLoading         Kind = "Loading"
	KindGenerating      Kind = "Generating"
	KindDecodingStream  Kind = "DecodingStream"
	KindExecutingTool   Kind = "ExecutingTool"
	KindDecodingTool    Kind = "DecodingTool"
	KindGeneratingTitle Kind = "GeneratingTitle"
	KindError           Kind = "Error"
	KindCancelled       Kind = "Cancelled"
)

// Stage is the position of a generation inside the pipeline.
type Stage string

const (
	StagePreparingPrompt Stage = "PreparingPrompt"
	StageEncodingInput   Stage = "EncodingInput"
	StageLoadingModel    Stage = "LoadingModel"
	StageDecoding        Stage = "Decoding"
	StageExecutingTool   Stage = "ExecutingTool"
	StageRendering       Stage = "Rendering"
)

var stageOrder = map[Stage]int{
	StagePreparingPrompt: 0,
	StageEncodingInput:   1,
	StageLoadingModel:    2,
	StageDecoding:        3,
	StageExecutingTool:   3,
	StageRendering:       4,
}

type State struct {
	Kind       Kind
	MessageID  string
	Message    string
	FirstToken bool
	StartedAt  time.Time
	Stage      Stage
	ToolName   string
	Retryable  bool
	Cause      error
}

func Idle() State {
	return State{Kind: KindIdle}
}

func Loading(message string) State {
	return State{Kind: KindLoading, Message: message}
}

func Generating(messageID string, firstToken bool) State {
	return State{Kind: KindGenerating, MessageID: messageID, FirstToken: firstToken}
}

func DecodingStream(messageID string, startedAt time.Time, stage Stage) State {
	return State{Kind: KindDecodingStream, MessageID: messageID, StartedAt: startedAt, Stage: stage}
}

func ExecutingTool(toolName string, messageID string) State {
	return State{Kind: KindExecutingTool, ToolName: toolName, MessageID: messageID, Stage: StageExecutingTool}
}

func DecodingTool(messageID string) State {
	return State{Kind: KindDecodingTool, MessageID: messageID}
}

func GeneratingTitle() State {
	return State{Kind: KindGeneratingTitle}
}

func Failed(message string, retryable bool, cause error) State {
	return State{Kind: KindError, Message: message, Retryable: retryable, Cause: cause}
}

func Cancelled(messageID string) State {
	return State{Kind: KindCancelled, MessageID: messageID}
}

// IsBusy reports whether a generation or tool is in flight.
func (s State) IsBusy() bool {
	switch s.Kind {
	case KindIdle, KindError, KindCancelled:
		return false
	default:
		return true
	}
}

func (s State) String() string {
	switch s.Kind {
	case KindDecodingStream:
		return fmt.Sprintf("%s(%s)", s.Kind, s.Stage)
	case KindExecutingTool:
		return fmt.Sprintf("%s(%s)", s.Kind, s.ToolName)
	case KindLoading, KindError:
		if s.Message != "" {
			return fmt.Sprintf("%s(%s)", s.Kind, s.Message)
		}
	}
	return string(s.Kind)
}

// canTransition encodes the allowed edges. Idle, Error and Cancelled are
// reachable from anywhere; stages of one generation only move forward,
// except for the Decoding/ExecutingTool loop.
func canTransition(from State, to State) bool {
	switch to.Kind {
	case KindIdle, KindError, KindCancelled:
		return true
	case KindLoading, KindGeneratingTitle:
		return !from.IsBusy() || from.Kind == to.Kind
	case KindDecodingStream:
		if from.Kind == KindDecodingStream && from.MessageID == to.MessageID {
			return stageOrder[to.Stage] >= stageOrder[from.Stage]
		}
		return true
	case KindGenerating:
		switch from.Kind {
		case KindDecodingStream, KindGenerating, KindExecutingTool, KindDecodingTool:
			return from.MessageID == to.MessageID
		}
		return false
	case KindExecutingTool, KindDecodingTool:
		switch from.Kind {
		case KindDecodingStream, KindGenerating, KindExecutingTool, KindDecodingTool:
			return true
		}
		return false
	}
	return false
}
