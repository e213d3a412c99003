package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Failure kinds. Every error leaving a phase is tagged with exactly one of
// these so the orchestrator and the run log can classify it without string
// matching.
var (
	ErrInputMissing       = errors.New("input missing")
	ErrNoAudioTrack       = errors.New("no audio track")
	ErrDurationOutOfRange = errors.New("duration out of range")
	ErrTranscribeFailed   = errors.New("transcription failed")
	ErrPlanMalformed      = errors.New("plan malformed")
	ErrNoViableCandidates = errors.New("no viable candidates")
	ErrNoUsableInsertion  = errors.New("no usable insertion point")
	ErrNoAdAvailable      = errors.New("no ad available")
	ErrExternalTool       = errors.New("external tool error")
	ErrRemoteJob          = errors.New("remote job error")
	ErrTimeout            = errors.New("timeout")
	ErrComposeFailed      = errors.New("composition failed")
	ErrCancelled          = errors.New("cancelled")
	ErrConfiguration      = errors.New("configuration error")
	ErrTransient          = errors.New("transient failure")
)

// Wrap builds an error message carrying phase context while tagging it with
// the provided kind for later classification. The kind should be one of the
// exported sentinel errors above.
func Wrap(kind error, phase, operation, message string, err error) error {
	detail := buildDetail(phase, operation, message)
	if kind == nil {
		kind = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", kind, detail, err)
	}
	return fmt.Errorf("%w: %s", kind, detail)
}

// Kind reports the sentinel a wrapped error carries, or nil when the error
// was not produced through Wrap. Context cancellation maps to ErrCancelled
// even when the cancellation surfaced through an untagged error.
func Kind(err error) error {
	for _, kind := range []error{
		ErrInputMissing,
		ErrNoAudioTrack,
		ErrDurationOutOfRange,
		ErrTranscribeFailed,
		ErrPlanMalformed,
		ErrNoViableCandidates,
		ErrNoUsableInsertion,
		ErrNoAdAvailable,
		ErrExternalTool,
		ErrRemoteJob,
		ErrTimeout,
		ErrComposeFailed,
		ErrCancelled,
		ErrConfiguration,
		ErrTransient,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	if errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	return nil
}

// Terminal reports whether retrying the same input could ever help. Tool,
// remote and timeout failures may clear up on a later attempt; everything
// else is a property of the input, the catalog or the configuration and
// stays broken.
func Terminal(err error) bool {
	switch Kind(err) {
	case ErrExternalTool, ErrRemoteJob, ErrTimeout, ErrTransient, nil:
		return false
	default:
		return true
	}
}

// KindLabel returns a short machine-friendly label for the error's kind,
// suitable for the run log and structured logs.
func KindLabel(err error) string {
	switch Kind(err) {
	case ErrInputMissing:
		return "input_missing"
	case ErrNoAudioTrack:
		return "no_audio_track"
	case ErrDurationOutOfRange:
		return "duration_out_of_range"
	case ErrTranscribeFailed:
		return "transcribe_failed"
	case ErrPlanMalformed:
		return "plan_malformed"
	case ErrNoViableCandidates:
		return "no_viable_candidates"
	case ErrNoUsableInsertion:
		return "no_usable_insertion"
	case ErrNoAdAvailable:
		return "no_ad_available"
	case ErrExternalTool:
		return "external_tool"
	case ErrRemoteJob:
		return "remote_job"
	case ErrTimeout:
		return "timeout"
	case ErrComposeFailed:
		return "compose_failed"
	case ErrCancelled:
		return "cancelled"
	case ErrConfiguration:
		return "configuration"
	case ErrTransient:
		return "transient"
	default:
		return "unknown"
	}
}

func buildDetail(phase, operation, message string) string {
	parts := make([]string, 0, 3)
	if phase = strings.TrimSpace(phase); phase != "" {
		parts = append(parts, phase)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}
